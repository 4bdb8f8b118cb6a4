package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles holds the styling for the run watch view
type Styles struct {
	Header     lipgloss.Style
	StateBadge map[string]lipgloss.Style
	StepOK     lipgloss.Style
	StepFail   lipgloss.Style
	StepSkip   lipgloss.Style
	Muted      lipgloss.Style
	ErrorBox   lipgloss.Style
	SuccessBox lipgloss.Style
}

// NewStyles creates a new styles instance
func NewStyles() *Styles {
	badge := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color(color)).
			Padding(0, 1)
	}

	return &Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 2).
			MarginBottom(1),

		StateBadge: map[string]lipgloss.Style{
			"QUEUED":    badge("#626262"),
			"RUNNING":   badge("#FF8C00"),
			"SUCCEEDED": badge("#04B575"),
			"FAILED":    badge("#FF5F87"),
			"CANCELLED": badge("#874BFD"),
		},

		StepOK: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")),

		StepFail: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")),

		StepSkip: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")),

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")),

		ErrorBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF5F87")).
			Foreground(lipgloss.Color("#FF5F87")).
			Padding(0, 1).
			MarginTop(1),

		SuccessBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#04B575")).
			Foreground(lipgloss.Color("#04B575")).
			Padding(0, 1).
			MarginTop(1),
	}
}
