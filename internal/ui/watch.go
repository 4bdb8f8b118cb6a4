// Package ui renders the live run watch view.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/store"
)

// WatchModel polls a run and renders its progress until it reaches a
// terminal state.
type WatchModel struct {
	store  *store.Store
	runID  string
	run    *playbook.Run
	err    error
	spin   spinner.Model
	styles *Styles
	done   bool
}

type runMsg struct {
	run *playbook.Run
	err error
}

type pollTick struct{}

// NewWatchModel creates a watch view for the given run.
func NewWatchModel(st *store.Store, runID string) *WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &WatchModel{
		store:  st,
		runID:  runID,
		spin:   s,
		styles: NewStyles(),
	}
}

func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll())
}

func (m *WatchModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		run, err := m.store.GetRun(ctx, m.runID)
		return runMsg{run: run, err: err}
	}
}

func schedulePoll() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return pollTick{}
	})
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case runMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.run = msg.run
		if m.run.State.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, schedulePoll()

	case pollTick:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *WatchModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Header.Render("rehearse run "+m.runID) + "\n")

	if m.err != nil {
		b.WriteString(m.styles.ErrorBox.Render(fmt.Sprintf("error: %v", m.err)) + "\n")
		return b.String()
	}
	if m.run == nil {
		b.WriteString(m.spin.View() + " loading\n")
		return b.String()
	}

	badge, ok := m.styles.StateBadge[string(m.run.State)]
	if !ok {
		badge = m.styles.Muted
	}
	b.WriteString(badge.Render(string(m.run.State)))
	if !m.run.State.Terminal() {
		b.WriteString(" " + m.spin.View())
	}
	b.WriteString("\n\n")

	if m.run.Result != nil {
		for _, o := range m.run.Result.Outcomes {
			b.WriteString(m.renderOutcome(o) + "\n")
		}
	}

	switch {
	case m.run.State == playbook.RunSucceeded:
		b.WriteString(m.styles.SuccessBox.Render("run succeeded") + "\n")
	case m.run.State == playbook.RunFailed:
		b.WriteString(m.styles.ErrorBox.Render(m.run.Error) + "\n")
	case m.run.State == playbook.RunCancelled:
		b.WriteString(m.styles.Muted.Render("run cancelled") + "\n")
	default:
		b.WriteString(m.styles.Muted.Render("press q to stop watching") + "\n")
	}

	return b.String()
}

func (m *WatchModel) renderOutcome(o playbook.StepOutcome) string {
	switch o.Status {
	case playbook.StepSucceeded:
		return m.styles.StepOK.Render(fmt.Sprintf("  ✓ step %d (%s)", o.Index, o.Duration.Round(time.Millisecond)))
	case playbook.StepFailed:
		line := fmt.Sprintf("  ✗ step %d: %s (attempts: %d)", o.Index, o.Reason, o.Attempts)
		if o.Screenshot != "" {
			line += "\n    screenshot: " + o.Screenshot
		}
		return m.styles.StepFail.Render(line)
	case playbook.StepSkipped:
		return m.styles.StepSkip.Render(fmt.Sprintf("  - step %d skipped", o.Index))
	default:
		return m.styles.Muted.Render(fmt.Sprintf("  ? step %d", o.Index))
	}
}

// Watch runs the watch view until the run finishes or the user quits.
func Watch(st *store.Store, runID string) error {
	p := tea.NewProgram(NewWatchModel(st, runID))
	_, err := p.Run()
	return err
}
