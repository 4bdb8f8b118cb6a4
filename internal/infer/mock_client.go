package infer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// mockClient is a heuristic inference client for testing and offline
// use. It labels what it can from action shapes alone and leaves the
// rest unlabeled.
type mockClient struct {
	// skipSelectors lists element paths the mock refuses to label,
	// letting tests exercise the raw-replay fallback.
	skipSelectors map[string]bool
}

func newMockClient(options map[string]interface{}) (Client, error) {
	m := &mockClient{skipSelectors: make(map[string]bool)}
	if skip, ok := options["skip_selectors"].([]string); ok {
		for _, s := range skip {
			m.skipSelectors[s] = true
		}
	}
	return m, nil
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
var numberRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

func (m *mockClient) InferSteps(ctx context.Context, actions []playbook.NormalizedAction) (*Inference, error) {
	inference := &Inference{}
	paramSeq := 0

	for i, a := range actions {
		if m.skipSelectors[a.Target.Selector] {
			inference.Unlabeled = append(inference.Unlabeled, i)
			continue
		}

		label := StepLabel{
			ActionIndexes: []int{i},
			Confidence:    0.8,
		}

		switch a.Kind {
		case playbook.ActionClick:
			label.Kind = playbook.StepClick
			label.Title = fmt.Sprintf("Click %s", describeTarget(a.Target))
		case playbook.ActionTypeText:
			label.Kind = playbook.StepTypeText
			label.Title = fmt.Sprintf("Type into %s", describeTarget(a.Target))
			if name, ptype, ok := parameterFor(a, &paramSeq); ok {
				label.Parameters = []ParameterCandidate{{Name: name, Type: ptype, ActionIndex: i}}
			}
		case playbook.ActionKeyCombo:
			label.Kind = playbook.StepKeyCombo
			label.Title = fmt.Sprintf("Press %s", a.Value)
		case playbook.ActionScroll:
			label.Kind = playbook.StepScroll
			label.Title = "Scroll the page"
		case playbook.ActionFocus:
			label.Kind = playbook.StepWaitFor
			label.Title = fmt.Sprintf("Switch to %s", a.Target.ApplicationID)
		default:
			inference.Unlabeled = append(inference.Unlabeled, i)
			continue
		}

		inference.Steps = append(inference.Steps, label)
	}

	return inference, nil
}

// parameterFor decides whether a typed value looks like a variable
// input, mirroring the shapes the real providers are prompted to spot.
func parameterFor(a playbook.NormalizedAction, seq *int) (string, playbook.ParamType, bool) {
	sel := strings.ToLower(a.Target.Selector)
	switch {
	case strings.Contains(sel, "password") || strings.Contains(sel, "secret") || strings.Contains(sel, "token"):
		return fieldName(sel, "password", seq), playbook.ParamCredential, true
	case emailRe.MatchString(a.Value):
		return fieldName(sel, "email", seq), playbook.ParamText, true
	case numberRe.MatchString(a.Value):
		return fieldName(sel, "amount", seq), playbook.ParamNumber, true
	case strings.HasPrefix(a.Value, "/") || strings.HasPrefix(a.Value, "~/"):
		return fieldName(sel, "path", seq), playbook.ParamFilePath, true
	case strings.Contains(sel, "user") || strings.Contains(sel, "name") || strings.Contains(sel, "search"):
		return fieldName(sel, "text", seq), playbook.ParamText, true
	}
	return "", "", false
}

var identRe = regexp.MustCompile(`[a-z][a-z0-9_]*`)

func fieldName(selector, fallback string, seq *int) string {
	for _, m := range identRe.FindAllString(selector, -1) {
		switch m {
		case "input", "field", "form", "div", "id", "name", "data", "testid", "type":
			continue
		}
		return m
	}
	*seq++
	return fmt.Sprintf("%s_%d", fallback, *seq)
}

func describeTarget(t playbook.ResolvedTarget) string {
	if t.Selector != "" {
		return t.Selector
	}
	return fmt.Sprintf("(%.0f,%.0f)", t.X, t.Y)
}
