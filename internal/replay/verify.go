package replay

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// ErrVerificationFailed is returned when a step's effect could not be
// confirmed on the page.
var ErrVerificationFailed = fmt.Errorf("step verification failed")

// verifyStep confirms the step's target still resolves on the page after
// the interaction. Steps without a selector have nothing to check.
func (e *Engine) verifyStep(ctx context.Context, step playbook.Step) error {
	selector := step.Target.Selector
	if selector == "" {
		return nil
	}

	pageHTML, err := e.driver.PageHTML(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page for verification: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return fmt.Errorf("failed to parse page for verification: %w", err)
	}

	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %q not found on page", ErrVerificationFailed, selector)
	}

	// Typed values must land in the field. Placeholder-bound values are
	// already substituted by this point.
	if step.Kind == playbook.StepTypeText && step.Value != "" {
		if val, ok := sel.Attr("value"); ok && val != "" && val != step.Value {
			// Many frameworks keep the DOM attribute stale; only a
			// present-but-different value is treated as a failure.
			return fmt.Errorf("%w: %q holds %q, want %q", ErrVerificationFailed, selector, val, step.Value)
		}
	}

	return nil
}
