// Package replay executes bound playbooks against a live browser session.
package replay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// Driver performs the primitive browser interactions replay is built on.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, target playbook.ResolvedTarget) error
	TypeText(ctx context.Context, target playbook.ResolvedTarget, text string) error
	KeyCombo(ctx context.Context, combo string) error
	Scroll(ctx context.Context, target playbook.ResolvedTarget, dx, dy float64) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	PageHTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// Literal dispatch, used when a step degraded to raw replay.
	MouseClickXY(ctx context.Context, x, y float64) error
	KeyEvent(ctx context.Context, key string, modifiers []string) error
}

// chromedpDriver drives a chromedp browser context.
type chromedpDriver struct {
	browserCtx context.Context
}

// NewChromedpDriver wraps a session's browser context.
func NewChromedpDriver(browserCtx context.Context) Driver {
	return &chromedpDriver{browserCtx: browserCtx}
}

func (d *chromedpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeDeadline(d.browserCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (d *chromedpDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *chromedpDriver) Click(ctx context.Context, target playbook.ResolvedTarget) error {
	if target.Selector == "" {
		return d.MouseClickXY(ctx, target.X, target.Y)
	}
	return d.run(ctx, chromedp.Click(target.Selector, chromedp.ByQuery))
}

func (d *chromedpDriver) TypeText(ctx context.Context, target playbook.ResolvedTarget, text string) error {
	if target.Selector == "" {
		return fmt.Errorf("type_text requires a selector")
	}
	return d.run(ctx,
		chromedp.Focus(target.Selector, chromedp.ByQuery),
		chromedp.SendKeys(target.Selector, text, chromedp.ByQuery),
	)
}

func (d *chromedpDriver) KeyCombo(ctx context.Context, combo string) error {
	keys, err := comboToKeys(combo)
	if err != nil {
		return err
	}
	return d.run(ctx, chromedp.KeyEvent(keys))
}

func (d *chromedpDriver) Scroll(ctx context.Context, target playbook.ResolvedTarget, dx, dy float64) error {
	script := fmt.Sprintf("window.scrollBy(%g, %g)", dx, dy)
	if target.Selector != "" {
		script = fmt.Sprintf(
			`(() => { const el = document.querySelector(%q); if (el) el.scrollBy(%g, %g); else window.scrollBy(%g, %g); })()`,
			target.Selector, dx, dy, dx, dy)
	}
	return d.run(ctx, chromedp.Evaluate(script, nil))
}

func (d *chromedpDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *chromedpDriver) PageHTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (d *chromedpDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, chromedp.FullScreenshot(&buf, 90))
	return buf, err
}

func (d *chromedpDriver) MouseClickXY(ctx context.Context, x, y float64) error {
	return d.run(ctx, chromedp.MouseClickXY(x, y))
}

func (d *chromedpDriver) KeyEvent(ctx context.Context, key string, modifiers []string) error {
	var mod input.Modifier
	for _, m := range modifiers {
		switch strings.ToLower(m) {
		case "control", "ctrl":
			mod |= input.ModifierCtrl
		case "alt":
			mod |= input.ModifierAlt
		case "meta", "cmd":
			mod |= input.ModifierCommand
		case "shift":
			mod |= input.ModifierShift
		}
	}
	keys, err := comboToKeys(key)
	if err != nil {
		return err
	}
	return d.run(ctx, chromedp.KeyEvent(keys, chromedp.KeyModifiers(mod)))
}

// comboToKeys translates a "ctrl+s" style combo into the key sequence
// chromedp expects.
func comboToKeys(combo string) (string, error) {
	parts := strings.Split(combo, "+")
	var out strings.Builder
	for _, part := range parts {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "control", "ctrl":
			out.WriteString(kb.Control)
		case "alt":
			out.WriteString(kb.Alt)
		case "meta", "cmd", "command":
			out.WriteString(kb.Meta)
		case "shift":
			out.WriteString(kb.Shift)
		case "enter", "return":
			out.WriteString(kb.Enter)
		case "tab":
			out.WriteString(kb.Tab)
		case "escape", "esc":
			out.WriteString(kb.Escape)
		case "backspace":
			out.WriteString(kb.Backspace)
		case "delete":
			out.WriteString(kb.Delete)
		case "":
			return "", fmt.Errorf("empty key in combo %q", combo)
		default:
			out.WriteString(strings.TrimSpace(part))
		}
	}
	return out.String(), nil
}

func mergeDeadline(base, caller context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := caller.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}
