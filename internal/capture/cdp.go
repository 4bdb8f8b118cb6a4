package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// collectorJS installs page-level listeners that buffer input events in
// window.__rehearseEvents until the recorder drains them. Listeners run in
// the capture phase so handlers that stop propagation cannot hide events.
const collectorJS = `
(() => {
	if (window.__rehearseEvents) return true;
	window.__rehearseEvents = [];

	const path = (el) => {
		if (!el || !el.tagName) return '';
		if (el.id) return '#' + el.id;
		const parts = [];
		while (el && el.tagName && parts.length < 6) {
			let part = el.tagName.toLowerCase();
			if (el.id) { parts.unshift(part + '#' + el.id); break; }
			if (el.classList && el.classList.length > 0) {
				part += '.' + el.classList[0];
			}
			parts.unshift(part);
			el = el.parentElement;
		}
		return parts.join(' > ');
	};

	const push = (kind, e, extra) => {
		window.__rehearseEvents.push(Object.assign({
			ts: Date.now(),
			kind: kind,
			selector: path(e.target),
			role: e.target && e.target.getAttribute ? (e.target.getAttribute('role') || e.target.tagName.toLowerCase()) : '',
			label: e.target && (e.target.getAttribute ? (e.target.getAttribute('aria-label') || e.target.name || '') : ''),
			x: Math.round(e.clientX || 0),
			y: Math.round(e.clientY || 0)
		}, extra || {}));
	};

	document.addEventListener('mousemove', (e) => push('pointer_move', e), true);
	document.addEventListener('mousedown', (e) => push('pointer_click', e, {button: e.button === 2 ? 'right' : 'left'}), true);
	document.addEventListener('keydown', (e) => push('key_down', e, {
		key: e.key,
		modifiers: ['control','alt','meta','shift'].filter(m =>
			(m === 'control' && e.ctrlKey) || (m === 'alt' && e.altKey) ||
			(m === 'meta' && e.metaKey) || (m === 'shift' && e.shiftKey))
	}), true);
	document.addEventListener('keyup', (e) => push('key_up', e, {key: e.key}), true);
	document.addEventListener('wheel', (e) => push('scroll', e, {dx: Math.round(e.deltaX), dy: Math.round(e.deltaY)}), true);
	window.addEventListener('focus', (e) => push('window_focus', e), true);

	return true;
})()
`

// drainJS returns the buffered events and resets the buffer.
const drainJS = `
(() => {
	if (!window.__rehearseEvents) return null;
	const out = window.__rehearseEvents;
	window.__rehearseEvents = [];
	return out;
})()
`

// collectedEvent mirrors the JSON shape produced by collectorJS.
type collectedEvent struct {
	TS        int64    `json:"ts"`
	Kind      string   `json:"kind"`
	Selector  string   `json:"selector"`
	Role      string   `json:"role"`
	Label     string   `json:"label"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"`
	Button    string   `json:"button"`
	DX        int      `json:"dx"`
	DY        int      `json:"dy"`
}

// CDPSource captures events from a live Chrome tab by injecting a JS
// collector and polling it over the DevTools protocol.
type CDPSource struct {
	ctx   context.Context
	appID string
}

// NewCDPSource wraps an existing chromedp context. appID identifies the
// surface in target hints, typically the page origin.
func NewCDPSource(ctx context.Context, appID string) *CDPSource {
	return &CDPSource{ctx: ctx, appID: appID}
}

// Install injects the collector into the current page.
func (s *CDPSource) Install(ctx context.Context) error {
	installCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()

	var ok bool
	if err := chromedp.Run(installCtx, chromedp.Evaluate(collectorJS, &ok)); err != nil {
		return fmt.Errorf("failed to install event collector: %w", err)
	}
	if !ok {
		return fmt.Errorf("event collector did not initialize")
	}
	return nil
}

// Drain pulls buffered events from the page. A nil result means the
// collector is gone, usually after a navigation, so it is reinstalled.
func (s *CDPSource) Drain(ctx context.Context) ([]playbook.RawEvent, error) {
	drainCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()

	var collected []collectedEvent
	if err := chromedp.Run(drainCtx, chromedp.Evaluate(drainJS, &collected)); err != nil {
		return nil, fmt.Errorf("failed to drain event buffer: %w", err)
	}
	if collected == nil {
		if err := s.Install(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	events := make([]playbook.RawEvent, 0, len(collected))
	for _, c := range collected {
		events = append(events, s.convert(c))
	}
	return events, nil
}

func (s *CDPSource) convert(c collectedEvent) playbook.RawEvent {
	ev := playbook.RawEvent{
		Timestamp: time.UnixMilli(c.TS),
		Kind:      playbook.EventKind(c.Kind),
		TargetHint: playbook.TargetHint{
			ApplicationID: s.appID,
			Selector:      c.Selector,
			Role:          c.Role,
			Label:         c.Label,
			X:             float64(c.X),
			Y:             float64(c.Y),
		},
		Payload: playbook.EventPayload{
			Key:       c.Key,
			Modifiers: c.Modifiers,
			Button:    c.Button,
			X:         float64(c.X),
			Y:         float64(c.Y),
			DeltaX:    float64(c.DX),
			DeltaY:    float64(c.DY),
		},
	}
	return ev
}

// Close is a no-op; the browser context is owned by the session manager.
func (s *CDPSource) Close() error {
	return nil
}

// mergeDeadline runs against the browser context but honors the caller's
// deadline.
func mergeDeadline(browserCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callCtx.Deadline(); ok {
		return context.WithDeadline(browserCtx, deadline)
	}
	return context.WithCancel(browserCtx)
}
