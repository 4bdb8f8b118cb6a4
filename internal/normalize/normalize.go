// Package normalize turns a raw capture trace into a clean sequence of
// user actions: keystroke bursts become single type-text actions,
// pointer-move noise collapses into the click it preceded, and
// consecutive scrolls merge.
package normalize

import (
	"strings"
	"time"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// Options tune the coalescing rules.
type Options struct {
	// TextGap is the maximum gap between keystrokes that still counts
	// as one continuous text entry on the same element.
	TextGap time.Duration
}

// DefaultOptions returns the thresholds used when none are configured.
func DefaultOptions() Options {
	return Options{TextGap: 1500 * time.Millisecond}
}

// Normalize converts a raw event trace into normalized actions. The
// result is deterministic, its timestamps are non-decreasing, and no
// two consecutive actions are mergeable: Coalesce applied to the result
// returns it unchanged.
func Normalize(events []playbook.RawEvent, opts Options) []playbook.NormalizedAction {
	if opts.TextGap <= 0 {
		opts.TextGap = DefaultOptions().TextGap
	}
	return Coalesce(lower(events), opts)
}

// lower maps each raw event to a provisional action, dropping events
// that never survive normalization on their own.
func lower(events []playbook.RawEvent) []playbook.NormalizedAction {
	var out []playbook.NormalizedAction
	var pendingMove *playbook.RawEvent

	for i := range events {
		ev := events[i]
		switch ev.Kind {
		case playbook.EventPointerMove:
			// Only the final position before a click matters; remember
			// it and let the click consume it.
			pendingMove = &events[i]

		case playbook.EventPointerClick:
			target := hintTarget(ev.TargetHint)
			if target.X == 0 && target.Y == 0 {
				target.X, target.Y = ev.Payload.X, ev.Payload.Y
			}
			if (target.X == 0 && target.Y == 0) && pendingMove != nil {
				target.X, target.Y = pendingMove.Payload.X, pendingMove.Payload.Y
			}
			pendingMove = nil
			out = append(out, playbook.NormalizedAction{
				Kind:      playbook.ActionClick,
				Target:    target,
				Value:     ev.Payload.Button,
				Timestamp: ev.Timestamp,
			})

		case playbook.EventKeyDown:
			pendingMove = nil
			if a, ok := keyAction(ev); ok {
				out = append(out, a)
			}

		case playbook.EventKeyUp:
			// Duration of a press is not significant after coalescing.

		case playbook.EventScroll:
			pendingMove = nil
			out = append(out, playbook.NormalizedAction{
				Kind:      playbook.ActionScroll,
				Target:    hintTarget(ev.TargetHint),
				DeltaX:    ev.Payload.DeltaX,
				DeltaY:    ev.Payload.DeltaY,
				Timestamp: ev.Timestamp,
			})

		case playbook.EventWindowFocus:
			pendingMove = nil
			out = append(out, playbook.NormalizedAction{
				Kind:      playbook.ActionFocus,
				Target:    hintTarget(ev.TargetHint),
				Timestamp: ev.Timestamp,
			})
		}
	}
	return out
}

// keyAction maps a key-down event to either a fragment of typed text or
// a key-combo action. Returns false for bare modifier presses.
func keyAction(ev playbook.RawEvent) (playbook.NormalizedAction, bool) {
	mods := significantModifiers(ev.Payload.Modifiers)
	key := ev.Payload.Key

	if isModifierKey(key) {
		return playbook.NormalizedAction{}, false
	}

	if len(mods) == 0 && isPrintable(key, ev.Payload.Text) {
		text := ev.Payload.Text
		if text == "" {
			if strings.EqualFold(key, "space") {
				text = " "
			} else {
				text = key
			}
		}
		return playbook.NormalizedAction{
			Kind:      playbook.ActionTypeText,
			Target:    hintTarget(ev.TargetHint),
			Value:     text,
			Timestamp: ev.Timestamp,
		}, true
	}

	combo := key
	if len(mods) > 0 {
		combo = strings.Join(append(mods, key), "+")
	}
	return playbook.NormalizedAction{
		Kind:      playbook.ActionKeyCombo,
		Target:    hintTarget(ev.TargetHint),
		Value:     combo,
		Timestamp: ev.Timestamp,
	}, true
}

// Coalesce merges adjacent mergeable actions until a fixpoint. It is
// idempotent: Coalesce(Coalesce(a)) == Coalesce(a).
func Coalesce(actions []playbook.NormalizedAction, opts Options) []playbook.NormalizedAction {
	if opts.TextGap <= 0 {
		opts.TextGap = DefaultOptions().TextGap
	}
	out := make([]playbook.NormalizedAction, 0, len(actions))
	for _, a := range actions {
		if n := len(out); n > 0 {
			if merged, ok := merge(out[n-1], a, opts); ok {
				out[n-1] = merged
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// merge combines two consecutive actions when the normalizer's rules
// say they are one user action.
func merge(prev, next playbook.NormalizedAction, opts Options) (playbook.NormalizedAction, bool) {
	if prev.Kind != next.Kind {
		return prev, false
	}
	switch prev.Kind {
	case playbook.ActionTypeText:
		if !sameTarget(prev.Target, next.Target) {
			return prev, false
		}
		gap := next.Timestamp.Sub(prev.Timestamp.Add(prev.Duration))
		if gap > opts.TextGap {
			return prev, false
		}
		prev.Value += next.Value
		prev.Duration = next.Timestamp.Add(next.Duration).Sub(prev.Timestamp)
		return prev, true
	case playbook.ActionScroll:
		if !sameTarget(prev.Target, next.Target) {
			return prev, false
		}
		prev.DeltaX += next.DeltaX
		prev.DeltaY += next.DeltaY
		prev.Duration = next.Timestamp.Add(next.Duration).Sub(prev.Timestamp)
		return prev, true
	case playbook.ActionFocus:
		if prev.Target.ApplicationID != next.Target.ApplicationID {
			return prev, false
		}
		// Repeated focus of the same application is a no-op.
		return prev, true
	}
	return prev, false
}

func sameTarget(a, b playbook.ResolvedTarget) bool {
	if a.Selector != "" || b.Selector != "" {
		return a.ApplicationID == b.ApplicationID && a.Selector == b.Selector
	}
	return a.ApplicationID == b.ApplicationID && a.X == b.X && a.Y == b.Y
}

func hintTarget(h playbook.TargetHint) playbook.ResolvedTarget {
	return playbook.ResolvedTarget{
		ApplicationID: h.ApplicationID,
		Selector:      h.Selector,
		X:             h.X,
		Y:             h.Y,
	}
}

func significantModifiers(mods []string) []string {
	var out []string
	for _, m := range mods {
		switch strings.ToLower(m) {
		case "shift":
			// Shift alone produces printable characters, not combos.
		default:
			out = append(out, strings.ToLower(m))
		}
	}
	return out
}

func isModifierKey(key string) bool {
	switch strings.ToLower(key) {
	case "shift", "control", "ctrl", "alt", "option", "meta", "cmd", "command":
		return true
	}
	return false
}

// isPrintable reports whether a key press contributes to typed text
// rather than acting as a control key.
func isPrintable(key, text string) bool {
	if text != "" {
		return true
	}
	if len(key) == 1 {
		return true
	}
	switch strings.ToLower(key) {
	case "space":
		return true
	}
	return false
}
