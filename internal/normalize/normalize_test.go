package normalize

import (
	"testing"
	"time"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func keyEvent(at time.Duration, key, text, selector string) playbook.RawEvent {
	return playbook.RawEvent{
		Timestamp:  epoch.Add(at),
		Kind:       playbook.EventKeyDown,
		TargetHint: playbook.TargetHint{ApplicationID: "app", Selector: selector},
		Payload:    playbook.EventPayload{Key: key, Text: text},
	}
}

func clickEvent(at time.Duration, selector string, x, y float64) playbook.RawEvent {
	return playbook.RawEvent{
		Timestamp:  epoch.Add(at),
		Kind:       playbook.EventPointerClick,
		TargetHint: playbook.TargetHint{ApplicationID: "app", Selector: selector},
		Payload:    playbook.EventPayload{Button: "left", X: x, Y: y},
	}
}

func moveEvent(at time.Duration, x, y float64) playbook.RawEvent {
	return playbook.RawEvent{
		Timestamp: epoch.Add(at),
		Kind:      playbook.EventPointerMove,
		Payload:   playbook.EventPayload{X: x, Y: y},
	}
}

func TestNormalizeClicksAndTextEntry(t *testing.T) {
	events := []playbook.RawEvent{
		clickEvent(0, "#first", 10, 10),
		clickEvent(time.Second, "#field", 20, 20),
	}
	for i, ch := range []string{"h", "e", "l", "l", "o"} {
		events = append(events, keyEvent(2*time.Second+time.Duration(i)*200*time.Millisecond, ch, ch, "#field"))
	}

	actions := Normalize(events, DefaultOptions())
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d: %+v", len(actions), actions)
	}
	if actions[0].Kind != playbook.ActionClick || actions[1].Kind != playbook.ActionClick {
		t.Fatalf("expected two clicks first, got %+v", actions[:2])
	}
	if actions[2].Kind != playbook.ActionTypeText || actions[2].Value != "hello" {
		t.Fatalf("expected single type action %q, got %+v", "hello", actions[2])
	}
}

func TestNormalizeSplitsTextOnLongGap(t *testing.T) {
	events := []playbook.RawEvent{
		keyEvent(0, "a", "a", "#field"),
		keyEvent(100*time.Millisecond, "b", "b", "#field"),
		keyEvent(3*time.Second, "c", "c", "#field"),
	}
	actions := Normalize(events, DefaultOptions())
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Value != "ab" || actions[1].Value != "c" {
		t.Fatalf("unexpected values: %q %q", actions[0].Value, actions[1].Value)
	}
}

func TestNormalizeSplitsTextOnTargetChange(t *testing.T) {
	events := []playbook.RawEvent{
		keyEvent(0, "a", "a", "#one"),
		keyEvent(100*time.Millisecond, "b", "b", "#two"),
	}
	actions := Normalize(events, DefaultOptions())
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
}

func TestNormalizeCollapsesMovesIntoClick(t *testing.T) {
	events := []playbook.RawEvent{
		moveEvent(0, 1, 1),
		moveEvent(10*time.Millisecond, 5, 5),
		moveEvent(20*time.Millisecond, 42, 99),
		{
			Timestamp: epoch.Add(30 * time.Millisecond),
			Kind:      playbook.EventPointerClick,
			Payload:   playbook.EventPayload{Button: "left"},
		},
		moveEvent(40*time.Millisecond, 7, 7), // trailing move, no click: dropped
	}
	actions := Normalize(events, DefaultOptions())
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d: %+v", len(actions), actions)
	}
	if actions[0].Target.X != 42 || actions[0].Target.Y != 99 {
		t.Fatalf("click did not inherit final move position: %+v", actions[0].Target)
	}
}

func TestNormalizeKeyCombos(t *testing.T) {
	events := []playbook.RawEvent{
		{
			Timestamp: epoch,
			Kind:      playbook.EventKeyDown,
			Payload:   playbook.EventPayload{Key: "Control"},
		},
		{
			Timestamp: epoch.Add(50 * time.Millisecond),
			Kind:      playbook.EventKeyDown,
			Payload:   playbook.EventPayload{Key: "s", Modifiers: []string{"control"}},
		},
		{
			Timestamp: epoch.Add(time.Second),
			Kind:      playbook.EventKeyDown,
			Payload:   playbook.EventPayload{Key: "Enter"},
		},
	}
	actions := Normalize(events, DefaultOptions())
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d: %+v", len(actions), actions)
	}
	if actions[0].Kind != playbook.ActionKeyCombo || actions[0].Value != "control+s" {
		t.Fatalf("unexpected combo: %+v", actions[0])
	}
	if actions[1].Kind != playbook.ActionKeyCombo || actions[1].Value != "Enter" {
		t.Fatalf("unexpected enter action: %+v", actions[1])
	}
}

func TestNormalizeMergesScrolls(t *testing.T) {
	mk := func(at time.Duration, dy float64) playbook.RawEvent {
		return playbook.RawEvent{
			Timestamp: epoch.Add(at),
			Kind:      playbook.EventScroll,
			Payload:   playbook.EventPayload{DeltaY: dy},
		}
	}
	actions := Normalize([]playbook.RawEvent{mk(0, 100), mk(50*time.Millisecond, 150)}, DefaultOptions())
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].DeltaY != 250 {
		t.Fatalf("expected summed delta 250, got %v", actions[0].DeltaY)
	}
}

func TestCoalesceIsIdempotent(t *testing.T) {
	events := []playbook.RawEvent{
		clickEvent(0, "#a", 1, 1),
		keyEvent(time.Second, "h", "h", "#field"),
		keyEvent(1100*time.Millisecond, "i", "i", "#field"),
		{Timestamp: epoch.Add(2 * time.Second), Kind: playbook.EventScroll, Payload: playbook.EventPayload{DeltaY: 10}},
		{Timestamp: epoch.Add(2100 * time.Millisecond), Kind: playbook.EventScroll, Payload: playbook.EventPayload{DeltaY: 20}},
		clickEvent(3*time.Second, "#b", 2, 2),
	}
	opts := DefaultOptions()
	once := Normalize(events, opts)
	twice := Coalesce(once, opts)
	if len(once) != len(twice) {
		t.Fatalf("coalesce not idempotent: %d vs %d actions", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("action %d changed on re-coalesce: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestNormalizeTimestampsNonDecreasing(t *testing.T) {
	events := []playbook.RawEvent{
		clickEvent(0, "#a", 1, 1),
		keyEvent(time.Second, "x", "x", "#f"),
		clickEvent(2*time.Second, "#b", 2, 2),
	}
	actions := Normalize(events, DefaultOptions())
	for i := 1; i < len(actions); i++ {
		if actions[i].Timestamp.Before(actions[i-1].Timestamp) {
			t.Fatalf("timestamps decreased at %d", i)
		}
	}
}
