package playbook

import "time"

// EventKind identifies the low-level input event captured during recording.
type EventKind string

const (
	EventPointerMove  EventKind = "pointer_move"
	EventPointerClick EventKind = "pointer_click"
	EventKeyDown      EventKind = "key_down"
	EventKeyUp        EventKind = "key_up"
	EventScroll       EventKind = "scroll"
	EventWindowFocus  EventKind = "window_focus"
)

// TargetHint is the best-effort description of the UI element an event
// landed on, as observed at capture time. Selector is preferred for
// replay; coordinates are the fallback.
type TargetHint struct {
	ApplicationID string  `json:"application_id,omitempty" yaml:"application_id,omitempty"`
	Selector      string  `json:"selector,omitempty" yaml:"selector,omitempty"`
	Role          string  `json:"role,omitempty" yaml:"role,omitempty"`
	Label         string  `json:"label,omitempty" yaml:"label,omitempty"`
	X             float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y             float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

// EventPayload carries the kind-specific data of a raw event. Only the
// fields relevant to the event's kind are set.
type EventPayload struct {
	Key       string   `json:"key,omitempty" yaml:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
	Button    string   `json:"button,omitempty" yaml:"button,omitempty"`
	X         float64  `json:"x,omitempty" yaml:"x,omitempty"`
	Y         float64  `json:"y,omitempty" yaml:"y,omitempty"`
	DeltaX    float64  `json:"delta_x,omitempty" yaml:"delta_x,omitempty"`
	DeltaY    float64  `json:"delta_y,omitempty" yaml:"delta_y,omitempty"`
	Text      string   `json:"text,omitempty" yaml:"text,omitempty"`
}

// RawEvent is a single captured input event. Immutable once captured.
type RawEvent struct {
	Timestamp  time.Time    `json:"timestamp" yaml:"timestamp"`
	Kind       EventKind    `json:"kind" yaml:"kind"`
	TargetHint TargetHint   `json:"target_hint" yaml:"target_hint"`
	Payload    EventPayload `json:"payload" yaml:"payload"`
}

// ActionTrace is the ordered event stream of one recording session.
type ActionTrace struct {
	SessionID string     `json:"session_id" yaml:"session_id"`
	StartedAt time.Time  `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time  `json:"ended_at" yaml:"ended_at"`
	Events    []RawEvent `json:"events" yaml:"events"`
}

// ActionKind identifies a normalized action.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionTypeText ActionKind = "type_text"
	ActionKeyCombo ActionKind = "key_combo"
	ActionScroll   ActionKind = "scroll"
	ActionFocus    ActionKind = "focus"
)

// ResolvedTarget locates the element a normalized action applies to.
// Selector is a logical element path; X/Y are the recorded screen
// coordinates kept as a literal-replay fallback.
type ResolvedTarget struct {
	ApplicationID string  `json:"application_id,omitempty" yaml:"application_id,omitempty"`
	Selector      string  `json:"element_path,omitempty" yaml:"element_path,omitempty"`
	X             float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y             float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

// NormalizedAction is one coalesced user action produced by the
// normalizer. Value holds typed text for type_text actions and the
// combo string (e.g. "ctrl+s") for key_combo actions.
type NormalizedAction struct {
	Kind      ActionKind     `json:"kind" yaml:"kind"`
	Target    ResolvedTarget `json:"resolved_target" yaml:"resolved_target"`
	Value     string         `json:"value,omitempty" yaml:"value,omitempty"`
	DeltaX    float64        `json:"delta_x,omitempty" yaml:"delta_x,omitempty"`
	DeltaY    float64        `json:"delta_y,omitempty" yaml:"delta_y,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
}
