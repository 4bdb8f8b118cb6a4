// Package playbook defines the recorded-interaction data model: raw
// event traces, normalized actions, parameterized playbooks and runs.
package playbook

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SchemaVersion is written into every serialized playbook so older
// documents remain readable after the format evolves.
const SchemaVersion = 1

// ErrMissingParameter is returned by Bind when a required parameter has
// no binding.
var ErrMissingParameter = errors.New("missing parameter binding")

// StepKind is the closed set of step action types the replay engine
// dispatches on.
type StepKind string

const (
	StepClick    StepKind = "click"
	StepTypeText StepKind = "type_text"
	StepKeyCombo StepKind = "key_combo"
	StepScroll   StepKind = "scroll"
	StepNavigate StepKind = "navigate"
	StepWaitFor  StepKind = "wait_for"

	// StepRawReplay replays the bound actions literally, fixed
	// coordinates and keystrokes included. Used when inference could
	// not label an action.
	StepRawReplay StepKind = "raw_replay"
)

// ParamType is the inferred type of a parameter slot.
type ParamType string

const (
	ParamText       ParamType = "text"
	ParamNumber     ParamType = "number"
	ParamCredential ParamType = "credential"
	ParamFilePath   ParamType = "file_path"
)

// Parameter is a named variable slot within a playbook, substituted at
// run time. Example holds the value observed during recording.
type Parameter struct {
	Name    string    `json:"name" yaml:"name"`
	Type    ParamType `json:"type" yaml:"type"`
	Example string    `json:"example,omitempty" yaml:"example,omitempty"`
}

// Step is one semantic unit of a playbook. Value may contain ${name}
// placeholders referencing declared parameters; Parameters lists the
// names this step references.
type Step struct {
	Index      int                `json:"index" yaml:"index"`
	Kind       StepKind           `json:"action_type" yaml:"action_type"`
	Title      string             `json:"title" yaml:"title"`
	Target     ResolvedTarget     `json:"resolved_target,omitempty" yaml:"resolved_target,omitempty"`
	Value      string             `json:"value,omitempty" yaml:"value,omitempty"`
	Actions    []NormalizedAction `json:"actions,omitempty" yaml:"actions,omitempty"`
	Parameters []string           `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Playbook is an immutable, versioned, parameterized script derived
// from one recording session. Saving an edit produces a new version.
type Playbook struct {
	ID            string      `json:"id" yaml:"id"`
	Version       int         `json:"version" yaml:"version"`
	SchemaVersion int         `json:"schema_version" yaml:"schema_version"`
	Name          string      `json:"name" yaml:"name"`
	Steps         []Step      `json:"steps" yaml:"steps"`
	Parameters    []Parameter `json:"parameters" yaml:"parameters"`
	RecordedFrom  string      `json:"recorded_from,omitempty" yaml:"recorded_from,omitempty"`
	CreatedAt     time.Time   `json:"created_at" yaml:"created_at"`
}

// BoundPlaybook is a playbook with every parameter reference resolved
// to a concrete value. Produced by Bind; contains no unresolved
// placeholders.
type BoundPlaybook struct {
	Playbook Playbook
	Bindings map[string]string
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Validate checks the structural invariants a playbook must hold before
// it can be saved: contiguous step indices starting at zero, unique
// parameter names, and every referenced parameter declared.
func (p *Playbook) Validate() error {
	seen := make(map[string]bool, len(p.Parameters))
	for _, param := range p.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter with empty name")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %q", param.Name)
		}
		seen[param.Name] = true
	}

	for i, step := range p.Steps {
		if step.Index != i {
			return fmt.Errorf("step index %d at position %d: indices must be contiguous from 0", step.Index, i)
		}
		for _, name := range step.Parameters {
			if !seen[name] {
				return fmt.Errorf("step %d references undeclared parameter %q", step.Index, name)
			}
		}
		for _, name := range referencedParams(step.Value) {
			if !seen[name] {
				return fmt.Errorf("step %d value references undeclared parameter %q", step.Index, name)
			}
		}
	}
	return nil
}

// Bind resolves every parameter reference against the given bindings
// and returns a bound copy. It fails with ErrMissingParameter if any
// declared parameter lacks a binding.
func (p *Playbook) Bind(bindings map[string]string) (*BoundPlaybook, error) {
	var missing []string
	for _, param := range p.Parameters {
		if _, ok := bindings[param.Name]; !ok {
			missing = append(missing, param.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}

	bound := *p
	bound.Steps = make([]Step, len(p.Steps))
	for i, step := range p.Steps {
		step.Value = substitute(step.Value, bindings)
		actions := make([]NormalizedAction, len(step.Actions))
		for j, a := range step.Actions {
			a.Value = substitute(a.Value, bindings)
			actions[j] = a
		}
		step.Actions = actions
		bound.Steps[i] = step
	}

	return &BoundPlaybook{Playbook: bound, Bindings: bindings}, nil
}

func substitute(s string, bindings map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := bindings[name]; ok {
			return v
		}
		return m
	})
}

func referencedParams(s string) []string {
	matches := placeholderRe.FindAllStringSubmatch(s, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Parameter returns the declared parameter with the given name, if any.
func (p *Playbook) Parameter(name string) (Parameter, bool) {
	for _, param := range p.Parameters {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}
