// Package extract builds a parameterized playbook from a normalized
// action sequence, delegating semantic labeling to the inference
// capability while keeping its own work deterministic.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rehearse-io/rehearse/internal/infer"
	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
)

// ErrExtractionIncomplete reports that one or more actions could not be
// labeled semantically and were kept as literal-replay steps. The
// returned playbook is still usable.
var ErrExtractionIncomplete = errors.New("extraction incomplete: some actions kept as raw replay")

// Extractor converts normalized actions into an unsaved playbook.
type Extractor struct {
	client infer.Client
}

// New creates an extractor backed by the given inference client.
func New(client infer.Client) *Extractor {
	return &Extractor{client: client}
}

// Extract labels the action sequence and assembles a playbook with
// contiguous step indices and a deduplicated parameter set. Actions the
// inference capability cannot label become raw-replay steps; in that
// case the playbook is returned together with ErrExtractionIncomplete.
func (e *Extractor) Extract(ctx context.Context, name string, actions []playbook.NormalizedAction) (*playbook.Playbook, error) {
	inference, err := e.client.InferSteps(ctx, actions)
	if err != nil {
		return nil, fmt.Errorf("step inference failed: %w", err)
	}

	covered := make(map[int]bool, len(actions))
	type unit struct {
		first int
		step  playbook.Step
	}
	var units []unit

	params := make(map[string]playbook.Parameter)
	var paramOrder []string

	for _, label := range inference.Steps {
		idxs := append([]int(nil), label.ActionIndexes...)
		sort.Ints(idxs)

		stepActions := make([]playbook.NormalizedAction, 0, len(idxs))
		skip := false
		for _, idx := range idxs {
			if idx < 0 || idx >= len(actions) || covered[idx] {
				skip = true
				break
			}
			stepActions = append(stepActions, actions[idx])
		}
		if skip || len(stepActions) == 0 {
			continue
		}
		for _, idx := range idxs {
			covered[idx] = true
		}

		step := playbook.Step{
			Kind:    label.Kind,
			Title:   label.Title,
			Target:  stepActions[0].Target,
			Value:   stepValue(label.Kind, stepActions),
			Actions: stepActions,
		}

		for _, cand := range label.Parameters {
			value := actionValue(actions, cand.ActionIndex)
			if value == "" {
				// A parameter must map to a real recorded value.
				logging.Warn("dropping parameter %q: action %d has no value", cand.Name, cand.ActionIndex)
				continue
			}
			if _, ok := params[cand.Name]; !ok {
				params[cand.Name] = playbook.Parameter{Name: cand.Name, Type: cand.Type, Example: value}
				paramOrder = append(paramOrder, cand.Name)
			}
			placeholder := "${" + cand.Name + "}"
			if step.Value == value {
				step.Value = placeholder
			}
			for j := range step.Actions {
				if step.Actions[j].Value == value {
					step.Actions[j].Value = placeholder
				}
			}
			step.Parameters = appendUnique(step.Parameters, cand.Name)
		}

		units = append(units, unit{first: idxs[0], step: step})
	}

	// Everything not covered by a semantic step replays literally.
	incomplete := 0
	for i, a := range actions {
		if covered[i] {
			continue
		}
		incomplete++
		units = append(units, unit{
			first: i,
			step: playbook.Step{
				Kind:    playbook.StepRawReplay,
				Title:   fmt.Sprintf("Replay recorded %s", a.Kind),
				Target:  a.Target,
				Actions: []playbook.NormalizedAction{a},
			},
		})
	}

	sort.SliceStable(units, func(i, j int) bool { return units[i].first < units[j].first })

	pb := &playbook.Playbook{
		SchemaVersion: playbook.SchemaVersion,
		Name:          name,
		CreatedAt:     time.Now().UTC(),
	}
	for i, u := range units {
		u.step.Index = i
		pb.Steps = append(pb.Steps, u.step)
	}
	for _, n := range paramOrder {
		pb.Parameters = append(pb.Parameters, params[n])
	}

	if err := pb.Validate(); err != nil {
		return nil, fmt.Errorf("extracted playbook invalid: %w", err)
	}

	if incomplete > 0 {
		logging.Info("extraction left %d of %d actions as raw replay", incomplete, len(actions))
		return pb, fmt.Errorf("%w (%d of %d actions)", ErrExtractionIncomplete, incomplete, len(actions))
	}
	return pb, nil
}

func actionValue(actions []playbook.NormalizedAction, idx int) string {
	if idx < 0 || idx >= len(actions) {
		return ""
	}
	return actions[idx].Value
}

// stepValue picks the representative value for a semantic step.
func stepValue(kind playbook.StepKind, actions []playbook.NormalizedAction) string {
	switch kind {
	case playbook.StepTypeText, playbook.StepKeyCombo, playbook.StepNavigate:
		for _, a := range actions {
			if a.Value != "" {
				return a.Value
			}
		}
	}
	return ""
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
