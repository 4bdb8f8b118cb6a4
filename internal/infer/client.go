// Package infer consumes an external inference capability that labels
// normalized actions with semantic step descriptions and parameter
// candidates. Failures are reported per action, never for the whole
// trace.
package infer

import (
	"context"
	"fmt"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// Provider represents different inference providers.
type Provider string

const (
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
	Mock      Provider = "mock"
)

// Client is the step-inference capability: given an ordered action
// sequence, return ordered step labels plus parameter candidates.
type Client interface {
	InferSteps(ctx context.Context, actions []playbook.NormalizedAction) (*Inference, error)
}

// StepLabel is one inferred semantic step covering a contiguous range
// of the input actions.
type StepLabel struct {
	ActionIndexes []int                `json:"action_indexes"`
	Kind          playbook.StepKind    `json:"action_type"`
	Title         string               `json:"title"`
	Parameters    []ParameterCandidate `json:"parameters,omitempty"`
	Confidence    float64              `json:"confidence"`
}

// ParameterCandidate marks an action value the model believes is a
// variable input rather than a constant.
type ParameterCandidate struct {
	Name        string             `json:"name"`
	Type        playbook.ParamType `json:"type"`
	ActionIndex int                `json:"action_index"`
}

// Inference is the full labeling result. Unlabeled lists the indexes of
// actions the model could not assign to any step; those degrade to
// literal replay downstream.
type Inference struct {
	Steps     []StepLabel `json:"steps"`
	Unlabeled []int       `json:"unlabeled,omitempty"`
	Usage     *UsageStats `json:"usage,omitempty"`
}

// UsageStats tracks token usage of one inference call.
type UsageStats struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// NewClient creates an inference client for the given provider.
func NewClient(provider Provider, apiKey string, options map[string]interface{}) (Client, error) {
	switch provider {
	case OpenAI:
		return newOpenAIClient(apiKey, options)
	case Anthropic:
		return newAnthropicClient(apiKey, options)
	case Mock:
		return newMockClient(options)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", provider)
	}
}

// stepInferencePrompt asks the model to label recorded actions from the
// user's perspective and to spot variable inputs.
const stepInferencePrompt = `You are labeling a recorded sequence of user interface actions so it can be replayed as an automation script.

Each action below has an index, a kind (click, type_text, key_combo, scroll, focus), a target element and a value.

Actions:
%s

Group the actions into ordered semantic steps. For each step return:
- "action_indexes": the indexes it covers (contiguous, in order)
- "action_type": one of "click", "type_text", "key_combo", "scroll", "navigate", "wait_for"
- "title": what the user is doing, e.g. "Click the Save button", "Type the account email"
- "parameters": values that are user-specific inputs rather than fixed UI interactions, each as {"name": "snake_case_name", "type": "text|number|credential|file_path", "action_index": N}
- "confidence": 0..1

Mark values as parameters when they look like account names, emails, search queries, file paths, amounts, or secrets. Passwords and tokens are type "credential". Fixed UI interactions (clicking buttons, menus, tabs) take no parameters.

If you cannot interpret an action, leave it out of every step and list its index in "unlabeled" instead of guessing.

Return JSON only:
{
  "steps": [
    {"action_indexes": [0], "action_type": "click", "title": "Open the login form", "confidence": 0.95},
    {"action_indexes": [1], "action_type": "type_text", "title": "Type the account email", "parameters": [{"name": "email", "type": "text", "action_index": 1}], "confidence": 0.9}
  ],
  "unlabeled": []
}`
