package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
)

// OpenAIRequest represents the request structure for the OpenAI API.
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

// OpenAIMessage represents a message in the OpenAI format.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIResponse represents the response from the OpenAI API.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
	Error   *OpenAIError   `json:"error,omitempty"`
}

// OpenAIChoice represents a completion choice.
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage represents token usage information.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIError represents an error from the OpenAI API.
type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type openAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func newOpenAIClient(apiKey string, options map[string]interface{}) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := "gpt-4o-mini"
	if m, ok := options["model"].(string); ok && m != "" {
		model = m
	}

	baseURL := "https://api.openai.com/v1"
	if url, ok := options["base_url"].(string); ok && url != "" {
		baseURL = url
	}

	return &openAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

func (c *openAIClient) InferSteps(ctx context.Context, actions []playbook.NormalizedAction) (*Inference, error) {
	prompt := fmt.Sprintf(stepInferencePrompt, formatActions(actions))

	temperature := 0.2
	maxTokens := 4000
	reqBody := OpenAIRequest{
		Model: c.model,
		Messages: []OpenAIMessage{
			{Role: "system", Content: "You label recorded UI interactions for deterministic replay. Respond with JSON only."},
			{Role: "user", Content: prompt},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	raw, usage, err := c.complete(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	inference, err := parseInference(raw, len(actions))
	if err != nil {
		return nil, fmt.Errorf("failed to parse inference response: %w", err)
	}
	inference.Usage = usage
	return inference, nil
}

func (c *openAIClient) complete(ctx context.Context, reqBody OpenAIRequest) (string, *UsageStats, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logging.Debug("OpenAI inference request: model=%s, %d bytes", c.model, len(payload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp OpenAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.Error != nil {
		return "", nil, fmt.Errorf("OpenAI API error: %s (%s)", apiResp.Error.Message, apiResp.Error.Type)
	}
	if len(apiResp.Choices) == 0 {
		return "", nil, fmt.Errorf("OpenAI returned no choices")
	}

	usage := &UsageStats{
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
	}
	return apiResp.Choices[0].Message.Content, usage, nil
}

// formatActions renders the action sequence the way the prompt expects.
func formatActions(actions []playbook.NormalizedAction) string {
	var b strings.Builder
	for i, a := range actions {
		target := a.Target.Selector
		if target == "" {
			target = fmt.Sprintf("(%.0f,%.0f)", a.Target.X, a.Target.Y)
		}
		fmt.Fprintf(&b, "%d. kind=%s target=%s", i, a.Kind, target)
		if a.Value != "" {
			fmt.Fprintf(&b, " value=%q", a.Value)
		}
		if a.Kind == playbook.ActionScroll {
			fmt.Fprintf(&b, " delta=(%.0f,%.0f)", a.DeltaX, a.DeltaY)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseInference extracts the Inference JSON from a model reply,
// tolerating surrounding prose and code fences, and drops labels that
// point outside the action range.
func parseInference(raw string, actionCount int) (*Inference, error) {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var inference Inference
	if err := json.Unmarshal([]byte(text), &inference); err != nil {
		return nil, err
	}

	valid := inference.Steps[:0]
	for _, step := range inference.Steps {
		ok := len(step.ActionIndexes) > 0
		for _, idx := range step.ActionIndexes {
			if idx < 0 || idx >= actionCount {
				ok = false
			}
		}
		for _, p := range step.Parameters {
			if p.ActionIndex < 0 || p.ActionIndex >= actionCount {
				ok = false
			}
		}
		if ok {
			valid = append(valid, step)
		}
	}
	inference.Steps = valid
	return &inference, nil
}
