package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
)

// AnthropicRequest represents the request structure for the Anthropic
// messages API.
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
}

// AnthropicMessage represents a message in the Anthropic format.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicResponse represents the response from the Anthropic API.
type AnthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func newAnthropicClient(apiKey string, options map[string]interface{}) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	model := "claude-3-5-sonnet-20241022"
	if m, ok := options["model"].(string); ok && m != "" {
		model = m
	}

	baseURL := "https://api.anthropic.com/v1"
	if url, ok := options["base_url"].(string); ok && url != "" {
		baseURL = url
	}

	return &anthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

func (c *anthropicClient) InferSteps(ctx context.Context, actions []playbook.NormalizedAction) (*Inference, error) {
	prompt := fmt.Sprintf(stepInferencePrompt, formatActions(actions))

	reqBody := AnthropicRequest{
		Model:     c.model,
		MaxTokens: 4000,
		System:    "You label recorded UI interactions for deterministic replay. Respond with JSON only.",
		Messages: []AnthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	logging.Debug("Anthropic inference request: model=%s, %d actions", c.model, len(actions))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp AnthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("Anthropic API error: %s (%s)", apiResp.Error.Message, apiResp.Error.Type)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("Anthropic returned no content")
	}

	inference, err := parseInference(apiResp.Content[0].Text, len(actions))
	if err != nil {
		return nil, fmt.Errorf("failed to parse inference response: %w", err)
	}
	inference.Usage = &UsageStats{
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
	}
	return inference, nil
}
