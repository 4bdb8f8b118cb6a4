package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DebuggerTarget is one entry from a DevTools /json/list response.
type DebuggerTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ListTargets fetches the open targets from a DevTools HTTP endpoint.
func ListTargets(ctx context.Context, host string, port int) ([]DebuggerTarget, error) {
	url := fmt.Sprintf("http://%s:%d/json/list", host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var targets []DebuggerTarget
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// ProbeDebugger verifies a DevTools websocket endpoint answers a trivial
// Runtime.evaluate before a session is committed to it.
func ProbeDebugger(ctx context.Context, wsURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return fmt.Errorf("failed to connect to debugger %s: %w", wsURL, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	msg := map[string]interface{}{
		"id":     1,
		"method": "Runtime.evaluate",
		"params": map[string]interface{}{
			"expression":    "1 + 1",
			"returnByValue": true,
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send probe: %w", err)
	}

	// Events arrive without an id; skip them until our reply shows up.
	for {
		var resp map[string]interface{}
		if err := conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("failed to read probe response: %w", err)
		}
		id, hasID := resp["id"]
		if !hasID {
			continue
		}
		if int(id.(float64)) != 1 {
			continue
		}
		result, ok := resp["result"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("probe returned no result")
		}
		inner, ok := result["result"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("probe returned malformed result")
		}
		if v, ok := inner["value"].(float64); !ok || v != 2 {
			return fmt.Errorf("probe evaluation returned %v, want 2", inner["value"])
		}
		return nil
	}
}
