package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/rehearse-io/rehearse/internal/logging"
)

// Lease is a cloud worker assignment.
type Lease struct {
	ID           string    `json:"lease_id"`
	WebSocketURL string    `json:"websocket_url"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Provisioner allocates and releases cloud browser workers.
type Provisioner interface {
	Provision(ctx context.Context) (*Lease, error)
	Release(ctx context.Context, leaseID string) error
}

// HTTPProvisioner talks to the worker pool's control API.
type HTTPProvisioner struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPProvisioner creates a provisioner client for the given endpoint.
func NewHTTPProvisioner(endpoint, token string) *HTTPProvisioner {
	return &HTTPProvisioner{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Provision requests a worker lease.
func (p *HTTPProvisioner) Provision(ctx context.Context) (*Lease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/leases", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provision request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("worker pool exhausted (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("provision failed with status %d: %s", resp.StatusCode, string(body))
	}

	var lease Lease
	if err := json.Unmarshal(body, &lease); err != nil {
		return nil, fmt.Errorf("failed to decode lease: %w", err)
	}
	if lease.WebSocketURL == "" {
		return nil, fmt.Errorf("lease %s has no debugger endpoint", lease.ID)
	}
	return &lease, nil
}

// Release returns a lease to the pool.
func (p *HTTPProvisioner) Release(ctx context.Context, leaseID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.endpoint+"/v1/leases/"+leaseID, nil)
	if err != nil {
		return err
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("release request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("release failed with status %d", resp.StatusCode)
	}
	return nil
}

// cloudLauncher attaches to a provisioned worker over DevTools.
type cloudLauncher struct {
	provisioner Provisioner
}

func (l *cloudLauncher) Launch(ctx context.Context) (*Session, error) {
	lease, err := l.provisioner.Provision(ctx)
	if err != nil {
		return nil, err
	}

	// The worker is checked before a run is committed to it.
	if err := ProbeDebugger(ctx, lease.WebSocketURL); err != nil {
		l.provisioner.Release(context.Background(), lease.ID)
		return nil, fmt.Errorf("worker %s failed probe: %w", lease.ID, err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), lease.WebSocketURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, startCancel := mergeDeadline(browserCtx, ctx)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		l.provisioner.Release(context.Background(), lease.ID)
		return nil, fmt.Errorf("failed to attach to worker %s: %w", lease.ID, err)
	}

	leaseID := lease.ID
	prov := l.provisioner
	return &Session{
		Ctx:         browserCtx,
		DebuggerURL: lease.WebSocketURL,
		ExpiresAt:   lease.ExpiresAt,
		cleanup: func() {
			browserCancel()
			allocCancel()
			releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := prov.Release(releaseCtx, leaseID); err != nil {
				logging.Warn("Failed to release lease %s: %v", leaseID, err)
			}
		},
	}, nil
}
