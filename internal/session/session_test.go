package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// fakeLauncher hands out sessions backed by plain cancellable contexts.
type fakeLauncher struct {
	mu       sync.Mutex
	launched int
	released int
	err      error
	delay    time.Duration
}

func (f *fakeLauncher) Launch(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	err := f.err
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.launched++
	f.mu.Unlock()
	return &Session{
		Ctx: sessCtx,
		cleanup: func() {
			cancel()
			f.mu.Lock()
			f.released++
			f.mu.Unlock()
		},
	}, nil
}

func TestAcquireRelease(t *testing.T) {
	local := &fakeLauncher{}
	m := newManagerWithLaunchers(local, nil, time.Second)

	sess, err := m.Acquire(context.Background(), playbook.ModeLocal)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected session ID to be assigned")
	}
	if sess.Mode != playbook.ModeLocal {
		t.Errorf("mode = %s, want local", sess.Mode)
	}
	if m.InUse() != 1 {
		t.Errorf("in use = %d, want 1", m.InUse())
	}

	m.Release(sess)
	if m.InUse() != 0 {
		t.Errorf("in use after release = %d, want 0", m.InUse())
	}
	if local.released != 1 {
		t.Errorf("cleanup calls = %d, want 1", local.released)
	}
	if sess.Ctx.Err() == nil {
		t.Error("released session context should be cancelled")
	}
}

func TestConcurrentAcquiresGetDistinctSessions(t *testing.T) {
	local := &fakeLauncher{}
	m := newManagerWithLaunchers(local, nil, time.Second)

	const n = 4
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := m.Acquire(context.Background(), playbook.ModeLocal)
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, sess := range sessions {
		if sess == nil {
			continue
		}
		if seen[sess.ID] {
			t.Fatalf("session ID %s handed out twice", sess.ID)
		}
		seen[sess.ID] = true
	}
	if len(seen) != n {
		t.Fatalf("distinct sessions = %d, want %d", len(seen), n)
	}
}

func TestAcquireTimeoutIsUnavailable(t *testing.T) {
	local := &fakeLauncher{delay: time.Second}
	m := newManagerWithLaunchers(local, nil, 20*time.Millisecond)

	_, err := m.Acquire(context.Background(), playbook.ModeLocal)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestAcquireLaunchFailureIsUnavailable(t *testing.T) {
	local := &fakeLauncher{err: errors.New("chrome not found")}
	m := newManagerWithLaunchers(local, nil, time.Second)

	_, err := m.Acquire(context.Background(), playbook.ModeLocal)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestCloudNotConfigured(t *testing.T) {
	m := newManagerWithLaunchers(&fakeLauncher{}, nil, time.Second)

	_, err := m.Acquire(context.Background(), playbook.ModeCloud)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestSessionLostOnExpiredLease(t *testing.T) {
	sess := &Session{
		Ctx:       context.Background(),
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if !sess.Lost() {
		t.Error("expired lease should report lost")
	}

	sess.ExpiresAt = time.Now().Add(time.Hour)
	if sess.Lost() {
		t.Error("live lease should not report lost")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	local := &fakeLauncher{}
	m := newManagerWithLaunchers(local, nil, time.Second)

	for i := 0; i < 3; i++ {
		if _, err := m.Acquire(context.Background(), playbook.ModeLocal); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}

	m.Close()
	if m.InUse() != 0 {
		t.Errorf("in use after close = %d, want 0", m.InUse())
	}
	if local.released != 3 {
		t.Errorf("cleanup calls = %d, want 3", local.released)
	}

	if _, err := m.Acquire(context.Background(), playbook.ModeLocal); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("acquire after close err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPProvisioner(t *testing.T) {
	var releasedLease string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/leases":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(Lease{
				ID:           "lease_1",
				WebSocketURL: "ws://worker:9222/devtools/page/abc",
				ExpiresAt:    time.Now().Add(10 * time.Minute),
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/leases/lease_1":
			releasedLease = "lease_1"
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvisioner(srv.URL, "tok")

	lease, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if lease.ID != "lease_1" || lease.WebSocketURL == "" {
		t.Fatalf("lease = %+v", lease)
	}

	if err := p.Release(context.Background(), lease.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if releasedLease != "lease_1" {
		t.Error("release never reached the server")
	}
}

func TestHTTPProvisionerPoolExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvisioner(srv.URL, "")
	if _, err := p.Provision(context.Background()); err == nil {
		t.Fatal("expected exhausted pool to fail provisioning")
	}
}
