// Package session manages isolated browser execution sessions for
// recording and replay.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
)

// ErrUnavailable is returned when no session could be provisioned within
// the acquisition window.
var ErrUnavailable = fmt.Errorf("no execution session available")

// ErrSessionLost is returned when an acquired session dies mid-use.
var ErrSessionLost = fmt.Errorf("execution session lost")

// Session is one exclusive browser surface. It is single-tenant: exactly
// one run (or recording) uses it between Acquire and Release.
type Session struct {
	ID   string
	Mode playbook.Mode

	// Ctx is the chromedp browser context bound to this session.
	Ctx context.Context

	// DebuggerURL is the DevTools websocket endpoint, set for cloud
	// sessions and local sessions with remote debugging enabled.
	DebuggerURL string

	// ExpiresAt is the lease deadline for cloud sessions; zero for local.
	ExpiresAt time.Time

	cleanup func()
}

// Lost reports whether the underlying surface is gone.
func (s *Session) Lost() bool {
	if s.Ctx.Err() != nil {
		return true
	}
	if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		return true
	}
	return false
}

// launcher provisions the browser surface for one mode.
type launcher interface {
	Launch(ctx context.Context) (*Session, error)
}

// Manager hands out sessions and tracks which are in use.
type Manager struct {
	local launcher
	cloud launcher

	acquireWait time.Duration

	mu     sync.Mutex
	inUse  map[string]*Session
	closed bool
}

// Options configures a Manager.
type Options struct {
	Headless      bool
	CloudEndpoint string
	CloudToken    string
	AcquireWait   time.Duration
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		acquireWait: opts.AcquireWait,
		inUse:       make(map[string]*Session),
	}
	if m.acquireWait <= 0 {
		m.acquireWait = 15 * time.Second
	}
	m.local = &localLauncher{headless: opts.Headless}
	if opts.CloudEndpoint != "" {
		m.cloud = &cloudLauncher{
			provisioner: NewHTTPProvisioner(opts.CloudEndpoint, opts.CloudToken),
		}
	}
	return m
}

// newManagerWithLaunchers is the test seam.
func newManagerWithLaunchers(local, cloud launcher, acquireWait time.Duration) *Manager {
	return &Manager{
		local:       local,
		cloud:       cloud,
		acquireWait: acquireWait,
		inUse:       make(map[string]*Session),
	}
}

// Acquire provisions a fresh session for the given mode. It waits at most
// the configured acquisition window and returns ErrUnavailable on
// exhaustion.
func (m *Manager) Acquire(ctx context.Context, mode playbook.Mode) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: manager closed", ErrUnavailable)
	}
	m.mu.Unlock()

	var l launcher
	switch mode {
	case playbook.ModeLocal:
		l = m.local
	case playbook.ModeCloud:
		l = m.cloud
	default:
		return nil, fmt.Errorf("unknown session mode %q", mode)
	}
	if l == nil {
		return nil, fmt.Errorf("%w: mode %s not configured", ErrUnavailable, mode)
	}

	launchCtx, cancel := context.WithTimeout(ctx, m.acquireWait)
	defer cancel()

	sess, err := l.Launch(launchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if sess.ID == "" {
		sess.ID = "sess_" + uuid.New().String()[:8]
	}
	sess.Mode = mode

	m.mu.Lock()
	m.inUse[sess.ID] = sess
	m.mu.Unlock()

	logging.Info("Session %s acquired (mode=%s)", sess.ID, mode)
	return sess, nil
}

// Release tears down a session. The browser surface is destroyed so the
// next run always starts clean.
func (m *Manager) Release(sess *Session) {
	if sess == nil {
		return
	}

	m.mu.Lock()
	delete(m.inUse, sess.ID)
	m.mu.Unlock()

	if sess.cleanup != nil {
		sess.cleanup()
	}
	logging.Info("Session %s released", sess.ID)
}

// InUse returns the number of currently acquired sessions.
func (m *Manager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inUse)
}

// Close releases every outstanding session and refuses further acquires.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.inUse))
	for _, s := range m.inUse {
		sessions = append(sessions, s)
	}
	m.inUse = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if s.cleanup != nil {
			s.cleanup()
		}
	}
}
