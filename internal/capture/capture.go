// Package capture records raw input events from a live browser surface
// into an action trace.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
)

// ErrCaptureUnavailable is returned when the event source cannot deliver
// events (surface gone, permissions revoked, collector not installed).
var ErrCaptureUnavailable = fmt.Errorf("capture source unavailable")

// ErrCaptureActive is returned when a recording session is already running.
var ErrCaptureActive = fmt.Errorf("a capture session is already active")

// Source delivers raw input events from some surface. Drain returns the
// events observed since the previous call and empties the buffer.
type Source interface {
	Install(ctx context.Context) error
	Drain(ctx context.Context) ([]playbook.RawEvent, error)
	Close() error
}

// Recorder owns capture sessions. At most one session is active at a time.
type Recorder struct {
	mu       sync.Mutex
	active   *Session
	interval time.Duration
}

// NewRecorder creates a recorder polling the source at the given interval.
func NewRecorder(pollInterval time.Duration) *Recorder {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Recorder{interval: pollInterval}
}

// Session is one in-progress recording.
type Session struct {
	ID        string
	StartedAt time.Time

	source Source
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	events []playbook.RawEvent
	err    error
}

// StartSession installs the collector and begins draining events. It fails
// with ErrCaptureActive if a session is already running and wraps
// ErrCaptureUnavailable when the source cannot be installed.
func (r *Recorder) StartSession(ctx context.Context, source Source) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, ErrCaptureActive
	}

	if err := source.Install(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:        "cap_" + uuid.New().String()[:8],
		StartedAt: time.Now(),
		source:    source,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.active = sess

	go r.drainLoop(sessCtx, sess)

	logging.Info("Capture session %s started", sess.ID)
	return sess, nil
}

// drainLoop polls the source until the session is stopped.
func (r *Recorder) drainLoop(ctx context.Context, sess *Session) {
	defer close(sess.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain so events between the last tick and Stop are kept.
			r.drainOnce(context.Background(), sess)
			return
		case <-ticker.C:
			if !r.drainOnce(ctx, sess) {
				return
			}
		}
	}
}

// drainOnce pulls buffered events from the source. It returns false when
// the source has become unusable.
func (r *Recorder) drainOnce(ctx context.Context, sess *Session) bool {
	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	events, err := sess.source.Drain(drainCtx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logging.Warn("Capture session %s drain failed: %v", sess.ID, err)
		sess.mu.Lock()
		sess.err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		sess.mu.Unlock()
		return false
	}

	if len(events) > 0 {
		sess.mu.Lock()
		sess.events = append(sess.events, events...)
		sess.mu.Unlock()
	}
	return true
}

// StopSession ends the given session and returns the accumulated trace.
// The trace collected so far is returned even when the source failed
// mid-recording, alongside the capture error.
func (r *Recorder) StopSession(sess *Session) (*playbook.ActionTrace, error) {
	r.mu.Lock()
	if r.active != sess {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s is not the active capture session", sess.ID)
	}
	r.active = nil
	r.mu.Unlock()

	sess.cancel()
	<-sess.done
	sess.source.Close()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	trace := &playbook.ActionTrace{
		SessionID: sess.ID,
		StartedAt: sess.StartedAt,
		EndedAt:   time.Now(),
		Events:    sess.events,
	}

	logging.Info("Capture session %s stopped with %d events", sess.ID, len(trace.Events))
	return trace, sess.err
}

// Active reports whether a capture session is currently running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}
