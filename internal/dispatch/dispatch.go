// Package dispatch owns the run lifecycle: queueing, session acquisition,
// replay execution, and cancellation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/session"
	"github.com/rehearse-io/rehearse/internal/store"
)

// SessionManager hands out isolated execution sessions.
type SessionManager interface {
	Acquire(ctx context.Context, mode playbook.Mode) (*session.Session, error)
	Release(sess *session.Session)
}

// Replayer executes a bound playbook.
type Replayer interface {
	Replay(ctx context.Context, runID string, bound *playbook.BoundPlaybook) (*playbook.RunResult, error)
}

// ReplayerFactory builds a replayer bound to a session.
type ReplayerFactory func(sess *session.Session) Replayer

// Options configures a Dispatcher.
type Options struct {
	// MaxConcurrent bounds simultaneously executing runs.
	MaxConcurrent int
	// RunTimeout is the wall-clock ceiling per run.
	RunTimeout time.Duration
}

// Dispatcher manages runs from submission to terminal state.
type Dispatcher struct {
	store       *store.Store
	sessions    SessionManager
	newReplayer ReplayerFactory
	timeout     time.Duration
	sem         chan struct{}

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// New creates a dispatcher.
func New(st *store.Store, sessions SessionManager, factory ReplayerFactory, opts Options) *Dispatcher {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	return &Dispatcher{
		store:       st,
		sessions:    sessions,
		newReplayer: factory,
		timeout:     opts.RunTimeout,
		sem:         make(chan struct{}, opts.MaxConcurrent),
		active:      make(map[string]*activeRun),
	}
}

// Submit validates the request, binds the playbook, and queues a run.
// Binding failures surface immediately; nothing is queued.
func (d *Dispatcher) Submit(ctx context.Context, req playbook.RunRequest) (*playbook.Run, error) {
	pb, err := d.store.LoadPlaybook(ctx, req.PlaybookID, req.Version)
	if err != nil {
		return nil, err
	}
	req.Version = pb.Version

	bound, err := pb.Bind(req.Bindings)
	if err != nil {
		return nil, err
	}

	run := &playbook.Run{
		ID:        store.NewRunID(),
		Request:   req,
		State:     playbook.RunQueued,
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	d.mu.Lock()
	d.active[run.ID] = ar
	d.mu.Unlock()

	d.wg.Add(1)
	go d.execute(runCtx, run, bound, ar)

	logging.Info("Run %s queued for playbook %s v%d", run.ID, req.PlaybookID, req.Version)
	return run, nil
}

// execute drives one run to a terminal state.
func (d *Dispatcher) execute(ctx context.Context, run *playbook.Run, bound *playbook.BoundPlaybook, ar *activeRun) {
	defer d.wg.Done()
	defer close(ar.done)
	defer func() {
		d.mu.Lock()
		delete(d.active, run.ID)
		d.mu.Unlock()
	}()

	// Wait for a worker slot; cancellation while queued is immediate.
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		d.finish(run, playbook.RunCancelled, "cancelled while queued")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	sess, err := d.sessions.Acquire(runCtx, run.Request.Mode)
	if err != nil {
		if d.wasCancelled(ar) {
			d.finish(run, playbook.RunCancelled, "cancelled while acquiring session")
			return
		}
		if errors.Is(err, session.ErrUnavailable) {
			d.finish(run, playbook.RunFailed, fmt.Sprintf("no session available: %v", err))
			return
		}
		d.finish(run, playbook.RunFailed, fmt.Sprintf("session acquisition failed: %v", err))
		return
	}
	defer d.sessions.Release(sess)

	now := time.Now()
	run.State = playbook.RunRunning
	run.StartedAt = &now
	run.SessionID = sess.ID
	if err := d.store.UpdateRun(context.Background(), run); err != nil {
		logging.Error("Failed to persist run %s start: %v", run.ID, err)
	}

	result, replayErr := d.newReplayer(sess).Replay(runCtx, run.ID, bound)
	run.Result = result

	switch {
	case replayErr == nil:
		d.finish(run, playbook.RunSucceeded, "")
	case d.wasCancelled(ar) || errors.Is(replayErr, context.Canceled):
		d.finish(run, playbook.RunCancelled, replayErr.Error())
	case errors.Is(replayErr, context.DeadlineExceeded):
		d.finish(run, playbook.RunFailed, fmt.Sprintf("run exceeded %s ceiling", d.timeout))
	case sess.Lost():
		d.finish(run, playbook.RunFailed, fmt.Errorf("%w: %v", session.ErrSessionLost, replayErr).Error())
	default:
		d.finish(run, playbook.RunFailed, replayErr.Error())
	}
}

// finish moves the run to a terminal state and persists it.
func (d *Dispatcher) finish(run *playbook.Run, state playbook.RunState, errMsg string) {
	now := time.Now()
	run.State = state
	run.EndedAt = &now
	run.Error = errMsg

	if err := d.store.UpdateRun(context.Background(), run); err != nil {
		logging.Error("Failed to persist run %s final state: %v", run.ID, err)
	}
	logging.Info("Run %s finished: %s", run.ID, state)
}

func (d *Dispatcher) wasCancelled(ar *activeRun) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ar.cancelled
}

// Cancel requests cancellation of a run and waits up to grace for it to
// reach a terminal state. The step in flight is allowed to finish.
func (d *Dispatcher) Cancel(runID string, grace time.Duration) error {
	d.mu.Lock()
	ar, ok := d.active[runID]
	if ok {
		ar.cancelled = true
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("run %s is not active", runID)
	}

	ar.cancel()
	logging.Info("Run %s cancellation requested", runID)

	select {
	case <-ar.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("run %s did not stop within %s", runID, grace)
	}
}

// Wait blocks until a run reaches a terminal state.
func (d *Dispatcher) Wait(runID string) {
	d.mu.Lock()
	ar, ok := d.active[runID]
	d.mu.Unlock()
	if !ok {
		return
	}
	<-ar.done
}

// Shutdown waits for all in-flight runs to finish.
func (d *Dispatcher) Shutdown() {
	d.wg.Wait()
}
