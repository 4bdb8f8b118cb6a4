package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/session"
	"github.com/rehearse-io/rehearse/internal/store"
)

// fakeSessions hands out inert sessions and counts them.
type fakeSessions struct {
	mu       sync.Mutex
	next     int
	acquired []string
	released []string
	err      error
	lost     bool
}

func (f *fakeSessions) Acquire(ctx context.Context, mode playbook.Mode) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	id := fmt.Sprintf("sess_%d", f.next)
	f.acquired = append(f.acquired, id)
	sessCtx := context.Background()
	if f.lost {
		// A dead browser context marks the session as lost.
		dead, cancel := context.WithCancel(sessCtx)
		cancel()
		sessCtx = dead
	}
	return &session.Session{ID: id, Mode: mode, Ctx: sessCtx}, nil
}

func (f *fakeSessions) Release(sess *session.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sess.ID)
}

// fakeReplayer is scripted per test.
type fakeReplayer struct {
	sessID string
	run    func(ctx context.Context, runID string, sessID string) (*playbook.RunResult, error)
}

func (r *fakeReplayer) Replay(ctx context.Context, runID string, bound *playbook.BoundPlaybook) (*playbook.RunResult, error) {
	return r.run(ctx, runID, r.sessID)
}

func setup(t *testing.T, replay func(ctx context.Context, runID, sessID string) (*playbook.RunResult, error), opts Options) (*Dispatcher, *store.Store, *fakeSessions, *playbook.Playbook) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pb := &playbook.Playbook{
		SchemaVersion: playbook.SchemaVersion,
		Name:          "login",
		Steps: []playbook.Step{
			{Index: 0, Kind: playbook.StepTypeText, Title: "Enter email",
				Target: playbook.ResolvedTarget{Selector: "#email"},
				Value:  "${email}", Parameters: []string{"email"}},
		},
		Parameters: []playbook.Parameter{
			{Name: "email", Type: playbook.ParamText},
		},
	}
	require.NoError(t, st.SavePlaybook(context.Background(), pb))

	sessions := &fakeSessions{}
	factory := func(sess *session.Session) Replayer {
		return &fakeReplayer{sessID: sess.ID, run: replay}
	}
	d := New(st, sessions, factory, opts)
	return d, st, sessions, pb
}

func okReplay(ctx context.Context, runID, sessID string) (*playbook.RunResult, error) {
	return &playbook.RunResult{
		RunID:    runID,
		Outcomes: []playbook.StepOutcome{{Index: 0, Status: playbook.StepSucceeded, Attempts: 1}},
	}, nil
}

func TestRunSucceeds(t *testing.T) {
	d, st, sessions, pb := setup(t, okReplay, Options{MaxConcurrent: 1, RunTimeout: time.Second})

	run, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: pb.ID,
		Mode:       playbook.ModeLocal,
		Bindings:   map[string]string{"email": "a@b.c"},
	})
	require.NoError(t, err)
	assert.Equal(t, playbook.RunQueued, run.State)

	d.Wait(run.ID)

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunSucceeded, got.State)
	assert.Equal(t, pb.Version, got.Request.Version)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Outcomes, 1)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.EndedAt)

	// The session must be given back.
	assert.Equal(t, sessions.acquired, sessions.released)
}

func TestMissingBindingRejectedAtSubmit(t *testing.T) {
	d, st, _, pb := setup(t, okReplay, Options{MaxConcurrent: 1, RunTimeout: time.Second})

	_, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: pb.ID,
		Mode:       playbook.ModeLocal,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, playbook.ErrMissingParameter)

	// Nothing was queued.
	runs, err := st.ListRuns(context.Background(), pb.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestUnknownPlaybookRejected(t *testing.T) {
	d, _, _, _ := setup(t, okReplay, Options{MaxConcurrent: 1, RunTimeout: time.Second})

	_, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: "pb_missing",
		Mode:       playbook.ModeLocal,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentRunsGetDistinctSessions(t *testing.T) {
	release := make(chan struct{})
	replay := func(ctx context.Context, runID, sessID string) (*playbook.RunResult, error) {
		<-release
		return okReplay(ctx, runID, sessID)
	}
	d, st, sessions, pb := setup(t, replay, Options{MaxConcurrent: 2, RunTimeout: 5 * time.Second})

	bindings := map[string]string{"email": "a@b.c"}
	run1, err := d.Submit(context.Background(), playbook.RunRequest{PlaybookID: pb.ID, Mode: playbook.ModeLocal, Bindings: bindings})
	require.NoError(t, err)
	run2, err := d.Submit(context.Background(), playbook.RunRequest{PlaybookID: pb.ID, Mode: playbook.ModeLocal, Bindings: bindings})
	require.NoError(t, err)

	// Both runs hold sessions at the same time.
	require.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return len(sessions.acquired) == 2
	}, time.Second, 5*time.Millisecond)

	sessions.mu.Lock()
	assert.NotEqual(t, sessions.acquired[0], sessions.acquired[1])
	sessions.mu.Unlock()

	close(release)
	d.Wait(run1.ID)
	d.Wait(run2.ID)

	for _, id := range []string{run1.ID, run2.ID} {
		got, err := st.GetRun(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, playbook.RunSucceeded, got.State)
	}
	assert.Len(t, sessions.released, 2)
}

func TestSessionUnavailableFailsRun(t *testing.T) {
	d, st, sessions, pb := setup(t, okReplay, Options{MaxConcurrent: 1, RunTimeout: time.Second})
	sessions.err = fmt.Errorf("%w: pool exhausted", session.ErrUnavailable)

	run, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: pb.ID,
		Mode:       playbook.ModeLocal,
		Bindings:   map[string]string{"email": "a@b.c"},
	})
	require.NoError(t, err)

	d.Wait(run.ID)

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunFailed, got.State)
	assert.Contains(t, got.Error, "no session available")
}

func TestSessionLostDuringReplayFailsRun(t *testing.T) {
	replay := func(ctx context.Context, runID, sessID string) (*playbook.RunResult, error) {
		return &playbook.RunResult{RunID: runID}, fmt.Errorf("step 0 (click) failed after 3 attempts: websocket closed")
	}
	d, st, sessions, pb := setup(t, replay, Options{MaxConcurrent: 1, RunTimeout: time.Second})
	sessions.lost = true

	run, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: pb.ID,
		Mode:       playbook.ModeLocal,
		Bindings:   map[string]string{"email": "a@b.c"},
	})
	require.NoError(t, err)

	d.Wait(run.ID)

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunFailed, got.State)
	assert.Contains(t, got.Error, session.ErrSessionLost.Error())
	assert.Contains(t, got.Error, "websocket closed")

	// A lost session is still released so its lease can be torn down.
	assert.Equal(t, sessions.acquired, sessions.released)
}

func TestCancelRunningRun(t *testing.T) {
	replay := func(ctx context.Context, runID, sessID string) (*playbook.RunResult, error) {
		<-ctx.Done()
		return &playbook.RunResult{RunID: runID}, ctx.Err()
	}
	d, st, sessions, pb := setup(t, replay, Options{MaxConcurrent: 1, RunTimeout: 10 * time.Second})

	run, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: pb.ID,
		Mode:       playbook.ModeLocal,
		Bindings:   map[string]string{"email": "a@b.c"},
	})
	require.NoError(t, err)

	// Wait until the run holds a session, then cancel it.
	require.Eventually(t, func() bool {
		sessions.mu.Lock()
		defer sessions.mu.Unlock()
		return len(sessions.acquired) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Cancel(run.ID, time.Second))

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunCancelled, got.State)

	// The session must be releasable after cancellation.
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	assert.Len(t, sessions.released, 1)
}

func TestCancelUnknownRun(t *testing.T) {
	d, _, _, _ := setup(t, okReplay, Options{MaxConcurrent: 1, RunTimeout: time.Second})
	assert.Error(t, d.Cancel("run_ghost", 10*time.Millisecond))
}

func TestRunTimeoutFails(t *testing.T) {
	replay := func(ctx context.Context, runID, sessID string) (*playbook.RunResult, error) {
		<-ctx.Done()
		return &playbook.RunResult{RunID: runID}, ctx.Err()
	}
	d, st, _, pb := setup(t, replay, Options{MaxConcurrent: 1, RunTimeout: 20 * time.Millisecond})

	run, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: pb.ID,
		Mode:       playbook.ModeLocal,
		Bindings:   map[string]string{"email": "a@b.c"},
	})
	require.NoError(t, err)

	d.Wait(run.ID)

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunFailed, got.State)
	assert.Contains(t, got.Error, "ceiling")
}

func TestQueuedRunWaitsForSlot(t *testing.T) {
	release := make(chan struct{})
	replay := func(ctx context.Context, runID, sessID string) (*playbook.RunResult, error) {
		select {
		case <-release:
			return okReplay(ctx, runID, sessID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d, st, sessions, pb := setup(t, replay, Options{MaxConcurrent: 1, RunTimeout: 5 * time.Second})

	bindings := map[string]string{"email": "a@b.c"}
	run1, err := d.Submit(context.Background(), playbook.RunRequest{PlaybookID: pb.ID, Mode: playbook.ModeLocal, Bindings: bindings})
	require.NoError(t, err)
	run2, err := d.Submit(context.Background(), playbook.RunRequest{PlaybookID: pb.ID, Mode: playbook.ModeLocal, Bindings: bindings})
	require.NoError(t, err)

	// Only one run may hold a session while the other queues.
	time.Sleep(50 * time.Millisecond)
	sessions.mu.Lock()
	held := len(sessions.acquired)
	sessions.mu.Unlock()
	assert.Equal(t, 1, held)

	close(release)
	d.Wait(run1.ID)
	d.Wait(run2.ID)

	for _, id := range []string{run1.ID, run2.ID} {
		got, err := st.GetRun(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, playbook.RunSucceeded, got.State, "run %s", id)
	}
}

func TestShutdownWaitsForRuns(t *testing.T) {
	var finished bool
	var mu sync.Mutex
	replay := func(ctx context.Context, runID, sessID string) (*playbook.RunResult, error) {
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return okReplay(ctx, runID, sessID)
	}
	d, _, _, pb := setup(t, replay, Options{MaxConcurrent: 1, RunTimeout: time.Second})

	_, err := d.Submit(context.Background(), playbook.RunRequest{
		PlaybookID: pb.ID,
		Mode:       playbook.ModeLocal,
		Bindings:   map[string]string{"email": "a@b.c"},
	})
	require.NoError(t, err)

	d.Shutdown()
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)
}
