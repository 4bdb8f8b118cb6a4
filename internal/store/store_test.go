package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPlaybook(name string) *playbook.Playbook {
	return &playbook.Playbook{
		SchemaVersion: playbook.SchemaVersion,
		Name:          name,
		Steps: []playbook.Step{
			{Index: 0, Kind: playbook.StepClick, Title: "Open login",
				Target: playbook.ResolvedTarget{Selector: "#login"}},
			{Index: 1, Kind: playbook.StepTypeText, Title: "Enter email",
				Target: playbook.ResolvedTarget{Selector: "#email"},
				Value:  "${email}", Parameters: []string{"email"}},
		},
		Parameters: []playbook.Parameter{
			{Name: "email", Type: playbook.ParamText, Example: "user@example.com"},
		},
	}
}

func TestSaveAllocatesIDAndVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pb := testPlaybook("login")
	if err := s.SavePlaybook(ctx, pb); err != nil {
		t.Fatalf("save: %v", err)
	}
	if pb.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}
	if pb.Version != 1 {
		t.Fatalf("version = %d, want 1", pb.Version)
	}

	// Saving again under the same ID appends a version.
	pb2 := testPlaybook("login")
	pb2.ID = pb.ID
	if err := s.SavePlaybook(ctx, pb2); err != nil {
		t.Fatalf("save v2: %v", err)
	}
	if pb2.Version != 2 {
		t.Fatalf("version = %d, want 2", pb2.Version)
	}
}

func TestLoadVersions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1 := testPlaybook("checkout")
	if err := s.SavePlaybook(ctx, v1); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	v2 := testPlaybook("checkout renamed")
	v2.ID = v1.ID
	if err := s.SavePlaybook(ctx, v2); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	// Version 0 loads the latest.
	latest, err := s.LoadPlaybook(ctx, v1.ID, 0)
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if latest.Name != "checkout renamed" || latest.Version != 2 {
		t.Fatalf("latest = %q v%d, want checkout renamed v2", latest.Name, latest.Version)
	}

	// Old versions stay addressable.
	old, err := s.LoadPlaybook(ctx, v1.ID, 1)
	if err != nil {
		t.Fatalf("load v1: %v", err)
	}
	if old.Name != "checkout" {
		t.Fatalf("v1 name = %q, want checkout", old.Name)
	}

	versions, err := s.ListPlaybookVersions(ctx, v1.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Fatalf("versions = %v, want [1 2]", versions)
	}
}

func TestLoadMissingPlaybook(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadPlaybook(context.Background(), "pb_missing", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveRejectsInvalidPlaybook(t *testing.T) {
	s := openTestStore(t)

	pb := testPlaybook("broken")
	pb.Steps[1].Index = 5 // gap in the sequence
	if err := s.SavePlaybook(context.Background(), pb); err == nil {
		t.Fatal("expected save of invalid playbook to fail")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pb := testPlaybook("login")
	if err := s.SavePlaybook(ctx, pb); err != nil {
		t.Fatalf("save playbook: %v", err)
	}

	run := &playbook.Run{
		ID: NewRunID(),
		Request: playbook.RunRequest{
			PlaybookID: pb.ID,
			Version:    pb.Version,
			Mode:       playbook.ModeLocal,
		},
		State:     playbook.RunQueued,
		CreatedAt: time.Now(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	started := time.Now()
	run.State = playbook.RunRunning
	run.StartedAt = &started
	run.SessionID = "sess_1"
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	ended := time.Now()
	run.State = playbook.RunFailed
	run.EndedAt = &ended
	run.Error = "step 1 failed: element not found"
	run.Result = &playbook.RunResult{
		RunID: run.ID,
		Outcomes: []playbook.StepOutcome{
			{Index: 0, Status: playbook.StepSucceeded, Attempts: 1},
			{Index: 1, Status: playbook.StepFailed, Attempts: 3, Reason: "element not found"},
		},
	}
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run final: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.State != playbook.RunFailed {
		t.Errorf("state = %s, want FAILED", got.State)
	}
	if got.SessionID != "sess_1" {
		t.Errorf("session id = %q, want sess_1", got.SessionID)
	}
	if got.Result == nil || len(got.Result.Outcomes) != 2 {
		t.Fatalf("result = %+v, want 2 outcomes", got.Result)
	}
	if failed, ok := got.Result.FirstFailed(); !ok || failed.Index != 1 {
		t.Errorf("first failed = %+v, want index 1", failed)
	}
	if got.StartedAt == nil || got.EndedAt == nil {
		t.Error("expected started_at and ended_at to round-trip")
	}
}

func TestUpdateMissingRun(t *testing.T) {
	s := openTestStore(t)

	run := &playbook.Run{ID: "run_ghost", State: playbook.RunRunning, CreatedAt: time.Now()}
	if err := s.UpdateRun(context.Background(), run); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSweepRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pb := testPlaybook("login")
	if err := s.SavePlaybook(ctx, pb); err != nil {
		t.Fatalf("save playbook: %v", err)
	}

	mkRun := func(state playbook.RunState, age time.Duration) {
		run := &playbook.Run{
			ID:        NewRunID(),
			Request:   playbook.RunRequest{PlaybookID: pb.ID, Version: pb.Version, Mode: playbook.ModeLocal},
			State:     state,
			CreatedAt: time.Now().Add(-age),
		}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	mkRun(playbook.RunSucceeded, 48*time.Hour) // old terminal, swept
	mkRun(playbook.RunRunning, 48*time.Hour)   // old but live, kept
	mkRun(playbook.RunFailed, time.Hour)       // recent, kept

	swept, err := s.SweepRuns(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	runs, err := s.ListRuns(ctx, pb.ID, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("remaining runs = %d, want 2", len(runs))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pb := testPlaybook("login")
	if err := s.SavePlaybook(ctx, pb); err != nil {
		t.Fatalf("save: %v", err)
	}

	path := filepath.Join(t.TempDir(), "login.yaml")
	if err := s.ExportPlaybook(ctx, pb.ID, 0, path); err != nil {
		t.Fatalf("export: %v", err)
	}

	imported, err := s.ImportPlaybook(ctx, path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.ID != pb.ID {
		t.Errorf("imported id = %q, want %q (re-import should append a version)", imported.ID, pb.ID)
	}
	if imported.Version != 2 {
		t.Errorf("imported version = %d, want 2", imported.Version)
	}
	if len(imported.Steps) != 2 {
		t.Errorf("imported steps = %d, want 2", len(imported.Steps))
	}
	if imported.Steps[1].Value != "${email}" {
		t.Errorf("placeholder = %q, want ${email}", imported.Steps[1].Value)
	}
}
