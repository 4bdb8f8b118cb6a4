// Package store persists playbooks and run records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// ErrNotFound is returned when a playbook or run does not exist.
var ErrNotFound = fmt.Errorf("not found")

// Store persists playbooks and runs.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the store at the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS playbooks (
			playbook_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			recorded_from TEXT,
			body TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (playbook_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_playbooks_name ON playbooks(name)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			playbook_id TEXT NOT NULL,
			playbook_version INTEGER NOT NULL,
			mode TEXT NOT NULL,
			state TEXT NOT NULL,
			session_id TEXT,
			error TEXT,
			result TEXT,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			ended_at DATETIME,
			FOREIGN KEY (playbook_id, playbook_version) REFERENCES playbooks(playbook_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_playbook ON runs(playbook_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewPlaybookID returns a fresh playbook identifier.
func NewPlaybookID() string {
	return "pb_" + uuid.New().String()[:8]
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// SavePlaybook writes a new immutable version of the playbook. The stored
// version number is allocated here and written back into pb. A playbook
// without an ID gets one assigned.
func (s *Store) SavePlaybook(ctx context.Context, pb *playbook.Playbook) error {
	if err := pb.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid playbook: %w", err)
	}
	if pb.ID == "" {
		pb.ID = NewPlaybookID()
	}
	if pb.CreatedAt.IsZero() {
		pb.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM playbooks WHERE playbook_id = ?`, pb.ID).Scan(&maxVersion)
	if err != nil {
		return err
	}
	pb.Version = int(maxVersion.Int64) + 1

	body, err := json.Marshal(pb)
	if err != nil {
		return fmt.Errorf("failed to encode playbook: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO playbooks (playbook_id, version, name, schema_version, recorded_from, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pb.ID, pb.Version, pb.Name, pb.SchemaVersion, pb.RecordedFrom, string(body), pb.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// LoadPlaybook retrieves a playbook version. Version 0 means latest.
func (s *Store) LoadPlaybook(ctx context.Context, id string, version int) (*playbook.Playbook, error) {
	var body string
	var err error
	if version == 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT body FROM playbooks WHERE playbook_id = ? ORDER BY version DESC LIMIT 1`,
			id).Scan(&body)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT body FROM playbooks WHERE playbook_id = ? AND version = ?`,
			id, version).Scan(&body)
	}
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("playbook %s v%d: %w", id, version, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var pb playbook.Playbook
	if err := json.Unmarshal([]byte(body), &pb); err != nil {
		return nil, fmt.Errorf("failed to decode playbook %s: %w", id, err)
	}
	return &pb, nil
}

// PlaybookSummary is one row of a playbook listing.
type PlaybookSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LatestVersion int       `json:"latest_version"`
	StepCount     int       `json:"step_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListPlaybooks returns the latest version of every playbook.
func (s *Store) ListPlaybooks(ctx context.Context) ([]PlaybookSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.playbook_id, p.name, p.version, p.body, p.created_at
		 FROM playbooks p
		 JOIN (SELECT playbook_id, MAX(version) AS v FROM playbooks GROUP BY playbook_id) latest
		   ON p.playbook_id = latest.playbook_id AND p.version = latest.v
		 ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlaybookSummary
	for rows.Next() {
		var sum PlaybookSummary
		var body string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.LatestVersion, &body, &sum.CreatedAt); err != nil {
			return nil, err
		}
		var pb playbook.Playbook
		if err := json.Unmarshal([]byte(body), &pb); err == nil {
			sum.StepCount = len(pb.Steps)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListPlaybookVersions returns every stored version number for a playbook,
// oldest first.
func (s *Store) ListPlaybookVersions(ctx context.Context, id string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM playbooks WHERE playbook_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("playbook %s: %w", id, ErrNotFound)
	}
	return versions, rows.Err()
}

// CreateRun inserts a new run record.
func (s *Store) CreateRun(ctx context.Context, run *playbook.Run) error {
	result, err := encodeResult(run.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, playbook_id, playbook_version, mode, state, session_id, error, result, created_at, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Request.PlaybookID, run.Request.Version, string(run.Request.Mode),
		string(run.State), run.SessionID, run.Error, result,
		run.CreatedAt, run.StartedAt, run.EndedAt)
	return err
}

// UpdateRun persists the current state of a run.
func (s *Store) UpdateRun(ctx context.Context, run *playbook.Run) error {
	result, err := encodeResult(run.Result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, session_id = ?, error = ?, result = ?, started_at = ?, ended_at = ?
		 WHERE run_id = ?`,
		string(run.State), run.SessionID, run.Error, result, run.StartedAt, run.EndedAt, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*playbook.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, playbook_id, playbook_version, mode, state, session_id, error, result, created_at, started_at, ended_at
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// ListRuns returns runs newest first, optionally filtered by playbook ID.
func (s *Store) ListRuns(ctx context.Context, playbookID string, limit int) ([]*playbook.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT run_id, playbook_id, playbook_version, mode, state, session_id, error, result, created_at, started_at, ended_at
	          FROM runs`
	args := []interface{}{}
	if playbookID != "" {
		query += ` WHERE playbook_id = ?`
		args = append(args, playbookID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*playbook.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SweepRuns deletes terminal runs older than the retention window and
// returns how many were removed. A zero retention disables the sweep.
func (s *Store) SweepRuns(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)
	states := []string{
		string(playbook.RunSucceeded),
		string(playbook.RunFailed),
		string(playbook.RunCancelled),
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE created_at < ? AND state IN (`+placeholders(len(states))+`)`,
		append([]interface{}{cutoff}, toAny(states)...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*playbook.Run, error) {
	var run playbook.Run
	var mode, state string
	var sessionID, errMsg, result sql.NullString
	var startedAt, endedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Request.PlaybookID, &run.Request.Version, &mode,
		&state, &sessionID, &errMsg, &result, &run.CreatedAt, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	run.Request.Mode = playbook.Mode(mode)
	run.State = playbook.RunState(state)
	run.SessionID = sessionID.String
	run.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if result.Valid && result.String != "" {
		var r playbook.RunResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode run result: %w", err)
		}
		run.Result = &r
	}
	return &run, nil
}

func encodeResult(r *playbook.RunResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode run result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
