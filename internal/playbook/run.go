package playbook

import "time"

// Mode selects where a run executes.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunQueued    RunState = "QUEUED"
	RunRunning   RunState = "RUNNING"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
	RunCancelled RunState = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

// RunRequest asks for one execution of a stored playbook. Bindings must
// cover every declared parameter. Version zero means latest.
type RunRequest struct {
	PlaybookID string            `json:"playbook_id" yaml:"playbook_id"`
	Version    int               `json:"version" yaml:"version"`
	Bindings   map[string]string `json:"bindings" yaml:"bindings"`
	Mode       Mode              `json:"mode" yaml:"mode"`
}

// StepStatus is the outcome of a single replayed step.
type StepStatus string

const (
	StepSucceeded StepStatus = "SUCCEEDED"
	StepSkipped   StepStatus = "SKIPPED"
	StepFailed    StepStatus = "FAILED"
)

// StepOutcome records how one step went during replay.
type StepOutcome struct {
	Index      int           `json:"index" yaml:"index"`
	Status     StepStatus    `json:"status" yaml:"status"`
	Reason     string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Attempts   int           `json:"attempts" yaml:"attempts"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Screenshot string        `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
}

// RunResult is the per-step outcome log of a completed replay. Outcomes
// are strictly ordered by step index with no gaps up to the first
// failed step; steps after a failure are absent.
type RunResult struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Outcomes []StepOutcome `json:"step_outcomes" yaml:"step_outcomes"`
}

// FirstFailed returns the outcome of the first failed step, if any.
func (r *RunResult) FirstFailed() (StepOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Status == StepFailed {
			return o, true
		}
	}
	return StepOutcome{}, false
}

// Succeeded reports whether every step completed successfully.
func (r *RunResult) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Status == StepFailed {
			return false
		}
	}
	return true
}

// Run is one execution attempt of a bound playbook, tracked through its
// lifecycle to a terminal state.
type Run struct {
	ID        string     `json:"run_id" yaml:"run_id"`
	Request   RunRequest `json:"request" yaml:"request"`
	SessionID string     `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	State     RunState   `json:"state" yaml:"state"`
	Result    *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}
