package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/playbook"
)

// Options tunes replay behavior.
type Options struct {
	// Retries is the number of extra attempts after a failed step.
	Retries int
	// Backoff is the pause before each retry.
	Backoff time.Duration
	// SettleInterval and SettleDeadline bound the pre-step settle wait.
	SettleInterval time.Duration
	SettleDeadline time.Duration
	// WaitForTimeout bounds wait_for steps.
	WaitForTimeout time.Duration
	// ScreenshotDir receives failure captures. Empty disables them.
	ScreenshotDir string
}

// DefaultOptions returns the replay defaults.
func DefaultOptions() Options {
	return Options{
		Retries:        3,
		Backoff:        500 * time.Millisecond,
		SettleInterval: 150 * time.Millisecond,
		SettleDeadline: 5 * time.Second,
		WaitForTimeout: 10 * time.Second,
	}
}

// Engine replays bound playbooks step by step.
type Engine struct {
	driver Driver
	opts   Options
}

// NewEngine creates a replay engine over the given driver.
func NewEngine(driver Driver, opts Options) *Engine {
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = 150 * time.Millisecond
	}
	if opts.SettleDeadline <= 0 {
		opts.SettleDeadline = 5 * time.Second
	}
	if opts.WaitForTimeout <= 0 {
		opts.WaitForTimeout = 10 * time.Second
	}
	return &Engine{driver: driver, opts: opts}
}

// Replay executes the playbook's steps strictly in index order. The first
// step that exhausts its retries stops the run; later steps are never
// attempted. The partial result is returned alongside the error.
func (e *Engine) Replay(ctx context.Context, runID string, bound *playbook.BoundPlaybook) (*playbook.RunResult, error) {
	result := &playbook.RunResult{RunID: runID}

	for _, step := range bound.Playbook.Steps {
		// Cancellation is honored between steps; a step in flight runs
		// to completion.
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome := e.runStep(ctx, step)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Status == playbook.StepFailed {
			err := fmt.Errorf("step %d (%s) failed after %d attempts: %s",
				step.Index, step.Kind, outcome.Attempts, outcome.Reason)
			logging.Error("Replay %s: %v", runID, err)
			return result, err
		}
	}

	logging.Info("Replay %s completed: %d steps", runID, len(result.Outcomes))
	return result, nil
}

// runStep executes one step with retries.
func (e *Engine) runStep(ctx context.Context, step playbook.Step) playbook.StepOutcome {
	outcome := playbook.StepOutcome{Index: step.Index}
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				outcome.Status = playbook.StepFailed
				outcome.Reason = ctx.Err().Error()
				outcome.Attempts = attempt
				outcome.Duration = time.Since(start)
				return outcome
			case <-time.After(e.opts.Backoff):
			}
			logging.Debug("Step %d attempt %d", step.Index, attempt+1)
		}
		outcome.Attempts = attempt + 1

		e.waitSettled(ctx)

		if lastErr = e.executeStep(ctx, step); lastErr != nil {
			continue
		}
		if lastErr = e.verifyStep(ctx, step); lastErr != nil {
			continue
		}

		outcome.Status = playbook.StepSucceeded
		outcome.Duration = time.Since(start)
		return outcome
	}

	outcome.Status = playbook.StepFailed
	outcome.Reason = lastErr.Error()
	outcome.Duration = time.Since(start)
	outcome.Screenshot = e.captureFailure(ctx, step)
	return outcome
}

// executeStep dispatches one step to the driver.
func (e *Engine) executeStep(ctx context.Context, step playbook.Step) error {
	switch step.Kind {
	case playbook.StepClick:
		return e.driver.Click(ctx, step.Target)
	case playbook.StepTypeText:
		return e.driver.TypeText(ctx, step.Target, step.Value)
	case playbook.StepKeyCombo:
		return e.driver.KeyCombo(ctx, step.Value)
	case playbook.StepScroll:
		dx, dy := sumScroll(step.Actions)
		return e.driver.Scroll(ctx, step.Target, dx, dy)
	case playbook.StepNavigate:
		return e.driver.Navigate(ctx, step.Value)
	case playbook.StepWaitFor:
		return e.driver.WaitVisible(ctx, step.Target.Selector, e.opts.WaitForTimeout)
	case playbook.StepRawReplay:
		return e.replayRaw(ctx, step)
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// replayRaw dispatches a step's recorded actions literally, without
// semantic interpretation.
func (e *Engine) replayRaw(ctx context.Context, step playbook.Step) error {
	for _, action := range step.Actions {
		var err error
		switch action.Kind {
		case playbook.ActionClick:
			if action.Target.Selector != "" {
				err = e.driver.Click(ctx, action.Target)
			} else {
				err = e.driver.MouseClickXY(ctx, action.Target.X, action.Target.Y)
			}
		case playbook.ActionTypeText:
			err = e.driver.TypeText(ctx, action.Target, action.Value)
		case playbook.ActionKeyCombo:
			err = e.driver.KeyEvent(ctx, action.Value, nil)
		case playbook.ActionScroll:
			err = e.driver.Scroll(ctx, action.Target, action.DeltaX, action.DeltaY)
		case playbook.ActionFocus:
			// Focus transitions have no replayable side effect here.
			continue
		default:
			err = fmt.Errorf("unknown action kind %q", action.Kind)
		}
		if err != nil {
			return fmt.Errorf("raw action %s failed: %w", action.Kind, err)
		}
	}
	return nil
}

// captureFailure writes a screenshot of the failed step and returns its
// path, or empty when disabled or unavailable.
func (e *Engine) captureFailure(ctx context.Context, step playbook.Step) string {
	if e.opts.ScreenshotDir == "" {
		return ""
	}

	buf, err := e.driver.Screenshot(ctx)
	if err != nil {
		logging.Warn("Failed to capture screenshot for step %d: %v", step.Index, err)
		return ""
	}

	if err := os.MkdirAll(e.opts.ScreenshotDir, 0755); err != nil {
		logging.Warn("Failed to create screenshot directory: %v", err)
		return ""
	}

	name := fmt.Sprintf("step-%d-%s.png", step.Index, time.Now().Format("20060102-150405"))
	path := filepath.Join(e.opts.ScreenshotDir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		logging.Warn("Failed to write screenshot: %v", err)
		return ""
	}
	return path
}

func sumScroll(actions []playbook.NormalizedAction) (float64, float64) {
	var dx, dy float64
	for _, a := range actions {
		dx += a.DeltaX
		dy += a.DeltaY
	}
	return dx, dy
}
