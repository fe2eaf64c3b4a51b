package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/pipeline"
	"github.com/sells-group/tolldata-cli/internal/resilience"
	"github.com/sells-group/tolldata-cli/internal/store"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

// Activity names besides the step names themselves.
const (
	ActivityBeginRun = "begin-run"
	ActivityEndRun   = "end-run"
)

// PermanentErrorType is the application error type Temporal never retries.
const PermanentErrorType = "PermanentStepError"

// EndRunInput closes a recorded run.
type EndRunInput struct {
	RunID string `json:"run_id"`
	Error string `json:"error,omitempty"`
}

// Activities adapts tolldata.Steps to Temporal activities and records each
// attempt in the run log. store and notifier may be nil.
type Activities struct {
	steps    *tolldata.Steps
	store    store.Store
	notifier pipeline.Notifier
}

// NewActivities creates the activity set.
func NewActivities(steps *tolldata.Steps, st store.Store, notifier pipeline.Notifier) *Activities {
	return &Activities{steps: steps, store: st, notifier: notifier}
}

// BeginRun opens a run record for the workflow execution and returns its ID.
// Without a run log the ID is empty.
func (a *Activities) BeginRun(ctx context.Context, workflowID string) (string, error) {
	if a.store == nil {
		return "", nil
	}
	run, err := a.store.CreateRun(ctx, model.TriggerWorkflow, workflowID)
	if err != nil {
		return "", eris.Wrap(err, "orchestrator: create run")
	}
	return run.ID, nil
}

// EndRun records the run outcome and sends alerts.
func (a *Activities) EndRun(ctx context.Context, in EndRunInput) error {
	if a.store == nil || in.RunID == "" {
		return nil
	}
	status := model.RunStatusComplete
	if in.Error != "" {
		status = model.RunStatusFailed
	}
	if err := a.store.FinishRun(ctx, in.RunID, status, in.Error); err != nil {
		return eris.Wrap(err, "orchestrator: finish run")
	}

	if a.notifier != nil {
		run, err := a.store.GetRun(ctx, in.RunID)
		if err != nil {
			activity.GetLogger(ctx).Warn("orchestrator: load run for alerts", "run_id", in.RunID, "error", err)
			return nil
		}
		a.notifier.NotifyRun(ctx, run)
	}
	return nil
}

// StepActivity returns the activity running step name. Its single argument
// is the run ID from BeginRun.
func (a *Activities) StepActivity(name string) func(ctx context.Context, runID string) (*tolldata.StepResult, error) {
	return func(ctx context.Context, runID string) (*tolldata.StepResult, error) {
		return a.runStep(ctx, name, runID)
	}
}

func (a *Activities) runStep(ctx context.Context, name, runID string) (*tolldata.StepResult, error) {
	fn, err := a.steps.Lookup(name)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), PermanentErrorType, err)
	}

	attempt := int(activity.GetInfo(ctx).Attempt)
	log := zap.L().With(
		zap.String("component", "orchestrator"),
		zap.String("step", name),
		zap.String("run_id", runID),
		zap.Int("attempt", attempt),
	)

	var stepID string
	if a.store != nil && runID != "" {
		st, err := a.store.StartStep(ctx, runID, name, attempt)
		if err != nil {
			log.Warn("orchestrator: failed to record step start", zap.Error(err))
		} else {
			stepID = st.ID
		}
	}

	start := time.Now()
	res, stepErr := fn(ctx)
	if stepErr != nil {
		log.Error("orchestrator: step failed", zap.Duration("duration", time.Since(start)), zap.Error(stepErr))
		if stepID != "" {
			if err := a.store.FailStep(ctx, stepID, stepErr.Error()); err != nil {
				log.Warn("orchestrator: failed to record step failure", zap.Error(err))
			}
		}
		if resilience.IsPermanent(stepErr) {
			return nil, temporal.NewNonRetryableApplicationError(stepErr.Error(), PermanentErrorType, stepErr)
		}
		return nil, stepErr
	}

	log.Info("orchestrator: step complete", zap.Int64("rows", res.Rows), zap.Duration("duration", time.Since(start)))
	if stepID != "" {
		outcome := model.StepOutcome{Rows: res.Rows, Dropped: res.Dropped, Short: res.Short, Output: res.Output}
		if err := a.store.CompleteStep(ctx, stepID, outcome); err != nil {
			log.Warn("orchestrator: failed to record step completion", zap.Error(err))
		}
	}
	return res, nil
}
