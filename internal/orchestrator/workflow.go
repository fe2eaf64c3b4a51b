// Package orchestrator runs the toll data steps under Temporal: one
// activity per step, a retry policy of one retry after five minutes, and a
// per-minute schedule that skips overlapping runs.
package orchestrator

import (
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/tolldata-cli/internal/config"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

// WorkflowName is the registered name of TollDataWorkflow.
const WorkflowName = "etl_toll_data"

// WorkflowParams configures one workflow execution.
type WorkflowParams struct {
	Export      bool          `json:"export"`
	Load        bool          `json:"load"`
	Retries     int           `json:"retries"`
	RetryDelay  time.Duration `json:"retry_delay"`
	StepTimeout time.Duration `json:"step_timeout"`
}

// WorkflowResult summarizes a successful execution.
type WorkflowResult struct {
	RunID string                `json:"run_id"`
	Steps []tolldata.StepResult `json:"steps"`
}

// ParamsFromConfig builds workflow parameters from cfg.
func ParamsFromConfig(cfg *config.Config) WorkflowParams {
	return WorkflowParams{
		Export:      cfg.Export.XLSX,
		Load:        cfg.Load.Enabled,
		Retries:     cfg.Orchestrator.Retries,
		RetryDelay:  time.Duration(cfg.Orchestrator.RetryDelaySecs) * time.Second,
		StepTimeout: time.Duration(cfg.Orchestrator.StepTimeoutSecs) * time.Second,
	}
}

// RetryPolicy is the step retry policy: Retries extra attempts at a fixed
// RetryDelay. Permanent step errors are never retried.
func (p WorkflowParams) RetryPolicy() *temporal.RetryPolicy {
	delay := p.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Minute
	}
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	return &temporal.RetryPolicy{
		InitialInterval:        delay,
		BackoffCoefficient:     1.0,
		MaximumInterval:        delay,
		MaximumAttempts:        int32(retries + 1),
		NonRetryableErrorTypes: []string{PermanentErrorType},
	}
}

func (p WorkflowParams) stepTimeout() time.Duration {
	if p.StepTimeout <= 0 {
		return 10 * time.Minute
	}
	return p.StepTimeout
}

// TollDataWorkflow runs download, untar, the three extractors in parallel,
// consolidate and transform, then export and load when enabled. The run is
// recorded through the begin-run and end-run activities.
func TollDataWorkflow(ctx workflow.Context, params WorkflowParams) (*WorkflowResult, error) {
	log := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)

	bookkeeping := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
	stepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: params.stepTimeout(),
		RetryPolicy:         params.RetryPolicy(),
	})

	var runID string
	if err := workflow.ExecuteActivity(bookkeeping, ActivityBeginRun, info.WorkflowExecution.ID).Get(ctx, &runID); err != nil {
		return nil, eris.Wrap(err, "workflow: begin run")
	}
	log.Info("workflow: run started", "run_id", runID)

	result := &WorkflowResult{RunID: runID}
	runErr := runSteps(stepCtx, params, runID, result)

	end := EndRunInput{RunID: runID}
	if runErr != nil {
		end.Error = runErr.Error()
	}
	if err := workflow.ExecuteActivity(bookkeeping, ActivityEndRun, end).Get(ctx, nil); err != nil {
		log.Warn("workflow: end run", "run_id", runID, "error", err)
	}

	if runErr != nil {
		return nil, runErr
	}
	log.Info("workflow: run complete", "run_id", runID, "steps", len(result.Steps))
	return result, nil
}

func runSteps(ctx workflow.Context, params WorkflowParams, runID string, result *WorkflowResult) error {
	step := func(name string) error {
		var res tolldata.StepResult
		if err := workflow.ExecuteActivity(ctx, name, runID).Get(ctx, &res); err != nil {
			return eris.Wrapf(err, "workflow: step %s", name)
		}
		result.Steps = append(result.Steps, res)
		return nil
	}

	for _, name := range []string{tolldata.StepDownload, tolldata.StepUntar} {
		if err := step(name); err != nil {
			return err
		}
	}

	// Extractors fan out; every future is awaited before consolidating.
	futures := make([]workflow.Future, 0, 3)
	for _, name := range tolldata.ExtractStepNames() {
		futures = append(futures, workflow.ExecuteActivity(ctx, name, runID))
	}
	var firstErr error
	for i, f := range futures {
		var res tolldata.StepResult
		if err := f.Get(ctx, &res); err != nil {
			if firstErr == nil {
				firstErr = eris.Wrapf(err, "workflow: step %s", tolldata.ExtractStepNames()[i])
			}
			continue
		}
		result.Steps = append(result.Steps, res)
	}
	if firstErr != nil {
		return firstErr
	}

	tail := []string{tolldata.StepConsolidate, tolldata.StepTransform}
	if params.Export {
		tail = append(tail, tolldata.StepExport)
	}
	if params.Load {
		tail = append(tail, tolldata.StepLoad)
	}
	for _, name := range tail {
		if err := step(name); err != nil {
			return err
		}
	}
	return nil
}
