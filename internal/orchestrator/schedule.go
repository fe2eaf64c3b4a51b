package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/config"
)

// ScheduleOptions builds the recurring schedule: cfg.Cron, skip overlapping
// runs, and a one-minute catch-up window so missed ticks are not replayed.
func ScheduleOptions(cfg config.OrchestratorConfig, params WorkflowParams) client.ScheduleOptions {
	return client.ScheduleOptions{
		ID: cfg.ScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{cfg.Cron},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        cfg.WorkflowID,
			Workflow:  WorkflowName,
			Args:      []any{params},
			TaskQueue: cfg.TaskQueue,
		},
		Overlap:       enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		CatchupWindow: time.Minute,
	}
}

// CreateSchedule registers the recurring schedule with Temporal.
func CreateSchedule(ctx context.Context, c client.Client, cfg config.OrchestratorConfig, params WorkflowParams) (string, error) {
	h, err := c.ScheduleClient().Create(ctx, ScheduleOptions(cfg, params))
	if err != nil {
		return "", eris.Wrapf(err, "orchestrator: create schedule %s", cfg.ScheduleID)
	}
	zap.L().Info("orchestrator: schedule created",
		zap.String("schedule_id", h.GetID()),
		zap.String("cron", cfg.Cron),
		zap.String("task_queue", cfg.TaskQueue),
	)
	return h.GetID(), nil
}

// Trigger starts one workflow execution and waits for it to finish.
func Trigger(ctx context.Context, c client.Client, cfg config.OrchestratorConfig, params WorkflowParams) (*WorkflowResult, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s-%d", cfg.WorkflowID, time.Now().Unix()),
		TaskQueue: cfg.TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, WorkflowName, params)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: start workflow")
	}
	zap.L().Info("orchestrator: workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)

	var result WorkflowResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, eris.Wrapf(err, "orchestrator: workflow %s", run.GetID())
	}
	return &result, nil
}
