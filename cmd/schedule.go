package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/orchestrator"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Start one workflow execution and wait for it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("orchestrator"); err != nil {
			return err
		}

		c, err := orchestrator.Dial(cfg.Orchestrator)
		if err != nil {
			return err
		}
		defer c.Close()

		start := time.Now()
		res, err := orchestrator.Trigger(ctx, c, cfg.Orchestrator, orchestrator.ParamsFromConfig(cfg))
		if err != nil {
			return err
		}

		formatRunSteps(os.Stdout, workflowRun(res, start, time.Now()))
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create the recurring Temporal schedule",
	Long:  "Registers a schedule that starts the workflow on orchestrator.cron, skipping a tick while the previous execution is still running.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("orchestrator"); err != nil {
			return err
		}

		c, err := orchestrator.Dial(cfg.Orchestrator)
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := orchestrator.CreateSchedule(ctx, c, cfg.Orchestrator, orchestrator.ParamsFromConfig(cfg))
		if err != nil {
			return err
		}

		zap.L().Debug("schedule ready", zap.String("schedule_id", id))
		fmt.Printf("schedule %s created (%s)\n", id, cfg.Orchestrator.Cron)
		return nil
	},
}

// workflowRun renders a workflow result in the shape of a run log entry.
func workflowRun(res *orchestrator.WorkflowResult, start, end time.Time) *model.Run {
	run := &model.Run{
		ID:         res.RunID,
		Trigger:    model.TriggerWorkflow,
		Status:     model.RunStatusComplete,
		StartedAt:  start,
		FinishedAt: &end,
	}
	for _, s := range res.Steps {
		finished := start.Add(s.Duration)
		run.Steps = append(run.Steps, model.RunStep{
			Name:       s.Step,
			Status:     model.StepStatusComplete,
			Rows:       s.Rows,
			Dropped:    s.Dropped,
			Short:      s.Short,
			Output:     s.Output,
			StartedAt:  start,
			FinishedAt: &finished,
		})
	}
	return run
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(scheduleCmd)
}
