package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/orchestrator"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a Temporal worker for the toll data workflow",
	Long:  "Hosts the etl_toll_data workflow and one activity per pipeline step on the configured task queue until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("orchestrator"); err != nil {
			return err
		}

		env, err := initPipeline(ctx, cfg.Load.Enabled)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := orchestrator.Dial(cfg.Orchestrator)
		if err != nil {
			return err
		}
		defer c.Close()

		acts := orchestrator.NewActivities(env.Steps, env.Store, env.Alerter)
		w := orchestrator.NewWorker(c, cfg.Orchestrator, acts)

		zap.L().Info("starting worker",
			zap.String("task_queue", cfg.Orchestrator.TaskQueue),
			zap.String("namespace", cfg.Orchestrator.Namespace),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
