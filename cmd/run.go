package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/pipeline"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

var (
	runExport bool
	runLoad   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline locally",
	Long:  "Downloads, expands, extracts, consolidates and transforms the toll data without Temporal, recording the run in the run log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := pipeline.Options{Export: cfg.Export.XLSX, Load: cfg.Load.Enabled}
		if cmd.Flags().Changed("export") {
			opts.Export = runExport
		}
		if cmd.Flags().Changed("load") {
			opts.Load = runLoad
		}

		env, err := initPipeline(ctx, opts.Load)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := pipeline.New(env.Steps, env.Store, env.Alerter, opts).Run(ctx, model.TriggerManual)
		if run != nil {
			formatRunSteps(os.Stdout, run)
		}
		return err
	},
}

var stepCmd = &cobra.Command{
	Use:       "step <name>",
	Short:     "Run a single pipeline step",
	Long:      "Runs one step against the files already in the work directory. Steps: download, untar, extract-csv, extract-tsv, extract-txt, consolidate, transform, export, load.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: tolldata.StepNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, args[0] == tolldata.StepLoad)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := pipeline.New(env.Steps, env.Store, env.Alerter, pipeline.Options{}).RunOne(ctx, args[0])
		if run != nil {
			formatRunSteps(os.Stdout, run)
		}
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runExport, "export", false, "also write the XLSX rendition (default from config)")
	runCmd.Flags().BoolVar(&runLoad, "load", false, "also load the transformed table into Postgres (default from config)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepCmd)
}

// formatRunSteps writes the outcome of each step of run to out.
func formatRunSteps(out io.Writer, run *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tSTATUS\tROWS\tDROPPED\tSHORT\tDURATION\tOUTPUT")
	_, _ = fmt.Fprintln(w, "----\t------\t----\t-------\t-----\t--------\t------")

	for _, s := range run.Steps {
		dur := ""
		if s.FinishedAt != nil {
			dur = s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		output := s.Output
		if s.Status == model.StepStatusFailed {
			output = truncate(s.Error, 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Name, s.Status, s.Rows, s.Dropped, s.Short, dur, output)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nrun %s %s in %s\n", truncateID(run.ID), run.Status, run.Duration().Round(time.Millisecond))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
