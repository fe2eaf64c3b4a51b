// Package pipeline runs the toll data steps locally, in dependency order,
// recording every run and step in the run log.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/store"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, run *model.Run) int
}

// Options selects the optional tail steps.
type Options struct {
	Export bool
	Load   bool
}

// Runner executes the pipeline without an external scheduler.
type Runner struct {
	steps    *tolldata.Steps
	store    store.Store
	notifier Notifier
	opts     Options
}

// New creates a Runner. notifier may be nil.
func New(steps *tolldata.Steps, st store.Store, notifier Notifier, opts Options) *Runner {
	return &Runner{steps: steps, store: st, notifier: notifier, opts: opts}
}

// run tracks one recorded run while its steps execute.
type run struct {
	r     *Runner
	log   *zap.Logger
	mu    sync.Mutex
	model *model.Run
}

// Run executes download, untar, the three extractors in parallel,
// consolidate and transform, then export and load when enabled. The
// returned run is populated even when err is non-nil.
func (r *Runner) Run(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	tr, err := r.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	tr.log.Info("pipeline: starting run")

	err = tr.execute(ctx)
	return tr.finish(ctx, err)
}

// RunOne executes the single step called name as its own recorded run.
func (r *Runner) RunOne(ctx context.Context, name string) (*model.Run, error) {
	fn, err := r.steps.Lookup(name)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: lookup step")
	}

	tr, err := r.begin(ctx, model.TriggerStep)
	if err != nil {
		return nil, err
	}
	tr.log.Info("pipeline: running single step", zap.String("step", name))

	_, err = tr.track(ctx, name, fn)
	return tr.finish(ctx, err)
}

func (r *Runner) begin(ctx context.Context, trigger model.Trigger) (*run, error) {
	m, err := r.store.CreateRun(ctx, trigger, "")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return &run{
		r:     r,
		log:   zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", m.ID)),
		model: m,
	}, nil
}

func (t *run) execute(ctx context.Context) error {
	s := t.r.steps

	if _, err := t.track(ctx, tolldata.StepDownload, s.Download); err != nil {
		return err
	}
	if _, err := t.track(ctx, tolldata.StepUntar, s.Untar); err != nil {
		return err
	}

	// The extractors share no files, so they run side by side. The
	// consolidator waits for all three.
	g, gCtx := errgroup.WithContext(ctx)
	for _, ex := range []struct {
		name string
		fn   tolldata.StepFunc
	}{
		{tolldata.StepExtractCSV, s.ExtractCSV},
		{tolldata.StepExtractTSV, s.ExtractTSV},
		{tolldata.StepExtractTXT, s.ExtractTXT},
	} {
		g.Go(func() error {
			_, err := t.track(gCtx, ex.name, ex.fn)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := t.track(ctx, tolldata.StepConsolidate, s.Consolidate); err != nil {
		return err
	}
	if _, err := t.track(ctx, tolldata.StepTransform, s.Transform); err != nil {
		return err
	}

	if t.r.opts.Export {
		if _, err := t.track(ctx, tolldata.StepExport, s.Export); err != nil {
			return err
		}
	}
	if t.r.opts.Load {
		if _, err := t.track(ctx, tolldata.StepLoad, s.Load); err != nil {
			return err
		}
	}
	return nil
}

// track runs fn as step name and records its outcome. Run log write
// failures are logged and do not fail the step.
func (t *run) track(ctx context.Context, name string, fn tolldata.StepFunc) (*tolldata.StepResult, error) {
	// A failing sibling cancels ctx; the record of this step must still land.
	bg := context.WithoutCancel(ctx)
	st := model.RunStep{
		RunID:     t.model.ID,
		Name:      name,
		Status:    model.StepStatusRunning,
		Attempt:   1,
		StartedAt: time.Now().UTC(),
	}
	rec, err := t.r.store.StartStep(bg, t.model.ID, name, 1)
	if err != nil {
		t.log.Warn("pipeline: failed to record step start", zap.String("step", name), zap.Error(err))
	} else {
		st.ID = rec.ID
		st.StartedAt = rec.StartedAt
	}

	res, fnErr := fn(ctx)
	finished := time.Now().UTC()
	st.FinishedAt = &finished
	duration := finished.Sub(st.StartedAt)

	if fnErr != nil {
		st.Status = model.StepStatusFailed
		st.Error = fnErr.Error()
		t.log.Error("pipeline: step failed",
			zap.String("step", name),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.Error(fnErr),
		)
		if st.ID != "" {
			if err := t.r.store.FailStep(bg, st.ID, st.Error); err != nil {
				t.log.Warn("pipeline: failed to record step failure", zap.String("step", name), zap.Error(err))
			}
		}
	} else {
		st.Status = model.StepStatusComplete
		if res != nil {
			st.Rows = res.Rows
			st.Dropped = res.Dropped
			st.Short = res.Short
			st.Output = res.Output
		}
		t.log.Info("pipeline: step complete",
			zap.String("step", name),
			zap.Int64("rows", st.Rows),
			zap.Int("dropped", st.Dropped),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
		if st.ID != "" {
			outcome := model.StepOutcome{Rows: st.Rows, Dropped: st.Dropped, Short: st.Short, Output: st.Output}
			if err := t.r.store.CompleteStep(bg, st.ID, outcome); err != nil {
				t.log.Warn("pipeline: failed to record step completion", zap.String("step", name), zap.Error(err))
			}
		}
	}

	t.mu.Lock()
	t.model.Steps = append(t.model.Steps, st)
	t.mu.Unlock()

	if fnErr != nil {
		return nil, eris.Wrapf(fnErr, "pipeline: step %s", name)
	}
	return res, nil
}

// finish records the run outcome and notifies. The run log is written with
// a fresh context so a cancelled run still gets its final status.
func (t *run) finish(ctx context.Context, runErr error) (*model.Run, error) {
	finished := time.Now().UTC()
	t.model.FinishedAt = &finished
	t.model.Status = model.RunStatusComplete
	if runErr != nil {
		t.model.Status = model.RunStatusFailed
		t.model.Error = runErr.Error()
	}

	bg := context.WithoutCancel(ctx)
	if err := t.r.store.FinishRun(bg, t.model.ID, t.model.Status, t.model.Error); err != nil {
		t.log.Warn("pipeline: failed to record run outcome", zap.Error(err))
	}

	if t.model.Status == model.RunStatusFailed {
		t.log.Error("pipeline: run failed", zap.Duration("duration", t.model.Duration()), zap.Error(runErr))
	} else {
		t.log.Info("pipeline: run complete",
			zap.Duration("duration", t.model.Duration()),
			zap.Int("steps", len(t.model.Steps)),
			zap.Int("dropped", t.model.Dropped()),
		)
	}

	if t.r.notifier != nil {
		t.r.notifier.NotifyRun(bg, t.model)
	}
	return t.model, runErr
}
