package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/db"
	"github.com/sells-group/tolldata-cli/internal/fetcher"
	"github.com/sells-group/tolldata-cli/internal/monitoring"
	"github.com/sells-group/tolldata-cli/internal/store"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

// pipelineEnv holds the run log, the steps and the alerter needed by the
// run, step, worker and serve commands.
type pipelineEnv struct {
	Store   store.Store
	Steps   *tolldata.Steps
	Alerter *monitoring.Alerter
	pool    *pgxpool.Pool // load target; nil unless load is enabled
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.pool != nil {
		pe.pool.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config, opens the run log and builds the steps.
// The Postgres load target is connected only when withLoad is set. Callers
// should defer env.Close().
func initPipeline(ctx context.Context, withLoad bool) (*pipelineEnv, error) {
	mode := "pipeline"
	if withLoad {
		mode = "load"
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	opts, err := tolldata.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st, Alerter: monitoring.NewAlerter(cfg.Notify)}

	if withLoad {
		pool, err := db.Connect(ctx, cfg.Load.DatabaseURL)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "connect load database")
		}
		env.pool = pool
		opts.Loader = tolldata.NewLoader(pool, cfg.Load.Table)
		zap.L().Info("postgres load enabled", zap.String("table", opts.Loader.Table()))
	}

	layout := tolldata.NewLayout(cfg.Paths, cfg.Source.ArchiveName)
	env.Steps = tolldata.NewSteps(layout, newFetcher(), opts)

	zap.L().Debug("pipeline environment ready",
		zap.String("work_dir", layout.WorkDir),
		zap.String("source", opts.SourceURL),
		zap.String("store", cfg.Store.Driver),
	)
	return env, nil
}

// initStore opens the configured run log and applies its schema.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open run log")
	}
	return st, nil
}

// newFetcher routes http(s) sources to the rate-limited HTTP fetcher and
// ftp sources to the FTP fetcher.
func newFetcher() *fetcher.Router {
	timeout := time.Duration(cfg.Fetch.TimeoutSecs) * time.Second
	return fetcher.NewRouter(
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:         cfg.Fetch.UserAgent,
			Timeout:           timeout,
			MaxAttempts:       cfg.Fetch.MaxAttempts,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		}),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout}),
	)
}
