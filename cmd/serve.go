package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/monitoring"
	"github.com/sells-group/tolldata-cli/internal/pipeline"
	"github.com/sells-group/tolldata-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run status API",
	Long:  "Serves /health, /runs, /runs/{id} and /metrics from the run log. POST /runs starts a local pipeline run in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx, cfg.Load.Enabled)
		if err != nil {
			return err
		}
		defer env.Close()

		runner := pipeline.New(env.Steps, env.Store, env.Alerter, pipeline.Options{
			Export: cfg.Export.XLSX,
			Load:   cfg.Load.Enabled,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(ctx, env.Store, runner, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runStarter starts a local pipeline run.
type runStarter interface {
	Run(ctx context.Context, trigger model.Trigger) (*model.Run, error)
}

// buildRouter wires the status API. runner may be nil, in which case
// POST /runs answers 503.
func buildRouter(ctx context.Context, st store.Store, runner runStarter, origins []string) http.Handler {
	collector := monitoring.NewCollector(st)
	var busy atomic.Bool

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			filter := store.RunFilter{
				Status:  model.RunStatus(q.Get("status")),
				Trigger: model.Trigger(q.Get("trigger")),
			}
			if v := q.Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
					return
				}
				filter.Limit = n
			}

			runs, err := st.ListRuns(req.Context(), filter)
			if err != nil {
				zap.L().Error("serve: list runs", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to list runs")
				return
			}
			if runs == nil {
				runs = []model.Run{}
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Post("/", func(w http.ResponseWriter, _ *http.Request) {
			if runner == nil {
				writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
				return
			}
			if !busy.CompareAndSwap(false, true) {
				writeError(w, http.StatusConflict, "a run is already in progress")
				return
			}

			go func() {
				defer busy.Store(false)
				run, err := runner.Run(ctx, model.TriggerManual)
				if err != nil {
					zap.L().Error("serve: pipeline run failed", zap.Error(err))
					return
				}
				zap.L().Info("serve: pipeline run complete", zap.String("run_id", run.ID))
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			if err != nil {
				zap.L().Error("serve: get run", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to load run")
				return
			}
			writeJSON(w, http.StatusOK, run)
		})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		window, _ := strconv.Atoi(req.URL.Query().Get("window"))
		snap, err := collector.Collect(req.Context(), window)
		if err != nil {
			zap.L().Error("serve: collect metrics", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to collect metrics")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
