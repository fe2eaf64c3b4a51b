package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of recent runs.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	RowsDropped int `json:"rows_dropped"`

	LastRunID      string     `json:"last_run_id,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	LastFailureErr string     `json:"last_failure_error,omitempty"`

	Window      int       `json:"window"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run log.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect summarizes the most recent window runs. Drop counts need the
// steps of each run, so every run in the window is loaded in full.
func (c *Collector) Collect(ctx context.Context, window int) (*MetricsSnapshot, error) {
	if window <= 0 {
		window = 50
	}
	snap := &MetricsSnapshot{
		Window:      window,
		CollectedAt: time.Now().UTC(),
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: window})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for i, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			if snap.LastSuccessAt == nil && r.FinishedAt != nil {
				t := *r.FinishedAt
				snap.LastSuccessAt = &t
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
			if snap.LastFailureErr == "" {
				snap.LastFailureErr = r.Error
			}
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if i == 0 {
			snap.LastRunID = r.ID
			snap.LastRunStatus = string(r.Status)
		}

		full, err := c.store.GetRun(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: get run %s", r.ID)
		}
		snap.RowsDropped += full.Dropped()
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
