package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tolldata-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs \(id, trigger_type, workflow_id, status, started_at\)`).
		WithArgs(pgxmock.AnyArg(), "workflow", "wf-1", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.TriggerWorkflow, "wf-1")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2, finished_at = \$3 WHERE id = \$4`).
		WithArgs("complete", "", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "missing", model.RunStatusComplete, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	mock.ExpectQuery(`SELECT id, trigger_type, workflow_id, status, error, started_at, finished_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "trigger_type", "workflow_id", "status", "error", "started_at", "finished_at"}).
			AddRow("run-1", "manual", "", "complete", "", started, &finished))

	mock.ExpectQuery(`FROM run_steps WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "run_id", "name", "status", "attempt", "row_count", "dropped", "short", "output", "error", "started_at", "finished_at"}).
			AddRow("s-1", "run-1", "extract-csv", "complete", 1, int64(10), 2, 0, "csv_data.csv", "", started, &finished).
			AddRow("s-2", "run-1", "transform", "complete", 1, int64(8), 0, 0, "transformed_data.csv", "", started, &finished))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.TriggerManual, run.Trigger)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "extract-csv", run.Steps[0].Name)
	assert.Equal(t, model.StepStatusComplete, run.Steps[0].Status)
	assert.Equal(t, int64(10), run.Steps[0].Rows)
	assert.Equal(t, 2, run.Steps[0].Dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	mock.ExpectQuery(`WHERE true AND status = \$1 AND trigger_type = \$2 ORDER BY started_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("failed", "step", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "trigger_type", "workflow_id", "status", "error", "started_at", "finished_at"}).
			AddRow("run-9", "step", "", "failed", "boom", started, &finished))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Status:  model.RunStatusFailed,
		Trigger: model.TriggerStep,
		Limit:   5,
		Offset:  10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "boom", runs[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "trigger_type", "workflow_id", "status", "error", "started_at", "finished_at"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAndCompleteStep(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_steps`).
		WithArgs(pgxmock.AnyArg(), "run-1", "extract-tsv", "running", 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE run_steps SET status = \$1, row_count = \$2`).
		WithArgs("complete", int64(7), 1, 0, "tsv_data.csv", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	st, err := s.StartStep(context.Background(), "run-1", "extract-tsv", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Attempt)

	err = s.CompleteStep(context.Background(), st.ID, model.StepOutcome{Rows: 7, Dropped: 1, Output: "tsv_data.csv"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailStep_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_steps SET status = \$1, error = \$2`).
		WithArgs("failed", "disk full", pgxmock.AnyArg(), "s-1").
		WillReturnError(fmt.Errorf("connection reset"))

	err := s.FailStep(context.Background(), "s-1", "disk full")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: fail step s-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
