package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tolldata-cli/internal/db"
	"github.com/sells-group/tolldata-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	trigger_type TEXT NOT NULL,
	workflow_id  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_steps (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	attempt     INTEGER NOT NULL DEFAULT 1,
	row_count   BIGINT NOT NULL DEFAULT 0,
	dropped     INTEGER NOT NULL DEFAULT 0,
	short       INTEGER NOT NULL DEFAULT 0,
	output      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, trigger model.Trigger, workflowID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, trigger_type, workflow_id, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(trigger), workflowID, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:         id,
		Trigger:    trigger,
		WorkflowID: workflowID,
		Status:     model.RunStatusRunning,
		StartedAt:  now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var trigger, status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, trigger_type, workflow_id, status, error, started_at, finished_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &trigger, &r.WorkflowID, &status, &r.Error, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.Trigger = model.Trigger(trigger)
	r.Status = model.RunStatus(status)

	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, status, attempt, row_count, dropped, short, output, error, started_at, finished_at
		 FROM run_steps WHERE run_id = $1 ORDER BY started_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list steps")
	}
	defer rows.Close()

	for rows.Next() {
		var st model.RunStep
		var stepStatus string
		if err := rows.Scan(&st.ID, &st.RunID, &st.Name, &stepStatus, &st.Attempt, &st.Rows,
			&st.Dropped, &st.Short, &st.Output, &st.Error, &st.StartedAt, &st.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		st.Status = model.StepStatus(stepStatus)
		r.Steps = append(r.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list steps iterate")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, trigger_type, workflow_id, status, error, started_at, finished_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Trigger != "" {
		query += fmt.Sprintf(` AND trigger_type = $%d`, argIdx)
		args = append(args, string(filter.Trigger))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var trigger, status string
		if err := rows.Scan(&r.ID, &trigger, &r.WorkflowID, &status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Trigger = model.Trigger(trigger)
		r.Status = model.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) StartStep(ctx context.Context, runID, name string, attempt int) (*model.RunStep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	if attempt < 1 {
		attempt = 1
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_steps (id, run_id, name, status, attempt, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, runID, name, string(model.StepStatusRunning), attempt, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert step for run %s", runID)
	}

	return &model.RunStep{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.StepStatusRunning,
		Attempt:   attempt,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, stepID string, outcome model.StepOutcome) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_steps SET status = $1, row_count = $2, dropped = $3, short = $4, output = $5, finished_at = $6 WHERE id = $7`,
		string(model.StepStatusComplete), outcome.Rows, outcome.Dropped, outcome.Short, outcome.Output,
		time.Now().UTC(), stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete step %s", stepID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "step %s", stepID)
	}
	return nil
}

func (s *PostgresStore) FailStep(ctx context.Context, stepID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_steps SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(model.StepStatusFailed), errMsg, time.Now().UTC(), stepID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail step %s", stepID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "step %s", stepID)
	}
	return nil
}
