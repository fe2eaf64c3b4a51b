//go:build !integration

package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/orchestrator"
	"github.com/sells-group/tolldata-cli/internal/store"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

func TestRunCmd_RunE_FailsOnValidation(t *testing.T) {
	cfg = testConfig(t, "")
	cfg.Consolidate.Mismatch = "ignore"

	runCmd.SetContext(context.Background())
	defer runCmd.SetContext(context.TODO())

	err := runCmd.RunE(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.url is required")
	assert.Contains(t, err.Error(), "consolidate.mismatch must be one of")
}

func TestRunCmd_RunE_EndToEnd(t *testing.T) {
	srv := newArchiveServer(t, http.StatusOK, tollArchive(t))
	cfg = testConfig(t, srv.URL+"/tolldata.tgz")

	runCmd.SetContext(context.Background())
	defer runCmd.SetContext(context.TODO())

	require.NoError(t, runCmd.RunE(runCmd, nil))

	layout := tolldata.NewLayout(cfg.Paths, cfg.Source.ArchiveName)
	data, err := os.ReadFile(layout.TransformedPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1,2024-01-01T00:00:00,ABC123,CAR,2,5,7,001,00042", lines[1])

	st, err := store.Open(context.Background(), cfg.Store.Driver, cfg.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, model.TriggerManual, runs[0].Trigger)
}

func TestRunCmd_RunE_DownloadFailureRecorded(t *testing.T) {
	srv := newArchiveServer(t, http.StatusNotFound, nil)
	cfg = testConfig(t, srv.URL)

	runCmd.SetContext(context.Background())
	defer runCmd.SetContext(context.TODO())

	err := runCmd.RunE(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")

	st, err := store.Open(context.Background(), cfg.Store.Driver, cfg.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestStepCmd_RunE_Download(t *testing.T) {
	srv := newArchiveServer(t, http.StatusOK, tollArchive(t))
	cfg = testConfig(t, srv.URL)

	stepCmd.SetContext(context.Background())
	defer stepCmd.SetContext(context.TODO())

	require.NoError(t, stepCmd.RunE(stepCmd, []string{tolldata.StepDownload}))

	layout := tolldata.NewLayout(cfg.Paths, cfg.Source.ArchiveName)
	_, err := os.Stat(layout.ArchivePath())
	assert.NoError(t, err)
}

func TestStepCmd_RunE_ExtractWithoutInput(t *testing.T) {
	cfg = testConfig(t, "http://unused.invalid")

	stepCmd.SetContext(context.Background())
	defer stepCmd.SetContext(context.TODO())

	err := stepCmd.RunE(stepCmd, []string{tolldata.StepExtractCSV})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract-csv")
}

func TestFormatRunSteps(t *testing.T) {
	start := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	run := &model.Run{
		ID:         "abc12345-6789-0000-0000-000000000000",
		Status:     model.RunStatusFailed,
		StartedAt:  start,
		FinishedAt: &end,
		Steps: []model.RunStep{
			{Name: "extract-csv", Status: model.StepStatusComplete, Rows: 9999, Dropped: 1, Output: "extracted_data/csv_data.csv", StartedAt: start, FinishedAt: &end},
			{Name: "consolidate", Status: model.StepStatusFailed, Error: "consolidate: row count mismatch", StartedAt: start, FinishedAt: &end},
		},
	}

	var buf bytes.Buffer
	formatRunSteps(&buf, run)

	out := buf.String()
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "extract-csv")
	assert.Contains(t, out, "9999")
	assert.Contains(t, out, "extracted_data/csv_data.csv")
	assert.Contains(t, out, "row count mismatch")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "run abc12345 failed")
}

func TestWorkflowRun(t *testing.T) {
	start := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	res := &orchestrator.WorkflowResult{
		RunID: "run-1",
		Steps: []tolldata.StepResult{
			{Step: tolldata.StepDownload, Output: "tolldata.tgz", Duration: time.Second},
			{Step: tolldata.StepTransform, Rows: 10, Dropped: 2},
		},
	}

	run := workflowRun(res, start, start.Add(time.Minute))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.TriggerWorkflow, run.Trigger)
	assert.Equal(t, time.Minute, run.Duration())
	require.Len(t, run.Steps, 2)
	assert.Equal(t, time.Second, run.Steps[0].FinishedAt.Sub(run.Steps[0].StartedAt))
	assert.Equal(t, 2, run.Dropped())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééééééé...", truncate(strings.Repeat("é", 12), 10))
	assert.Equal(t, "ééé", truncate("ééé", 5))
}
