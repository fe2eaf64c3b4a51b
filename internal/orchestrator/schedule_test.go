package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/tolldata-cli/internal/config"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

func testOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		HostPort:   "localhost:7233",
		Namespace:  "default",
		TaskQueue:  "tolldata",
		WorkflowID: "etl_toll_data",
		ScheduleID: "etl_toll_data-daily",
		Cron:       "0 0 * * *",
	}
}

func TestScheduleOptions(t *testing.T) {
	cfg := testOrchestratorConfig()
	params := WorkflowParams{Retries: 1, RetryDelay: 5 * time.Minute}

	opts := ScheduleOptions(cfg, params)
	assert.Equal(t, "etl_toll_data-daily", opts.ID)
	assert.Equal(t, []string{"0 0 * * *"}, opts.Spec.CronExpressions)
	assert.Equal(t, enumspb.SCHEDULE_OVERLAP_POLICY_SKIP, opts.Overlap)
	assert.Equal(t, time.Minute, opts.CatchupWindow)

	action, ok := opts.Action.(*client.ScheduleWorkflowAction)
	require.True(t, ok)
	assert.Equal(t, WorkflowName, action.Workflow)
	assert.Equal(t, "tolldata", action.TaskQueue)
	assert.Equal(t, []any{params}, action.Args)
}

func TestCreateSchedule(t *testing.T) {
	cfg := testOrchestratorConfig()
	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	h := &mocks.ScheduleHandle{}

	c.On("ScheduleClient").Return(sc)
	sc.On("Create", mock.Anything, mock.MatchedBy(func(o client.ScheduleOptions) bool {
		return o.ID == cfg.ScheduleID && o.Overlap == enumspb.SCHEDULE_OVERLAP_POLICY_SKIP
	})).Return(h, nil)
	h.On("GetID").Return(cfg.ScheduleID)

	id, err := CreateSchedule(context.Background(), c, cfg, WorkflowParams{})
	require.NoError(t, err)
	assert.Equal(t, "etl_toll_data-daily", id)
	sc.AssertExpectations(t)
}

func TestCreateSchedule_Error(t *testing.T) {
	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	c.On("ScheduleClient").Return(sc)
	sc.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("schedule already exists"))

	_, err := CreateSchedule(context.Background(), c, testOrchestratorConfig(), WorkflowParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator: create schedule etl_toll_data-daily")
	assert.Contains(t, err.Error(), "schedule already exists")
}

func TestTrigger(t *testing.T) {
	cfg := testOrchestratorConfig()
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}

	c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.TaskQueue == "tolldata" && len(o.ID) > len("etl_toll_data-")
	}), WorkflowName, mock.Anything).Return(run, nil)
	run.On("GetID").Return("etl_toll_data-1")
	run.On("GetRunID").Return("abc")
	run.On("Get", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		out := args.Get(1).(*WorkflowResult)
		out.RunID = "run-1"
		out.Steps = []tolldata.StepResult{{Step: tolldata.StepDownload}}
	})

	res, err := Trigger(context.Background(), c, cfg, WorkflowParams{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	require.Len(t, res.Steps, 1)
	c.AssertExpectations(t)
	run.AssertExpectations(t)
}

func TestTrigger_StartError(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, WorkflowName, mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := Trigger(context.Background(), c, testOrchestratorConfig(), WorkflowParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator: start workflow")
}

func TestTrigger_WorkflowFailed(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, WorkflowName, mock.Anything).Return(run, nil)
	run.On("GetID").Return("etl_toll_data-2")
	run.On("GetRunID").Return("def")
	run.On("Get", mock.Anything, mock.Anything).Return(errors.New("activity error"))

	_, err := Trigger(context.Background(), c, testOrchestratorConfig(), WorkflowParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator: workflow etl_toll_data-2")
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debug("poll", "task_queue", "tolldata")
	l.Info("started")
	l.Warn("slow")
	l.Error("failed", "attempt", 2)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "tolldata", entries[0].ContextMap()["task_queue"])
	assert.Equal(t, "temporal", entries[1].ContextMap()["component"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, int64(2), entries[3].ContextMap()["attempt"])
}
