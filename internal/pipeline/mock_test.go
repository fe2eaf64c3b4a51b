package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/tolldata-cli/internal/model"
	"github.com/sells-group/tolldata-cli/internal/store"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, trigger model.Trigger, workflowID string) (*model.Run, error) {
	args := m.Called(ctx, trigger, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	args := m.Called(ctx, runID, status, errMsg)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) StartStep(ctx context.Context, runID, name string, attempt int) (*model.RunStep, error) {
	args := m.Called(ctx, runID, name, attempt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunStep), args.Error(1)
}

func (m *mockStore) CompleteStep(ctx context.Context, stepID string, outcome model.StepOutcome) error {
	args := m.Called(ctx, stepID, outcome)
	return args.Error(0)
}

func (m *mockStore) FailStep(ctx context.Context, stepID string, errMsg string) error {
	args := m.Called(ctx, stepID, errMsg)
	return args.Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Notifier Mock ---

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyRun(ctx context.Context, run *model.Run) int {
	args := m.Called(ctx, run)
	return args.Int(0)
}
