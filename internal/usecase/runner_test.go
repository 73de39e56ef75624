package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/correlation"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

type recordingExecutor struct {
	mu       sync.Mutex
	ran      []string
	ctxIDs   []string
	block    chan struct{}
	inFlight atomic.Int32
	state    model.State
}

func (e *recordingExecutor) Run(ctx context.Context, record *model.WorkflowRecord) model.State {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ran = append(e.ran, record.RequestID)
	id, _ := correlation.RequestIDFromContext(ctx)
	e.ctxIDs = append(e.ctxIDs, id)
	if e.state != "" {
		return e.state
	}
	return model.StateSucceeded
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ran)
}

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{PoolSize: 4, QueueSize: 16, ExpiryTime: time.Second}
}

func TestRunner_RunsSubmittedWorkflows(t *testing.T) {
	exec := &recordingExecutor{}
	runner, err := NewRunner(context.Background(), testWorkflowConfig(), exec, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, runner.Submit(context.Background(), model.NewWorkflowRecordFake()))
	}
	runner.Stop(5 * time.Second)

	assert.Equal(t, 10, exec.count())
}

func TestRunner_DetachesFromDeliveryContext(t *testing.T) {
	exec := &recordingExecutor{block: make(chan struct{})}
	runner, err := NewRunner(context.Background(), testWorkflowConfig(), exec, zaptest.NewLogger(t))
	require.NoError(t, err)

	deliveryCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, runner.Submit(deliveryCtx, model.NewWorkflowRecordFake()))
	cancel()
	close(exec.block)
	runner.Stop(5 * time.Second)

	assert.Equal(t, 1, exec.count(), "cancelling the delivery context must not drop the workflow")
}

func TestRunner_SubmitAfterStopIsRetryable(t *testing.T) {
	runner, err := NewRunner(context.Background(), testWorkflowConfig(), &recordingExecutor{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	runner.Stop(time.Second)

	err = runner.Submit(context.Background(), model.NewWorkflowRecordFake())
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.True(t, errors.Is(err, ErrRunnerStopped))
}

func TestRunner_StopWaitsForInFlight(t *testing.T) {
	exec := &recordingExecutor{block: make(chan struct{})}
	runner, err := NewRunner(context.Background(), testWorkflowConfig(), exec, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, runner.Submit(context.Background(), model.NewWorkflowRecordFake()))
	assert.Eventually(t, func() bool { return exec.inFlight.Load() == 1 }, time.Second, 10*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(exec.block)
	}()
	runner.Stop(5 * time.Second)
	assert.Equal(t, 1, exec.count())
}

func TestRunner_LogsNonTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    model.State
		wantLogs int
	}{
		{name: "succeeded", state: model.StateSucceeded},
		{name: "failed", state: model.StateFailed},
		{name: "stuck while creating", state: model.StateCreating, wantLogs: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := zapobserver.New(zap.ErrorLevel)
			runner, err := NewRunner(context.Background(), testWorkflowConfig(), &recordingExecutor{state: tt.state}, zap.New(core))
			require.NoError(t, err)

			record := model.NewWorkflowRecordFake()
			require.NoError(t, runner.Submit(context.Background(), record))
			runner.Stop(5 * time.Second)

			entries := logs.FilterMessage("Workflow returned without reaching a terminal state").All()
			require.Len(t, entries, tt.wantLogs)
			if tt.wantLogs > 0 {
				assert.Equal(t, string(tt.state), entries[0].ContextMap()["state"])
				assert.Equal(t, record.RequestID, entries[0].ContextMap()["request_id"])
			}
		})
	}
}
