package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// ErrRunnerStopped is returned by Submit once Stop has been called.
var ErrRunnerStopped = errors.New("workflow runner stopped")

// workflowTask is one unit of work handed to the pool.
type workflowTask struct {
	ctx    context.Context // detached from the trigger's delivery context
	record *model.WorkflowRecord
}

// workflowExecutor is satisfied by *Orchestrator.
type workflowExecutor interface {
	Run(ctx context.Context, record *model.WorkflowRecord) model.State
}

// Runner executes each workflow instance on its own pooled goroutine.
type Runner struct {
	pool       *ants.PoolWithFunc
	executor   workflowExecutor
	cfg        config.WorkflowConfig
	baseLogger *zap.Logger
	rootCtx    context.Context
	wg         sync.WaitGroup
}

// Ensure Runner implements WorkflowRunner
var _ WorkflowRunner = (*Runner)(nil)

// NewRunner creates the pool. rootCtx is the parent of every workflow
// context; cancelling it aborts in-flight collaborator calls.
func NewRunner(rootCtx context.Context, cfg config.WorkflowConfig, executor workflowExecutor, baseLogger *zap.Logger) (*Runner, error) {
	r := &Runner{
		executor:   executor,
		cfg:        cfg,
		baseLogger: baseLogger.Named("workflow_runner"),
		rootCtx:    rootCtx,
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(workflowTask)
		if !ok {
			r.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		r.process(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(p interface{}) {
			r.baseLogger.Error("Panic recovered in workflow runner", zap.Any("panic_error", p), zap.Stack("stack"))
			observer.IncWorkflowTask("panic")
		}),
		ants.WithLogger(logger.NewAntsLogger(r.baseLogger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow pool: %w", err)
	}
	r.pool = pool

	r.baseLogger.Info("Workflow runner initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return r, nil
}

// Submit schedules record for execution. It blocks while the pool is
// saturated and the wait queue has room. A closed or overloaded pool yields a
// RetryableError so the trigger is redelivered later.
func (r *Runner) Submit(ctx context.Context, record *model.WorkflowRecord) error {
	log := logger.FromContextOr(ctx, r.baseLogger)

	task := workflowTask{
		ctx:    logger.WithLogger(r.rootCtx, log),
		record: record,
	}

	r.wg.Add(1)
	err := r.pool.Invoke(task)
	if err != nil {
		r.wg.Done()
		observer.IncWorkflowTask("submit_error")
		log.Warn("Failed to submit workflow", zap.String("request_id", record.RequestID), zap.Error(err))
		switch {
		case errors.Is(err, ants.ErrPoolClosed):
			return apperrors.NewRetryable(ErrRunnerStopped, "submit workflow %s", record.RequestID)
		case errors.Is(err, ants.ErrPoolOverload):
			return apperrors.NewRetryable(err, "workflow pool overload")
		default:
			return apperrors.NewRetryable(err, "failed to invoke workflow task")
		}
	}

	observer.IncWorkflowTask("submitted")
	observer.SetWorkflowRunning(r.pool.Running())
	log.Debug("Workflow submitted", zap.String("request_id", record.RequestID))
	return nil
}

func (r *Runner) process(task workflowTask) {
	defer r.wg.Done()

	state := r.executor.Run(task.ctx, task.record)
	if !state.IsTerminal() {
		r.baseLogger.Error("Workflow returned without reaching a terminal state",
			zap.String("request_id", task.record.RequestID),
			zap.String("state", string(state)))
		observer.IncWorkflowTask("incomplete")
	} else {
		observer.IncWorkflowTask(string(state))
	}
	observer.SetWorkflowRunning(r.pool.Running() - 1)
}

// Running returns the number of workflows currently executing.
func (r *Runner) Running() int {
	return r.pool.Running()
}

// Stop refuses new submissions and waits for in-flight workflows, up to timeout.
func (r *Runner) Stop(timeout time.Duration) {
	if r.pool == nil {
		return
	}
	r.baseLogger.Info("Releasing workflow runner")
	start := time.Now()

	done := make(chan struct{})
	go func() {
		r.pool.Release()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.baseLogger.Info("Workflow runner released", zap.Duration("duration", time.Since(start)))
	case <-time.After(timeout):
		r.baseLogger.Warn("Timed out waiting for in-flight workflows", zap.Int("running", r.pool.Running()))
	}
}
