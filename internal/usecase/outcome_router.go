package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/notifier"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const (
	notificationSuccess = "success"
	notificationFailure = "failure"

	resultSent    = "sent"
	resultSkipped = "skipped"
	resultError   = "error"
)

// OutcomeRouter delivers the side effects of a terminal state. Every action
// is best-effort: failures are logged and metered, never returned.
type OutcomeRouter struct {
	failures FailureEnqueuer
	notifier ClientNotifier
}

// NewOutcomeRouter creates an OutcomeRouter.
func NewOutcomeRouter(failures FailureEnqueuer, notifier ClientNotifier) *OutcomeRouter {
	return &OutcomeRouter{failures: failures, notifier: notifier}
}

// Failed enqueues the record on the failure stream and tells the client. The
// two actions are independent of each other.
func (r *OutcomeRouter) Failed(ctx context.Context, record *model.WorkflowRecord) {
	log := logger.FromContext(ctx)
	if record.Error == nil {
		log.Error("Failure routed for a record without error")
		return
	}

	if err := r.failures.Enqueue(ctx, record); err != nil {
		observer.IncDLQEnqueueFailure(record.Error.Step)
		log.Error("Failed to enqueue failed onboarding", zap.String("step", record.Error.Step), zap.Error(err))
	} else {
		log.Info("Failed onboarding enqueued", zap.String("step", record.Error.Step))
	}

	r.notify(ctx, record, notificationFailure, model.NewFailureNotification(record.Error.Message))
}

// Succeeded tells the client its account is on the way.
func (r *OutcomeRouter) Succeeded(ctx context.Context, record *model.WorkflowRecord) {
	r.notify(ctx, record, notificationSuccess, model.NewSuccessNotification())
}

func (r *OutcomeRouter) notify(ctx context.Context, record *model.WorkflowRecord, kind string, n model.Notification) {
	err := r.notifier.Notify(ctx, record.ConnectionID, record.RequestID, n)
	switch {
	case err == nil:
		observer.IncNotification(kind, resultSent)
	case errors.Is(err, notifier.ErrNoConnection):
		observer.IncNotification(kind, resultSkipped)
	default:
		observer.IncNotification(kind, resultError)
		logger.FromContext(ctx).Error("Failed to notify client", zap.String("kind", kind), zap.Error(err))
	}
}
