package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/config"
	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// FailureQueue enqueues failed attempts onto the failure stream, one subject
// per failing step.
type FailureQueue struct {
	client  jetstream.ClientInterface
	stream  string
	subject string
	maxAge  time.Duration
}

// NewFailureQueue creates a queue publishing under cfg.Subject.<step>.
func NewFailureQueue(client jetstream.ClientInterface, cfg config.DLQConfig) *FailureQueue {
	return &FailureQueue{
		client:  client,
		stream:  cfg.Stream,
		subject: cfg.Subject,
		maxAge:  time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
	}
}

// Setup ensures the failure stream exists.
func (q *FailureQueue) Setup(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:      q.stream,
		Subjects:  []string{q.subject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    q.maxAge,
	}
	if err := q.client.SetupStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to setup failure stream '%s': %w", q.stream, err)
	}
	return nil
}

// Subject returns the failure subject for a step.
func (q *FailureQueue) Subject(step string) string {
	return FailureSubject(q.subject, step)
}

// FailureSubject builds base.<step>. An empty step maps to "unknown".
func FailureSubject(base, step string) string {
	if step == "" {
		step = "unknown"
	}
	return base + "." + step
}

// Enqueue publishes a failed record. The body is the record without its error;
// the error travels in headers.
func (q *FailureQueue) Enqueue(ctx context.Context, record *model.WorkflowRecord) error {
	if record.Error == nil {
		return errors.New("cannot enqueue a record without error")
	}

	data, err := json.Marshal(record.WithoutError())
	if err != nil {
		return fmt.Errorf("failed to marshal failed record: %w", err)
	}
	return q.publish(ctx, record.RequestID, data, *record.Error)
}

// EnqueueRaw publishes an arbitrary payload, used for triggers that could not
// be turned into a record.
func (q *FailureQueue) EnqueueRaw(ctx context.Context, requestID string, payload []byte, recErr model.RecordError) error {
	return q.publish(ctx, requestID, payload, recErr)
}

func (q *FailureQueue) publish(ctx context.Context, requestID string, data []byte, recErr model.RecordError) error {
	subject := q.Subject(recErr.Step)
	headers := map[string]string{
		HeaderOnboardingError: ErrorSummary(recErr),
		HeaderErrorCode:       string(recErr.Code),
		HeaderErrorKind:       string(recErr.Kind),
		HeaderStep:            recErr.Step,
	}
	if requestID != "" {
		headers[HeaderRequestID] = requestID
		headers[HeaderMsgID] = requestID + "." + recErr.Step + ".failed"
	}

	err := q.client.Publish(ctx, subject, data, headers)
	if errors.Is(err, jetstream.ErrDuplicateMessage) {
		logger.FromContext(ctx).Debug("Failure already enqueued", zap.String("subject", subject))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}

	logger.FromContext(ctx).Info("Failure enqueued", zap.String("subject", subject))
	return nil
}

// ErrorSummary renders the one-line error carried in the Onboarding-Error header.
func ErrorSummary(e model.RecordError) string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
