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
	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const eventsMaxAge = 30 * 24 * time.Hour

// Publisher announces created users on JetStream.
type Publisher struct {
	client  jetstream.ClientInterface
	stream  string
	subject string
}

// NewPublisher creates a UserCreated publisher for the given stream and subject.
func NewPublisher(client jetstream.ClientInterface, stream, subject string) *Publisher {
	return &Publisher{client: client, stream: stream, subject: subject}
}

// Setup ensures the events stream exists.
func (p *Publisher) Setup(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:      p.stream,
		Subjects:  []string{p.subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    eventsMaxAge,
	}
	if err := p.client.SetupStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to setup events stream '%s': %w", p.stream, err)
	}
	return nil
}

// PublishUserCreated publishes the UserCreated event for a record that owns a
// user ID. The request ID is the deduplication key.
func (p *Publisher) PublishUserCreated(ctx context.Context, record *model.WorkflowRecord, createdAt time.Time) error {
	if record.UserID == "" {
		return errors.New("cannot publish UserCreated for a record without user id")
	}

	event := model.UserCreatedEvent{
		UserID:    record.UserID,
		RequestID: record.RequestID,
		User:      record.Declared,
		Address:   record.VerifiedAddress,
		CreatedAt: createdAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal UserCreated event: %w", err)
	}

	headers := map[string]string{
		HeaderMsgID:       record.RequestID,
		HeaderEventSource: eventSourceUser,
		HeaderEventType:   eventTypeUserCreated,
	}

	err = p.client.Publish(ctx, p.subject, data, headers)
	if errors.Is(err, jetstream.ErrDuplicateMessage) {
		logger.FromContext(ctx).Debug("UserCreated event already published", zap.String("subject", p.subject))
		err = nil
	}
	observer.IncEventPublished(string(model.V1UserCreated), err)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}

	logger.FromContext(ctx).Info("UserCreated event published",
		zap.String("subject", p.subject),
		zap.String("user_id", record.UserID))
	return nil
}
