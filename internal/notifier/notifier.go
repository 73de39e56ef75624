package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/validator"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// ErrNoConnection is returned when neither the record nor the registry knows
// which live connection to notify.
var ErrNoConnection = errors.New("no live connection for request")

// ErrInvalidConnection is returned for a connection ID that is not a single
// subject token and so cannot address a notification subject.
var ErrInvalidConnection = errors.New("invalid connection id")

// CorePublisher sends a non-persisted message. Satisfied by jetstream.Client.
type CorePublisher interface {
	PublishCore(subject string, data []byte) error
}

// ConnectionResolver maps a request to the live connection that started it.
type ConnectionResolver interface {
	Lookup(ctx context.Context, requestID string) (string, error)
}

// Notifier pushes notifications to a client's live connection through the
// message relay listening on <prefix>.<connectionId>.
type Notifier struct {
	publisher CorePublisher
	resolver  ConnectionResolver
	prefix    string
}

// New creates a Notifier. resolver may be nil, in which case only records
// carrying a connection ID can be notified.
func New(publisher CorePublisher, resolver ConnectionResolver, prefix string) *Notifier {
	return &Notifier{publisher: publisher, resolver: resolver, prefix: prefix}
}

// Notify delivers n to the connection of the given request.
func (n *Notifier) Notify(ctx context.Context, connectionID, requestID string, notification model.Notification) error {
	log := logger.FromContext(ctx)

	if connectionID == "" && n.resolver != nil && requestID != "" {
		resolved, err := n.resolver.Lookup(ctx, requestID)
		if err != nil {
			return fmt.Errorf("%w: resolve connection: %w", apperrors.ErrUpstream, err)
		}
		connectionID = resolved
	}
	if connectionID == "" {
		log.Debug("No connection to notify")
		return ErrNoConnection
	}
	if !validator.IsSubjectToken(connectionID) {
		return fmt.Errorf("%w: %q", ErrInvalidConnection, connectionID)
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := n.prefix + "." + connectionID
	if err := n.publisher.PublishCore(subject, data); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}

	log.Debug("Notification sent", zap.String("subject", subject), zap.Bool("error", notification.Error))
	return nil
}
