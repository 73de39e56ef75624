package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface defines the interface for the JetStream client
// This allows for easy mocking in tests
type ClientInterface interface {
	// SetupStream ensures the stream exists with the given configuration
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error

	// SetupConsumer ensures the consumer exists with the given configuration for a specific stream
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error

	// SubscribePush creates a push-based queue subscription bound to an existing durable consumer
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)

	// SubscribePull creates a pull-based consumer subscription
	SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error)

	// Publish publishes a message to a JetStream subject with optional headers.
	// It returns ErrDuplicateMessage when the stream dropped it as a duplicate.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error

	// PublishCore publishes a non-persisted core NATS message
	PublishCore(subject string, data []byte) error

	// IsConnected reports the connection state, used by readiness checks
	IsConnected() bool

	// Close closes the NATS connection
	Close()
}
