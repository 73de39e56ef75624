package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
)

// ClientMock is a mock implementation of the JetStream Client
type ClientMock struct {
	mock.Mock
}

// Ensure ClientMock implements jetstream.ClientInterface
var _ jetstream.ClientInterface = (*ClientMock)(nil)

// SetupStream mocks the SetupStream method
func (m *ClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	args := m.Called(ctx, streamConfig)
	return args.Error(0)
}

// SetupConsumer mocks the SetupConsumer method
func (m *ClientMock) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	args := m.Called(ctx, streamName, consumerConfig)
	return args.Error(0)
}

// SubscribePush mocks the SubscribePush method
func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

// SubscribePull mocks the SubscribePull method
func (m *ClientMock) SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error) {
	args := m.Called(streamName, subject, consumer)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

// Publish mocks the Publish method
func (m *ClientMock) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	args := m.Called(ctx, subject, data, headers)
	return args.Error(0)
}

// PublishCore mocks the PublishCore method
func (m *ClientMock) PublishCore(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

// IsConnected mocks the IsConnected method
func (m *ClientMock) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

// Close mocks the Close method
func (m *ClientMock) Close() {
	m.Called()
}
