package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/identity-onboarding/internal/correlation"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

func metadataFor(subject, requestID string) *model.MessageMetadata {
	return &model.MessageMetadata{
		MessageID:      "msg-1",
		MessageSubject: subject,
		RequestID:      requestID,
		StreamSequence: 1,
		Stream:         "onboarding_requests",
		Consumer:       "onboarding_processor",
		NumDelivered:   1,
	}
}

func TestRouter_Route_ExactMatch(t *testing.T) {
	router := NewRouter()
	h := new(MockHandler)
	router.Register(model.V1OnboardingRequested, h.Handle)

	md := metadataFor("v1.onboarding.requested", "req-1")
	payload := []byte(`{"requestId":"req-1"}`)
	h.On("Handle", mock.Anything, model.V1OnboardingRequested, md, payload).Return(nil).Once()

	assert.NoError(t, router.Route(context.Background(), md, payload))
	h.AssertExpectations(t)
}

func TestRouter_Route_DefaultHandler(t *testing.T) {
	router := NewRouter()
	specific := new(MockHandler)
	fallback := new(MockHandler)
	router.Register(model.V1OnboardingRequested, specific.Handle)
	router.RegisterDefault(fallback.Handle)

	md := metadataFor("v2.something.else", "")
	fallback.On("Handle", mock.Anything, model.EventType(""), md, mock.Anything).Return(nil).Once()

	assert.NoError(t, router.Route(context.Background(), md, []byte(`{}`)))
	fallback.AssertExpectations(t)
	specific.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_Route_NoHandler(t *testing.T) {
	assert.NoError(t, NewRouter().Route(context.Background(), metadataFor("v1.onboarding.requested", ""), nil))
}

func TestRouter_Route_HandleError(t *testing.T) {
	router := NewRouter()
	h := new(MockHandler)
	router.Register(model.V1OnboardingRequested, h.Handle)

	expected := errors.New("handler failed")
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(expected).Once()

	err := router.Route(context.Background(), metadataFor("v1.onboarding.requested", ""), nil)
	assert.ErrorIs(t, err, expected)
}

func TestRouter_Route_RequestContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := logger.WithLogger(context.Background(), zap.New(core))

	router := NewRouter()
	var seen string
	router.Register(model.V1OnboardingRequested, func(ctx context.Context, _ model.EventType, _ *model.MessageMetadata, _ []byte) error {
		seen, _ = correlation.RequestIDFromContext(ctx)
		return nil
	})

	assert.NoError(t, router.Route(ctx, metadataFor("v1.onboarding.requested", "req-42"), []byte(`{}`)))
	assert.Equal(t, "req-42", seen)

	received := logs.FilterMessage("Event received").All()
	if assert.Len(t, received, 1) {
		fields := received[0].ContextMap()
		assert.Equal(t, "req-42", fields["request_id"])
		assert.Equal(t, "v1.onboarding.requested", fields["event_type"])
		assert.Equal(t, "v1", fields["version"])
	}
}
