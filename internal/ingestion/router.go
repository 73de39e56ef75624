package ingestion

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/correlation"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

// EventHandler defines a function that processes events
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error

// Router routes events to the appropriate handler based on event type
type Router struct {
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Register registers a handler for an event type
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

// RegisterDefault registers a default handler for unknown event types
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// Route routes an event to the appropriate handler
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	if metadata.RequestID != "" {
		ctx = correlation.WithRequestID(ctx, metadata.RequestID)
	}

	eventType, found := model.MapToBaseEventType(metadata.MessageSubject)
	log := logger.FromContext(ctx).With(
		zap.String("event_type", string(eventType)),
		zap.String("event_id", metadata.MessageID),
	)
	ctx = logger.WithLogger(ctx, log)

	if !found {
		log.Warn("Could not map subject to a known event type", zap.String("subject", metadata.MessageSubject))
	}

	log.Info("Event received",
		zap.Int("payload_bytes", len(rawEvent)),
		zap.String("version", eventType.GetVersion()),
		zap.Uint64("num_delivered", metadata.NumDelivered),
	)

	handler, ok := r.handlers[eventType]
	if !ok && r.defaultHandler != nil {
		log.Warn("No specific handler for event type, using default")
		return r.defaultHandler(ctx, eventType, metadata, rawEvent)
	} else if !ok {
		log.Error("No handler registered for event type")
		return nil
	}

	return handler(ctx, eventType, metadata, rawEvent)
}
