package handler

import (
	"context"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

// EventHandlerInterface defines the common interface for event handlers
type EventHandlerInterface interface {
	// HandleEvent processes an event
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

// WorkflowSubmitter starts a workflow for an accepted trigger.
type WorkflowSubmitter interface {
	Submit(ctx context.Context, record *model.WorkflowRecord) error
}

// Ensure the handlers implement the interfaces
var _ EventHandlerInterface = (*OnboardingHandler)(nil)
