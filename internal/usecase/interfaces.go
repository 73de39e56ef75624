package usecase

import (
	"context"
	"time"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

// IdentityExtractor reads the identity printed on an uploaded ID card.
type IdentityExtractor interface {
	ExtractIdentity(ctx context.Context, idCardKey string) (model.ExtractedIdentity, error)
}

// AddressVerifier returns the canonical label of a declared address.
type AddressVerifier interface {
	Verify(ctx context.Context, street, city, postalCode string) (string, error)
}

// EventPublisher announces created users.
type EventPublisher interface {
	PublishUserCreated(ctx context.Context, record *model.WorkflowRecord, createdAt time.Time) error
}

// FailureEnqueuer moves a failed record onto the failure stream.
type FailureEnqueuer interface {
	Enqueue(ctx context.Context, record *model.WorkflowRecord) error
}

// ClientNotifier pushes a message to the client that started the request.
type ClientNotifier interface {
	Notify(ctx context.Context, connectionID, requestID string, notification model.Notification) error
}

// UploadIssuer hands out upload credentials for ID-card images.
type UploadIssuer interface {
	Issue(ctx context.Context, requestID, contentType string) (model.UploadURLResponse, error)
}

// TriggerPublisher publishes onboarding triggers to the durable request stream.
type TriggerPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// WorkflowRunner executes one workflow asynchronously.
type WorkflowRunner interface {
	Submit(ctx context.Context, record *model.WorkflowRecord) error
}
