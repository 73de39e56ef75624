package model

import "time"

// OnboardingRequest is the trigger that starts one workflow instance.
type OnboardingRequest struct {
	RequestID    string           `json:"requestId,omitempty" validate:"omitempty,max=64,subjecttoken"`
	ConnectionID string           `json:"connectionId,omitempty" validate:"omitempty,max=128,subjecttoken"`
	IDCardKey    string           `json:"idCardKey" validate:"required"`
	User         DeclaredIdentity `json:"user"`
}

// ToRecord builds the initial workflow record for the request.
func (r OnboardingRequest) ToRecord() *WorkflowRecord {
	return NewWorkflowRecord(r.RequestID, r.ConnectionID, r.IDCardKey, r.User)
}

// UploadURLRequest asks for a temporary credential to upload an ID card image.
type UploadURLRequest struct {
	ContentType string `json:"contentType" validate:"required,mimetype"`
}

// UploadURLResponse is the issued credential.
type UploadURLResponse struct {
	RequestID string    `json:"requestId"`
	UploadURL string    `json:"uploadUrl"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StartOnboardingResponse is returned once the trigger has been accepted.
type StartOnboardingResponse struct {
	RequestID string `json:"requestId"`
}

// ConnectionRegistration pairs a live client connection with a request.
type ConnectionRegistration struct {
	ConnectionID string `json:"connectionId" validate:"required,max=128,subjecttoken"`
	RequestID    string `json:"requestId" validate:"required,max=64,subjecttoken"`
}

// UserCreatedEvent is the integration event announced after account creation.
type UserCreatedEvent struct {
	UserID    string           `json:"userId"`
	RequestID string           `json:"requestId"`
	User      DeclaredIdentity `json:"user"`
	Address   string           `json:"address"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Notification is the message pushed to the client's live connection.
type Notification struct {
	Error   bool   `json:"error,omitempty"`
	Message string `json:"message"`
}

const (
	SuccessNotificationMessage = "Registration successful, your account will be created within 24 hours."
	failureNotificationPrefix  = "Error during the subscription: "
)

// NewSuccessNotification builds the message sent when the attempt succeeded.
func NewSuccessNotification() Notification {
	return Notification{Message: SuccessNotificationMessage}
}

// NewFailureNotification builds the message sent when the attempt failed.
func NewFailureNotification(errorMessage string) Notification {
	return Notification{Error: true, Message: failureNotificationPrefix + errorMessage}
}
