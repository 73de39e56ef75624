package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/correlation"
	"gitlab.com/timkado/api/identity-onboarding/internal/events"
	"gitlab.com/timkado/api/identity-onboarding/internal/jetstream"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/validator"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const msgInvalidContentType = `Input Error: "contentType" parameter is invalid`

// ConnectionRegistry pairs live connections with requests.
type ConnectionRegistry interface {
	Register(ctx context.Context, reg model.ConnectionRegistration) error
	Unregister(ctx context.Context, connectionID string) error
}

// IntakeService is the entry point used by the HTTP API: it issues upload
// credentials, accepts onboarding triggers and tracks live connections.
type IntakeService struct {
	uploads        UploadIssuer
	triggers       TriggerPublisher
	registry       ConnectionRegistry
	triggerSubject string
	newID          func() string
}

// NewIntakeService creates an IntakeService publishing triggers on triggerSubject.
func NewIntakeService(uploads UploadIssuer, triggers TriggerPublisher, registry ConnectionRegistry, triggerSubject string) *IntakeService {
	return &IntakeService{
		uploads:        uploads,
		triggers:       triggers,
		registry:       registry,
		triggerSubject: triggerSubject,
		newID:          func() string { return uuid.New().String() },
	}
}

// IssueUploadURL assigns a request ID and returns an upload credential for it.
func (s *IntakeService) IssueUploadURL(ctx context.Context, req model.UploadURLRequest) (model.UploadURLResponse, error) {
	if err := validator.Validate(req); err != nil {
		return model.UploadURLResponse{}, apperrors.NewStepError(apperrors.KindInputValidation, apperrors.CodeInvalidContentType, msgInvalidContentType, err)
	}

	requestID := s.newID()
	ctx = correlation.WithRequestID(ctx, requestID)
	return s.uploads.Issue(ctx, requestID, req.ContentType)
}

// StartOnboarding validates the trigger and publishes it for asynchronous
// processing. The request ID doubles as the JetStream deduplication key: a
// request ID already accepted inside the stream's duplicate window fails with
// apperrors.ErrConflict, since no workflow would run for it.
func (s *IntakeService) StartOnboarding(ctx context.Context, req model.OnboardingRequest) (model.StartOnboardingResponse, error) {
	if err := validator.Validate(req); err != nil {
		return model.StartOnboardingResponse{}, err
	}
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}
	ctx = correlation.WithRequestID(ctx, req.RequestID)
	log := logger.FromContext(ctx)

	data, err := json.Marshal(req)
	if err != nil {
		return model.StartOnboardingResponse{}, fmt.Errorf("failed to marshal onboarding request: %w", err)
	}

	headers := map[string]string{events.HeaderMsgID: req.RequestID}
	err = s.triggers.Publish(ctx, s.triggerSubject, data, headers)
	if errors.Is(err, jetstream.ErrDuplicateMessage) {
		log.Warn("Onboarding request already accepted", zap.String("subject", s.triggerSubject))
		return model.StartOnboardingResponse{}, fmt.Errorf("%w: request %s was already submitted, start a new one", apperrors.ErrConflict, req.RequestID)
	}
	if err != nil {
		log.Error("Failed to publish onboarding trigger", zap.String("subject", s.triggerSubject), zap.Error(err))
		return model.StartOnboardingResponse{}, fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}

	log.Info("Onboarding accepted", zap.String("subject", s.triggerSubject), zap.Bool("has_connection", req.ConnectionID != ""))
	return model.StartOnboardingResponse{RequestID: req.RequestID}, nil
}

// RegisterConnection records which live connection waits on a request.
func (s *IntakeService) RegisterConnection(ctx context.Context, reg model.ConnectionRegistration) error {
	if err := validator.Validate(reg); err != nil {
		return err
	}
	if s.registry == nil {
		return fmt.Errorf("%w: connection registry not configured", apperrors.ErrUpstream)
	}
	if err := s.registry.Register(ctx, reg); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrUpstream, err)
	}
	return nil
}

// UnregisterConnection forgets a live connection.
func (s *IntakeService) UnregisterConnection(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return fmt.Errorf("%w: connectionId is required", apperrors.ErrValidation)
	}
	if s.registry == nil {
		return fmt.Errorf("%w: connection registry not configured", apperrors.ErrUpstream)
	}
	if err := s.registry.Unregister(ctx, connectionID); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrUpstream, err)
	}
	return nil
}
