package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/correlation"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/validator"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const msgMalformedRequest = "Invalid onboarding request"

// OnboardingHandler turns an onboarding trigger into a workflow run.
type OnboardingHandler struct {
	runner WorkflowSubmitter
}

// NewOnboardingHandler creates a new onboarding trigger handler
func NewOnboardingHandler(runner WorkflowSubmitter) *OnboardingHandler {
	return &OnboardingHandler{runner: runner}
}

// HandleEvent decodes and validates the trigger and submits it. Undecodable or
// invalid triggers are fatal; a runner that cannot accept work is retryable.
func (h *OnboardingHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	if eventType != model.V1OnboardingRequested {
		return apperrors.NewFatal(fmt.Errorf("unsupported event type: %s", eventType), "onboarding handler")
	}

	var req model.OnboardingRequest
	if err := json.Unmarshal(rawEvent, &req); err != nil {
		log.Error("Failed to unmarshal onboarding request", zap.Error(err))
		return apperrors.NewFatal(malformed(err), "failed to unmarshal onboarding request")
	}

	// The publisher's dedup key wins over a missing body field.
	if req.RequestID == "" {
		req.RequestID = metadata.RequestID
	}
	if req.RequestID == "" {
		return apperrors.NewFatal(malformed(fmt.Errorf("%w: requestId is required", apperrors.ErrValidation)), "invalid onboarding request")
	}
	ctx = correlation.WithRequestID(ctx, req.RequestID)

	if err := validator.Validate(req); err != nil {
		logger.FromContext(ctx).Warn("Invalid onboarding request", zap.Error(err))
		return apperrors.NewFatal(malformed(err), "invalid onboarding request")
	}

	if err := h.runner.Submit(ctx, req.ToRecord()); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Onboarding workflow submitted")
	return nil
}

func malformed(cause error) error {
	return apperrors.NewStepError(apperrors.KindInputValidation, apperrors.CodeMalformedRequest, msgMalformedRequest, cause)
}
