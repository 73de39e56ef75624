package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const (
	codeBadRequest  = "BadRequest"
	codeValidation  = "ValidationError"
	codeConflict    = "DuplicateRequest"
	codeUnavailable = "ServiceUnavailable"
	codeInternal    = "InternalError"
)

// ErrorResponse is the JSON error envelope of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates a service error into a status and envelope. Step
// errors keep their code and user-facing message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	log := logger.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Info("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, ErrorResponse) {
	if se, ok := apperrors.AsStepError(err); ok {
		switch se.Kind {
		case apperrors.KindInputValidation:
			return http.StatusBadRequest, ErrorResponse{Error: string(se.Code), Message: se.Message}
		case apperrors.KindPolicyRejection:
			return http.StatusUnprocessableEntity, ErrorResponse{Error: string(se.Code), Message: se.Message}
		default:
			return http.StatusBadGateway, ErrorResponse{Error: string(se.Code), Message: se.Message}
		}
	}

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: codeValidation, Message: err.Error()}
	case errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: codeBadRequest, Message: err.Error()}
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: codeConflict, Message: err.Error()}
	case errors.Is(err, apperrors.ErrNATS), errors.Is(err, apperrors.ErrUpstream), errors.Is(err, apperrors.ErrTimeout):
		return http.StatusServiceUnavailable, ErrorResponse{Error: codeUnavailable}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: codeInternal}
	}
}
