package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

// maxBodyBytes bounds request bodies; triggers carry a declared identity only.
const maxBodyBytes = 64 << 10

// Intake is the onboarding entry point the API delegates to.
type Intake interface {
	IssueUploadURL(ctx context.Context, req model.UploadURLRequest) (model.UploadURLResponse, error)
	StartOnboarding(ctx context.Context, req model.OnboardingRequest) (model.StartOnboardingResponse, error)
	RegisterConnection(ctx context.Context, reg model.ConnectionRegistration) error
	UnregisterConnection(ctx context.Context, connectionID string) error
}

// Handler serves the /v1 onboarding routes.
type Handler struct {
	intake Intake
}

// NewHandler creates the API handler.
func NewHandler(intake Intake) *Handler {
	return &Handler{intake: intake}
}

// Register mounts the /v1 routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/upload-url", h.handleUploadURL)
		r.Post("/onboardings", h.handleStartOnboarding)
		r.Post("/connections", h.handleRegisterConnection)
		r.Delete("/connections/{connectionId}", h.handleUnregisterConnection)
	})
}

func (h *Handler) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req model.UploadURLRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.intake.IssueUploadURL(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStartOnboarding(w http.ResponseWriter, r *http.Request) {
	var req model.OnboardingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.intake.StartOnboarding(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleRegisterConnection(w http.ResponseWriter, r *http.Request) {
	var reg model.ConnectionRegistration
	if !decodeBody(w, r, &reg) {
		return
	}
	if err := h.intake.RegisterConnection(r.Context(), reg); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnregisterConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.intake.UnregisterConnection(r.Context(), chi.URLParam(r, "connectionId")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads a single JSON object into v. It writes a 400 and returns
// false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: codeBadRequest, Message: "invalid request body"})
		return false
	}
	return true
}
