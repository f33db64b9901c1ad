package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/internal/coordinator"
)

// writeError maps coordinator and backend errors onto the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *coordinator.ValidationError
		conflict *coordinator.ConflictError
		terr     *coordinator.TransportError
		rejected *coordinator.RejectedError
	)

	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", verr.Error(), verr.Fields)
	case errors.As(err, &conflict):
		response.Error(w, http.StatusConflict, "JOB_CONFLICT", conflict.Error(), map[string]any{
			"kind":       conflict.Kind,
			"status":     conflict.Status,
			"can_cancel": conflict.CanCancel,
		})
	case errors.As(err, &terr):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", terr.Error(), nil)
	case errors.As(err, &rejected):
		response.Error(w, http.StatusUnprocessableEntity, "JOB_REJECTED", rejected.Error(), nil)
	case errors.Is(err, coordinator.ErrNoReview):
		response.Error(w, http.StatusNotFound, "NO_REVIEW", err.Error(), nil)
	case errors.Is(err, coordinator.ErrReviewInFlight), errors.Is(err, coordinator.ErrReviewClosed):
		response.Error(w, http.StatusConflict, "REVIEW_CONFLICT", err.Error(), nil)
	case errors.Is(err, coordinator.ErrUnknownID):
		response.Error(w, http.StatusNotFound, "UNKNOWN_CANDIDATE", err.Error(), nil)
	case errors.Is(err, coordinator.ErrClosed):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Panel is shutting down", nil)
	case errors.Is(err, backend.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, backend.ErrBackendUnreachable), errors.Is(err, backend.ErrBackendTimeout):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, backend.ErrRejected):
		response.Error(w, http.StatusUnprocessableEntity, "BACKEND_REJECTED", err.Error(), nil)
	case errors.Is(err, backend.ErrBackendError), errors.Is(err, backend.ErrMalformedPayload):
		response.Error(w, http.StatusBadGateway, "BACKEND_ERROR", err.Error(), nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func badRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", message, nil)
}
