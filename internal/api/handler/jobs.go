package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/internal/coordinator"
	"github.com/tercanobre/reidpanel/pkg/models"
)

const maxParamsBytes = 64 << 10

// Jobs is the job coordination surface the handlers depend on.
type Jobs interface {
	Submit(ctx context.Context, p coordinator.Params) (*models.JobHandle, error)
	View(kind models.JobKind) coordinator.View
	Views() []coordinator.View
	Cancel(ctx context.Context, kind models.JobKind) error
	Preview(kind models.JobKind) (*backend.Artifact, bool)
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/jobs/{kind}.
func NewSubmitHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxParamsBytes))
		if err != nil {
			badRequest(w, "Request body too large or unreadable")
			return
		}
		params, err := decodeParams(kind, body)
		if err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}

		handle, err := jobs.Submit(r.Context(), params)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, handle)
	}
}

// NewViewHandler returns an http.HandlerFunc for GET /api/v1/jobs/{kind}.
func NewViewHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		response.JSON(w, jobs.View(kind))
	}
}

// NewListViewsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListViewsHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views := jobs.Views()
		response.Collection(w, views, response.PaginationMeta{Limit: len(views), Count: len(views)})
	}
}

// NewCancelHandler returns an http.HandlerFunc for POST /api/v1/jobs/{kind}/cancel.
// Local polling stops even when the backend cancel fails; the error is
// still reported.
func NewCancelHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		if err := jobs.Cancel(r.Context(), kind); err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, jobs.View(kind))
	}
}

// NewPreviewHandler returns an http.HandlerFunc for GET /api/v1/jobs/{kind}/preview.
func NewPreviewHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		frame, ok := jobs.Preview(kind)
		if !ok || frame == nil || len(frame.Data) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		response.Blob(w, frame.ContentType, frame.Data)
	}
}

func kindParam(w http.ResponseWriter, r *http.Request) (models.JobKind, bool) {
	kind, err := models.ParseJobKind(chi.URLParam(r, "kind"))
	if err != nil {
		response.Error(w, http.StatusNotFound, "UNKNOWN_KIND", err.Error(), nil)
		return "", false
	}
	return kind, true
}

func decodeParams(kind models.JobKind, body []byte) (coordinator.Params, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	switch kind {
	case models.KindAnalysis:
		var p coordinator.AnalysisParams
		err := json.Unmarshal(body, &p)
		return p, err
	case models.KindCapture:
		var p coordinator.CaptureParams
		err := json.Unmarshal(body, &p)
		return p, err
	default:
		var p coordinator.ScriptParams
		err := json.Unmarshal(body, &p)
		return p, err
	}
}
