package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/coordinator"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// Reviews is the review curation surface the handlers depend on.
type Reviews interface {
	Review(kind models.JobKind) (coordinator.ReviewView, error)
	ReloadReview(ctx context.Context, kind models.JobKind) error
	SetReviewFilter(kind models.JobKind, f coordinator.ReviewFilter) (coordinator.ReviewView, error)
	ToggleCandidate(kind models.JobKind, id string) (coordinator.ReviewView, error)
	SelectVisible(kind models.JobKind, selected bool) (coordinator.ReviewView, error)
	ConfirmReview(ctx context.Context, kind models.JobKind) (*models.ReviewAck, error)
	DiscardReview(ctx context.Context, kind models.JobKind) (*models.ReviewAck, error)
}

// NewReviewHandler returns an http.HandlerFunc for GET /api/v1/jobs/{kind}/review.
func NewReviewHandler(rv Reviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		view, err := rv.Review(kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewReloadReviewHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{kind}/review/reload.
func NewReloadReviewHandler(rv Reviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		if err := rv.ReloadReview(r.Context(), kind); err != nil {
			writeError(w, r, err)
			return
		}
		view, err := rv.Review(kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewReviewFilterHandler returns an http.HandlerFunc for
// PUT /api/v1/jobs/{kind}/review/filter.
func NewReviewFilterHandler(rv Reviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		var f coordinator.ReviewFilter
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBytes)).Decode(&f); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		view, err := rv.SetReviewFilter(kind, f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewToggleCandidateHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{kind}/review/toggle.
func NewToggleCandidateHandler(rv Reviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBytes)).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		if req.ID == "" {
			badRequest(w, "id is required")
			return
		}
		view, err := rv.ToggleCandidate(kind, req.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewSelectVisibleHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{kind}/review/select.
func NewSelectVisibleHandler(rv Reviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		var req struct {
			Selected *bool `json:"selected"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsBytes)).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		if req.Selected == nil {
			badRequest(w, "selected is required")
			return
		}
		view, err := rv.SelectVisible(kind, *req.Selected)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewConfirmReviewHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{kind}/review/confirm.
func NewConfirmReviewHandler(rv Reviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		ack, err := rv.ConfirmReview(r.Context(), kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, ack)
	}
}

// NewDiscardReviewHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{kind}/review/discard.
func NewDiscardReviewHandler(rv Reviews) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := kindParam(w, r)
		if !ok {
			return
		}
		ack, err := rv.DiscardReview(r.Context(), kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, ack)
	}
}
