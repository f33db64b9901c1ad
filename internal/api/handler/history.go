package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/store"
	"github.com/tercanobre/reidpanel/pkg/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// History is the job-run history the handlers read.
type History interface {
	ListJobRuns(ctx context.Context, filter store.JobRunFilter) ([]*models.JobRun, error)
	GetJobRun(ctx context.Context, id uuid.UUID) (*models.JobRun, error)
	ListReviewDecisions(ctx context.Context, jobRunID uuid.UUID) ([]*models.ReviewDecision, error)
}

// NewListHistoryHandler returns an http.HandlerFunc for
// GET /api/v1/history?kind=&limit=&since=.
func NewListHistoryHandler(h History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobRunFilter{Limit: defaultHistoryLimit}

		if v := q.Get("kind"); v != "" {
			kind, err := models.ParseJobKind(v)
			if err != nil {
				badRequest(w, err.Error())
				return
			}
			filter.Kind = kind
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxHistoryLimit {
				badRequest(w, "limit must be between 1 and 200")
				return
			}
			filter.Limit = n
		}
		if v := q.Get("since"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(w, "since must be a valid RFC3339 timestamp")
				return
			}
			filter.Since = since
		}

		limit := filter.Limit
		filter.Limit = limit + 1
		runs, err := h.ListJobRuns(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		hasMore := len(runs) > limit
		if hasMore {
			runs = runs[:limit]
		}
		if runs == nil {
			runs = []*models.JobRun{}
		}
		response.Collection(w, runs, response.PaginationMeta{Limit: limit, Count: len(runs), HasMore: hasMore})
	}
}

// NewGetHistoryHandler returns an http.HandlerFunc for GET /api/v1/history/{runID}.
func NewGetHistoryHandler(h History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			badRequest(w, "run id must be a UUID")
			return
		}
		run, err := h.GetJobRun(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job run not found", nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		decisions, err := h.ListReviewDecisions(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if decisions == nil {
			decisions = []*models.ReviewDecision{}
		}
		response.JSON(w, struct {
			*models.JobRun
			Decisions []*models.ReviewDecision `json:"decisions"`
		}{run, decisions})
	}
}
