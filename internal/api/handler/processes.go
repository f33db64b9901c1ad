package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/pkg/models"
)

// Processes is the background-script process surface the handlers depend on.
type Processes interface {
	ListProcesses(ctx context.Context) ([]models.Process, error)
	KillProcess(ctx context.Context, script string) error
	KillAllProcesses(ctx context.Context) (int, error)
}

// NewListProcessesHandler returns an http.HandlerFunc for GET /api/v1/processes.
func NewListProcessesHandler(p Processes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		procs, err := p.ListProcesses(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if procs == nil {
			procs = []models.Process{}
		}
		response.Collection(w, procs, response.PaginationMeta{Limit: len(procs), Count: len(procs)})
	}
}

// NewKillProcessHandler returns an http.HandlerFunc for
// POST /api/v1/processes/{script}/kill.
func NewKillProcessHandler(p Processes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		script := chi.URLParam(r, "script")
		if err := validate.Var(script, "required,max=64,excludesall=/\\"); err != nil {
			badRequest(w, "script name is invalid")
			return
		}

		if err := p.KillProcess(r.Context(), script); err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"script": script, "stopped": true})
	}
}

// NewKillAllProcessesHandler returns an http.HandlerFunc for
// POST /api/v1/processes/kill-all.
func NewKillAllProcessesHandler(p Processes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := p.KillAllProcesses(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"stopped": n})
	}
}
