package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	mw "github.com/tercanobre/reidpanel/internal/api/middleware"
	"github.com/tercanobre/reidpanel/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth           *mw.Auth
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler http.HandlerFunc

	ListJobs   http.HandlerFunc
	SubmitJob  http.HandlerFunc
	GetJob     http.HandlerFunc
	CancelJob  http.HandlerFunc
	PreviewJob http.HandlerFunc

	GetReview       http.HandlerFunc
	ReloadReview    http.HandlerFunc
	FilterReview    http.HandlerFunc
	ToggleCandidate http.HandlerFunc
	SelectVisible   http.HandlerFunc
	ConfirmReview   http.HandlerFunc
	DiscardReview   http.HandlerFunc

	GetArtifact http.HandlerFunc

	ListHistory http.HandlerFunc
	GetHistory  http.HandlerFunc

	ListAthletes   http.HandlerFunc
	BuildEmbedding http.HandlerFunc
	SaveCrop       http.HandlerFunc
	Calibrate      http.HandlerFunc
	ExtractFrame   http.HandlerFunc

	GetRoster    http.HandlerFunc
	AddPlayer    http.HandlerFunc
	RemovePlayer http.HandlerFunc
	MovePlayer   http.HandlerFunc

	ListProcesses    http.HandlerFunc
	KillProcess      http.HandlerFunc
	KillAllProcesses http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(corsHandler(deps.AllowedOrigins).Handler)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		// Reads a panel repeats on a timer while a job runs.
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.LimitPolling)

			r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
			r.Get("/api/v1/jobs/{kind}", orNotImplemented(deps.GetJob))
			r.Get("/api/v1/jobs/{kind}/preview", orNotImplemented(deps.PreviewJob))
			r.Get("/api/v1/jobs/{kind}/review", orNotImplemented(deps.GetReview))
			r.Get("/api/v1/artifacts/*", orNotImplemented(deps.GetArtifact))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)

			r.Post("/api/v1/jobs/{kind}", orNotImplemented(deps.SubmitJob))
			r.Post("/api/v1/jobs/{kind}/cancel", orNotImplemented(deps.CancelJob))

			r.Post("/api/v1/jobs/{kind}/review/reload", orNotImplemented(deps.ReloadReview))
			r.Put("/api/v1/jobs/{kind}/review/filter", orNotImplemented(deps.FilterReview))
			r.Post("/api/v1/jobs/{kind}/review/toggle", orNotImplemented(deps.ToggleCandidate))
			r.Post("/api/v1/jobs/{kind}/review/select", orNotImplemented(deps.SelectVisible))
			r.Post("/api/v1/jobs/{kind}/review/confirm", orNotImplemented(deps.ConfirmReview))
			r.Post("/api/v1/jobs/{kind}/review/discard", orNotImplemented(deps.DiscardReview))

			r.Get("/api/v1/history", orNotImplemented(deps.ListHistory))
			r.Get("/api/v1/history/{runID}", orNotImplemented(deps.GetHistory))

			r.Get("/api/v1/athletes", orNotImplemented(deps.ListAthletes))
			r.Post("/api/v1/athletes/{name}/embedding", orNotImplemented(deps.BuildEmbedding))
			r.Post("/api/v1/athletes/{name}/crops", orNotImplemented(deps.SaveCrop))
			r.Post("/api/v1/athletes/{name}/calibrate", orNotImplemented(deps.Calibrate))
			r.Post("/api/v1/frames", orNotImplemented(deps.ExtractFrame))

			r.Get("/api/v1/roster", orNotImplemented(deps.GetRoster))
			r.Post("/api/v1/roster/players", orNotImplemented(deps.AddPlayer))
			r.Delete("/api/v1/roster/players", orNotImplemented(deps.RemovePlayer))
			r.Post("/api/v1/roster/players/move", orNotImplemented(deps.MovePlayer))

			r.Get("/api/v1/processes", orNotImplemented(deps.ListProcesses))
			r.Post("/api/v1/processes/kill-all", orNotImplemented(deps.KillAllProcesses))
			r.Post("/api/v1/processes/{script}/kill", orNotImplemented(deps.KillProcess))
		})
	})

	return r
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-RateLimit-Bucket", "X-Request-Id"},
		MaxAge:         300,
	})
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
