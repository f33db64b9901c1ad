package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/pkg/models"
)

const (
	maxUploadBytes = 64 << 20
	maxPhotos      = 50
)

var validate = newRequestValidator()

// Athletes is the reference-identity surface the handlers depend on.
type Athletes interface {
	ListAthletes(ctx context.Context) ([]models.Athlete, error)
	BuildEmbedding(ctx context.Context, athlete string, photos []backend.Photo) (int, error)
}

// NewListAthletesHandler returns an http.HandlerFunc for GET /api/v1/athletes.
func NewListAthletesHandler(a Athletes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		athletes, err := a.ListAthletes(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if athletes == nil {
			athletes = []models.Athlete{}
		}
		response.Collection(w, athletes, response.PaginationMeta{Limit: len(athletes), Count: len(athletes)})
	}
}

// NewBuildEmbeddingHandler returns an http.HandlerFunc for
// POST /api/v1/athletes/{name}/embedding. Photos arrive as multipart
// "photos" parts.
func NewBuildEmbeddingHandler(a Athletes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := athleteParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			badRequest(w, "Invalid multipart body")
			return
		}
		headers := r.MultipartForm.File["photos"]
		if len(headers) == 0 {
			badRequest(w, "at least one photo is required")
			return
		}
		if len(headers) > maxPhotos {
			badRequest(w, "too many photos")
			return
		}

		photos := make([]backend.Photo, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				badRequest(w, "unreadable photo "+fh.Filename)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				badRequest(w, "unreadable photo "+fh.Filename)
				return
			}
			photos = append(photos, backend.Photo{Filename: fh.Filename, Data: data})
		}

		n, err := a.BuildEmbedding(r.Context(), name, photos)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, map[string]any{"athlete": name, "photos": n})
	}
}

// athleteParam reads and checks the {name} route parameter.
func athleteParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if err := validate.Var(name, "required,max=64,excludesall=/\\"); err != nil {
		badRequest(w, "athlete name is invalid")
		return "", false
	}
	return name, true
}
