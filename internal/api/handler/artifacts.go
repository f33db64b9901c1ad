package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/backend"
	"github.com/tercanobre/reidpanel/internal/cache"
)

// maxCachedArtifact bounds the artifacts kept in Redis; larger files are
// always proxied.
const maxCachedArtifact = 8 << 20

// ArtifactSource fetches job artifacts from the backend.
type ArtifactSource interface {
	GetArtifact(ctx context.Context, ref string) (*backend.Artifact, error)
}

// BlobCache is the cache subset the artifact handler needs.
type BlobCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NewArtifactHandler returns an http.HandlerFunc for GET /api/v1/artifacts/*.
// Artifacts are immutable once a job finishes, so hits are served from Redis.
func NewArtifactHandler(src ArtifactSource, c BlobCache, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := url.PathUnescape(chi.URLParam(r, "*"))
		if err != nil || ref == "" || strings.Contains(ref, "..") {
			badRequest(w, "Invalid artifact reference")
			return
		}

		if c != nil {
			data, hit, err := c.Get(r.Context(), cache.ArtifactKey(ref))
			if err != nil {
				slog.Warn("artifact cache read failed", "ref", ref, "error", err)
			}
			if hit {
				ctype, _, _ := c.Get(r.Context(), cache.ArtifactTypeKey(ref))
				w.Header().Set("X-Cache", "HIT")
				response.Blob(w, string(ctype), data)
				return
			}
		}

		art, err := src.GetArtifact(r.Context(), ref)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if c != nil && len(art.Data) <= maxCachedArtifact {
			if err := c.Set(r.Context(), cache.ArtifactKey(ref), art.Data, ttl); err != nil {
				slog.Warn("artifact cache write failed", "ref", ref, "error", err)
			} else {
				_ = c.Set(r.Context(), cache.ArtifactTypeKey(ref), []byte(art.ContentType), ttl)
			}
		}
		w.Header().Set("X-Cache", "MISS")
		response.Blob(w, art.ContentType, art.Data)
	}
}
