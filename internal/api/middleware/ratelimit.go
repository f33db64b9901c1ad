package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tercanobre/reidpanel/internal/api/response"
	"github.com/tercanobre/reidpanel/internal/cache"
)

const (
	defaultActionsPerMinute = 120
	defaultPollsPerMinute   = 600

	rateWindow = 60 * time.Second
)

// Rate-limit buckets. Each operator token gets one fixed window per bucket.
const (
	BucketActions = "actions"
	BucketPolls   = "polls"
)

// RateLimit provides fixed-window rate limiting via Redis. Operator actions
// and the read-only routes a panel polls on a timer count against separate
// windows.
type RateLimit struct {
	cache         cache.Cache
	actionsPerMin int
	pollsPerMin   int
}

// NewRateLimit creates the middleware. Non-positive limits fall back to the
// defaults.
func NewRateLimit(c cache.Cache, actionsPerMin, pollsPerMin int) *RateLimit {
	if actionsPerMin <= 0 {
		actionsPerMin = defaultActionsPerMinute
	}
	if pollsPerMin <= 0 {
		pollsPerMin = defaultPollsPerMinute
	}
	return &RateLimit{cache: c, actionsPerMin: actionsPerMin, pollsPerMin: pollsPerMin}
}

// Limit throttles operator actions and other non-polling requests.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return rl.window(BucketActions, rl.actionsPerMin, next)
}

// LimitPolling throttles job status, preview, review and artifact reads.
func (rl *RateLimit) LimitPolling(next http.Handler) http.Handler {
	return rl.window(BucketPolls, rl.pollsPerMin, next)
}

// window counts requests per token prefix set by the auth middleware.
// Requests without a prefix and cache failures pass through.
func (rl *RateLimit) window(bucket string, limit int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := KeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix, bucket), rateWindow)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))
		w.Header().Set("X-RateLimit-Bucket", bucket)

		if count > int64(limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", map[string]string{"bucket": bucket})
			return
		}

		next.ServeHTTP(w, r)
	})
}
