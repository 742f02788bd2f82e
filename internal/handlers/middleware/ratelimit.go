package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/nkiryanov/examaccess/internal/handlers/render"
)

// RateLimitByIP limits requests per client IP address within the window
// Throttled requests get 429 in the same error format as any other failure
func RateLimitByIP(requestLimit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			render.ServiceError(w, "Request was throttled", http.StatusTooManyRequests)
		}),
	)
}
