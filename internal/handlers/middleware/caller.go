package middleware

import (
	"net/http"

	"github.com/nkiryanov/examaccess/internal/handlers/callerctx"
	"github.com/nkiryanov/examaccess/internal/handlers/render"
	"github.com/nkiryanov/examaccess/internal/models"
)

type authenticator interface {
	FromRequest(r *http.Request) (models.Caller, error)
}

// CallerMiddleware authenticates request and stores the caller in context
// Whether caller may do anything is up to the gateway
func CallerMiddleware(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := a.FromRequest(r)
			if err != nil {
				render.ServiceError(w, "Authentication credentials were not provided or are invalid", http.StatusUnauthorized)
				return
			}
			ctx := callerctx.New(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
