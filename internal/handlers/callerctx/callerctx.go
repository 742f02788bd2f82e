package callerctx

import (
	"context"

	"github.com/nkiryanov/examaccess/internal/models"
)

type ctxKey string

const callerKey ctxKey = "caller"

// Create a new context with the caller
func New(ctx context.Context, c models.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// Extract the caller from the context
func FromContext(ctx context.Context) (models.Caller, bool) {
	c, ok := ctx.Value(callerKey).(models.Caller)
	return c, ok
}
