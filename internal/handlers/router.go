package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/handlers/middleware"
	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/service/gateway"
)

const (
	defaultRedeemLimit  = 100
	defaultRedeemWindow = time.Hour
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type tokenGateway interface {
	Issue(ctx context.Context, caller models.Caller, req gateway.IssueRequest) (models.IssuedToken, error)
	Redeem(ctx context.Context, secret string) (models.Redemption, error)
	Invalidate(ctx context.Context, caller models.Caller, id uuid.UUID) (models.AccessToken, error)
	ListForExam(ctx context.Context, caller models.Caller, examID int64) (models.ExamTokens, error)
	Cleanup(ctx context.Context, caller models.Caller, req gateway.CleanupRequest) (models.CleanupReport, error)
}

type authenticator interface {
	FromRequest(r *http.Request) (models.Caller, error)
}

type RouterConfig struct {
	// Requests per client IP to the public access endpoint within RedeemWindow
	// Defaults to 100 per hour
	RedeemLimit  int
	RedeemWindow time.Duration

	// Served on /metrics if set
	Metrics http.Handler
}

func NewRouter(
	cfg RouterConfig,
	gw tokenGateway,
	auth authenticator,
	logger logger.Logger,
) http.Handler {
	if cfg.RedeemLimit <= 0 {
		cfg.RedeemLimit = defaultRedeemLimit
	}
	if cfg.RedeemWindow <= 0 {
		cfg.RedeemWindow = defaultRedeemWindow
	}

	withCaller := middleware.CallerMiddleware(auth)
	throttled := middleware.RateLimitByIP(cfg.RedeemLimit, cfg.RedeemWindow)

	mux := http.NewServeMux()

	mux.Handle("POST /api/exams/{examID}/generate-token", withCaller(handleGenerateToken(gw, logger)))
	mux.Handle("GET /api/exams/{examID}/tokens", withCaller(handleListTokens(gw, logger)))
	mux.Handle("DELETE /api/tokens/{tokenID}/invalidate", withCaller(handleInvalidate(gw, logger)))
	mux.Handle("POST /api/tokens/cleanup-expired", withCaller(handleCleanup(gw, logger)))

	mux.Handle("GET /api/access/{token}", throttled(handleAccess(gw, logger)))
	mux.Handle("GET /api/health", handleHealth())

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}
