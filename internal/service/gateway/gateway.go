// Package gateway is the entry point for every token operation.
// It authorizes callers, then delegates to the lifecycle, counts outcomes and
// triggers side effects such as notifications.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/metrics"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/service/lifecycle"
	"github.com/nkiryanov/examaccess/internal/service/notify"
)

// Operation names as recorded in metrics
const (
	OpIssue      = "issue"
	OpRedeem     = "redeem"
	OpInvalidate = "invalidate"
	OpList       = "list"
	OpCleanup    = "cleanup"
)

type lifecycleService interface {
	Issue(ctx context.Context, p lifecycle.IssueParams) (models.IssuedToken, error)
	Redeem(ctx context.Context, secret string) (models.Redemption, error)
	Invalidate(ctx context.Context, id uuid.UUID, authorized bool) (models.AccessToken, error)
	ListForExam(ctx context.Context, examID int64, authorized bool) (models.ExamTokens, error)
	CleanupExpired(ctx context.Context, p lifecycle.CleanupParams) (models.CleanupReport, error)
}

// Authorizer decides whether caller may manage tokens
type Authorizer interface {
	CanManageTokens(caller models.Caller) bool
}

type AuthorizerFunc func(caller models.Caller) bool

func (f AuthorizerFunc) CanManageTokens(caller models.Caller) bool {
	return f(caller)
}

// StaffAuthorizer lets staff members and the system itself manage tokens
var StaffAuthorizer = AuthorizerFunc(func(caller models.Caller) bool {
	return caller.Staff || caller.System
})

type Notifier interface {
	Enqueue(n notify.Notice) bool
}

type Gateway struct {
	lifecycle lifecycleService
	authz     Authorizer
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    logger.Logger
}

func New(lc lifecycleService, authz Authorizer, notifier Notifier, m *metrics.Metrics, l logger.Logger) *Gateway {
	return &Gateway{
		lifecycle: lc,
		authz:     authz,
		notifier:  notifier,
		metrics:   m,
		logger:    l,
	}
}

type IssueRequest struct {
	ExamID       int64
	SubjectID    int64
	ValidMinutes int
	Regenerate   bool
}

// Issue creates token and schedules notice for its holder
// A notice that can't be scheduled is logged, the token is returned anyway
func (g *Gateway) Issue(ctx context.Context, caller models.Caller, req IssueRequest) (models.IssuedToken, error) {
	defer g.observe(OpIssue, time.Now())

	if !g.authz.CanManageTokens(caller) {
		return models.IssuedToken{}, g.deny(OpIssue, caller)
	}

	issued, err := g.lifecycle.Issue(ctx, lifecycle.IssueParams{
		ExamID:       req.ExamID,
		SubjectID:    req.SubjectID,
		ValidMinutes: req.ValidMinutes,
		Regenerate:   req.Regenerate,
		Authorized:   true,
	})
	g.record(OpIssue, err)
	if err != nil {
		g.logger.Warn("Token issue failed", "caller", caller.ID, "exam_id", req.ExamID, "subject_id", req.SubjectID, "error", err)
		return issued, err
	}

	if !g.notifier.Enqueue(notify.NewNotice(issued)) {
		g.logger.Warn("Token issued without notice", "token_id", issued.Token.ID, "subject_id", issued.Subject.ID)
	}

	return issued, nil
}

// Redeem is public: no caller is required
func (g *Gateway) Redeem(ctx context.Context, secret string) (models.Redemption, error) {
	defer g.observe(OpRedeem, time.Now())

	redemption, err := g.lifecycle.Redeem(ctx, secret)
	g.record(OpRedeem, err)
	if err != nil {
		g.logger.Info("Token redemption denied", "secret", secret, "error", err)
	}

	return redemption, err
}

func (g *Gateway) Invalidate(ctx context.Context, caller models.Caller, id uuid.UUID) (models.AccessToken, error) {
	defer g.observe(OpInvalidate, time.Now())

	if !g.authz.CanManageTokens(caller) {
		return models.AccessToken{}, g.deny(OpInvalidate, caller)
	}

	token, err := g.lifecycle.Invalidate(ctx, id, true)
	g.record(OpInvalidate, err)
	if err == nil {
		g.logger.Info("Token invalidated by caller", "caller", caller.ID, "token_id", id)
	}

	return token, err
}

func (g *Gateway) ListForExam(ctx context.Context, caller models.Caller, examID int64) (models.ExamTokens, error) {
	defer g.observe(OpList, time.Now())

	if !g.authz.CanManageTokens(caller) {
		return models.ExamTokens{}, g.deny(OpList, caller)
	}

	tokens, err := g.lifecycle.ListForExam(ctx, examID, true)
	g.record(OpList, err)

	return tokens, err
}

type CleanupRequest struct {
	OlderThanDays int
	BatchSize     int
	DryRun        bool
	ExamID        *int64
	Used          *bool
}

func (g *Gateway) Cleanup(ctx context.Context, caller models.Caller, req CleanupRequest) (models.CleanupReport, error) {
	defer g.observe(OpCleanup, time.Now())

	if !g.authz.CanManageTokens(caller) {
		return models.CleanupReport{}, g.deny(OpCleanup, caller)
	}

	report, err := g.lifecycle.CleanupExpired(ctx, lifecycle.CleanupParams{
		OlderThanDays: req.OlderThanDays,
		BatchSize:     req.BatchSize,
		DryRun:        req.DryRun,
		ExamID:        req.ExamID,
		Used:          req.Used,
		Authorized:    true,
	})
	g.record(OpCleanup, err)

	// Partial cleanup still deleted something
	if !report.DryRun {
		g.metrics.RecordCleanup(report.Used, report.Unused)
	}
	if err != nil {
		g.logger.Error("Cleanup failed", "caller", caller.ID, "deleted", report.Deleted, "error", err)
		return report, err
	}

	g.logger.Info("Cleanup finished", "caller", caller.ID, "dry_run", report.DryRun,
		"deleted", report.Deleted, "used", report.Used, "unused", report.Unused, "cutoff", report.Cutoff)

	return report, nil
}

func (g *Gateway) deny(operation string, caller models.Caller) error {
	g.metrics.RecordOperation(operation, Outcome(apperrors.ErrUnauthorized))
	g.logger.Warn("Caller is not allowed to manage tokens", "operation", operation, "caller", caller.ID)
	return apperrors.ErrUnauthorized
}

func (g *Gateway) record(operation string, err error) {
	g.metrics.RecordOperation(operation, Outcome(err))
}

func (g *Gateway) observe(operation string, started time.Time) {
	g.metrics.ObserveDuration(operation, time.Since(started).Seconds())
}

// Outcome maps operation error to a short metric label
func Outcome(err error) string {
	outcomes := []struct {
		err   error
		label string
	}{
		{apperrors.ErrUnauthorized, "unauthorized"},
		{apperrors.ErrInvalidInput, "invalid_input"},
		{apperrors.ErrInvalidReference, "invalid_reference"},
		{apperrors.ErrInvalidToken, "invalid_token"},
		{apperrors.ErrTokenAlreadyUsed, "already_used"},
		{apperrors.ErrTokenExpired, "expired"},
		{apperrors.ErrTokenNotFound, "not_found"},
		{apperrors.ErrActiveTokenExists, "active_exists"},
		{apperrors.ErrGenerationExhausted, "generation_exhausted"},
		{apperrors.ErrStoreUnavailable, "store_unavailable"},
	}

	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}
