// Package lifecycle is the token state machine: issue, redeem, invalidate,
// list and cleanup. It keeps no state between calls; the store is the only
// source of truth, so any number of instances may share one database.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/repository"
	"github.com/nkiryanov/examaccess/internal/service/codec"
)

const (
	MinValidMinutes = 1
	MaxValidMinutes = 1440

	DefaultMaxGenerateAttempts = 5
	DefaultOpTimeout           = 5 * time.Second
	DefaultBatchSize           = 1000
)

type Config struct {
	// Replace the active token of the pair on issue.
	// When false a repeat issue fails unless regeneration is requested explicitly
	ReplaceActive bool

	MaxGenerateAttempts int           // Secrets tried before giving up on collisions. Default 5
	OpTimeout           time.Duration // Deadline for every store interaction. Default 5s
	DefaultBatchSize    int           // Cleanup batch size when caller passes zero. Default 1000
}

func DefaultConfig() Config {
	return Config{
		ReplaceActive:       true,
		MaxGenerateAttempts: DefaultMaxGenerateAttempts,
		OpTimeout:           DefaultOpTimeout,
		DefaultBatchSize:    DefaultBatchSize,
	}
}

type Service struct {
	cfg       Config
	storage   repository.Storage
	now       func() time.Time
	generator codec.Generator
	logger    logger.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithGenerator(g codec.Generator) Option {
	return func(s *Service) { s.generator = g }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates lifecycle service
// Zero numeric config values are replaced with defaults
func New(cfg Config, storage repository.Storage, opts ...Option) *Service {
	if cfg.MaxGenerateAttempts <= 0 {
		cfg.MaxGenerateAttempts = DefaultMaxGenerateAttempts
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = DefaultBatchSize
	}

	s := &Service{
		cfg:       cfg,
		storage:   storage,
		now:       time.Now,
		generator: codec.Default,
		logger:    logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Stores keep microseconds, so do we. Otherwise freshly issued and reloaded tokens differ
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

type IssueParams struct {
	ExamID       int64
	SubjectID    int64
	ValidMinutes int
	Regenerate   bool // replace active token even if implicit replacement is disabled
	Authorized   bool
}

// Issue creates a new token for the pair, replacing the active one if any
// Lookup, replacement and insert run in one transaction under the pair lock
func (s *Service) Issue(ctx context.Context, p IssueParams) (models.IssuedToken, error) {
	var issued models.IssuedToken

	if !p.Authorized {
		return issued, apperrors.ErrUnauthorized
	}
	if p.ValidMinutes < MinValidMinutes || p.ValidMinutes > MaxValidMinutes {
		return issued, fmt.Errorf("validity must be between %d and %d minutes, got %d: %w",
			MinValidMinutes, MaxValidMinutes, p.ValidMinutes, apperrors.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		if err := tx.Token().LockPair(ctx, p.ExamID, p.SubjectID); err != nil {
			return err
		}

		exam, subject, err := resolve(ctx, tx, p.ExamID, p.SubjectID)
		if err != nil {
			return err
		}

		now := s.clock()

		prior, err := tx.Token().FindActiveByPair(ctx, exam.ID, subject.ID, now)
		switch {
		case err == nil:
			if !s.cfg.ReplaceActive && !p.Regenerate {
				return apperrors.ErrActiveTokenExists
			}
			if _, err := tx.Token().Delete(ctx, prior.ID); err != nil {
				return err
			}
			s.logger.Info("Active token replaced", "token_id", prior.ID, "exam_id", exam.ID, "subject_id", subject.ID)
		case errors.Is(err, apperrors.ErrTokenNotFound):
		default:
			return err
		}

		token, err := s.insert(ctx, tx, models.AccessToken{
			ExamID:     exam.ID,
			SubjectID:  subject.ID,
			IssuedAt:   now,
			ValidUntil: now.Add(time.Duration(p.ValidMinutes) * time.Minute),
		})
		if err != nil {
			return err
		}

		issued = models.IssuedToken{Token: token, Exam: exam, Subject: subject}
		return nil
	})
	if err != nil {
		return models.IssuedToken{}, err
	}

	s.logger.Info("Token issued", "token_id", issued.Token.ID, "secret", issued.Token.Secret,
		"exam_id", issued.Exam.ID, "subject_id", issued.Subject.ID, "valid_until", issued.Token.ValidUntil)

	return issued, nil
}

// insert tries fresh secrets until one is accepted by the store
// Every attempt runs in a nested transaction so a collision does not abort the outer one
func (s *Service) insert(ctx context.Context, tx repository.Storage, token models.AccessToken) (models.AccessToken, error) {
	for attempt := 1; attempt <= s.cfg.MaxGenerateAttempts; attempt++ {
		secret, err := s.generator.Generate()
		if err != nil {
			return token, fmt.Errorf("secret generation failed: %w", err)
		}

		candidate := token
		candidate.ID = uuid.New()
		candidate.Secret = secret

		var inserted models.AccessToken
		err = tx.InTx(ctx, func(tx repository.Storage) error {
			inserted, err = tx.Token().Insert(ctx, candidate)
			return err
		})

		switch {
		case err == nil:
			return inserted, nil
		case errors.Is(err, apperrors.ErrSecretTaken):
			s.logger.Warn("Generated secret collided, retrying", "attempt", attempt)
		default:
			return token, err
		}
	}

	return token, fmt.Errorf("%d attempts made: %w", s.cfg.MaxGenerateAttempts, apperrors.ErrGenerationExhausted)
}

func resolve(ctx context.Context, tx repository.Storage, examID int64, subjectID int64) (models.Exam, models.Subject, error) {
	exam, err := tx.Exam().GetExam(ctx, examID)
	if err != nil {
		return exam, models.Subject{}, referenceError(err)
	}

	subject, err := tx.Subject().GetSubject(ctx, subjectID)
	if err != nil {
		return exam, subject, referenceError(err)
	}

	return exam, subject, nil
}

func referenceError(err error) error {
	if errors.Is(err, apperrors.ErrExamNotFound) || errors.Is(err, apperrors.ErrSubjectNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidReference, err)
	}
	return err
}

// Redeem consumes the token exactly once
// The record stays locked from lookup to update, so concurrent redemptions of
// one secret are serialized: the first wins, the rest see it used
func (s *Service) Redeem(ctx context.Context, secret string) (models.Redemption, error) {
	var redemption models.Redemption

	if !codec.Valid(secret) {
		return redemption, apperrors.ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		token, err := tx.Token().GetBySecretForUpdate(ctx, secret)
		switch {
		case errors.Is(err, apperrors.ErrTokenNotFound):
			return apperrors.ErrInvalidToken
		case err != nil:
			return err
		}

		now := s.clock()

		// Expiration goes first: expired and unused token reports expiry
		if now.After(token.ValidUntil) {
			return apperrors.ErrTokenExpired
		}
		if token.Used {
			return apperrors.ErrTokenAlreadyUsed
		}

		token, err = tx.Token().MarkUsed(ctx, token.ID, now)
		if err != nil {
			return err
		}

		exam, subject, err := resolve(ctx, tx, token.ExamID, token.SubjectID)
		if err != nil {
			return err
		}

		redemption = models.Redemption{Token: token, Exam: exam, Subject: subject}
		return nil
	})
	if err != nil {
		return models.Redemption{}, err
	}

	s.logger.Info("Token redeemed", "token_id", redemption.Token.ID, "exam_id", redemption.Exam.ID, "subject_id", redemption.Subject.ID)

	return redemption, nil
}

// Invalidate deletes the token whatever its state is
func (s *Service) Invalidate(ctx context.Context, id uuid.UUID, authorized bool) (models.AccessToken, error) {
	if !authorized {
		return models.AccessToken{}, apperrors.ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	token, err := s.storage.Token().Delete(ctx, id)
	if err != nil {
		return token, err
	}

	s.logger.Info("Token invalidated", "token_id", token.ID, "exam_id", token.ExamID, "subject_id", token.SubjectID, "used", token.Used)

	return token, nil
}

// ListForExam returns exam tokens newest first with state statistics
func (s *Service) ListForExam(ctx context.Context, examID int64, authorized bool) (models.ExamTokens, error) {
	var result models.ExamTokens

	if !authorized {
		return result, apperrors.ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		exam, err := tx.Exam().GetExam(ctx, examID)
		if err != nil {
			return referenceError(err)
		}

		entries, err := tx.Token().ListByExam(ctx, examID)
		if err != nil {
			return err
		}

		result = models.ExamTokens{Exam: exam, Entries: entries, Stats: statistics(entries, s.clock())}
		return nil
	})
	if err != nil {
		return models.ExamTokens{}, err
	}

	return result, nil
}

func statistics(entries []models.TokenEntry, now time.Time) models.TokenStats {
	stats := models.TokenStats{Total: len(entries)}
	for _, e := range entries {
		switch e.Token.State(now) {
		case models.TokenStateUsed:
			stats.Used++
		case models.TokenStateExpired:
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats
}

type CleanupParams struct {
	OlderThanDays int
	BatchSize     int    // Zero means configured default
	DryRun        bool   // Count matching tokens without deleting them
	ExamID        *int64 // Restrict to one exam
	Used          *bool  // Restrict to used or unused tokens
	Authorized    bool
}

// CleanupExpired deletes tokens with validity that ended more than OlderThanDays ago
// Deletion runs in bounded batches until a batch comes back short
func (s *Service) CleanupExpired(ctx context.Context, p CleanupParams) (models.CleanupReport, error) {
	var report models.CleanupReport

	if !p.Authorized {
		return report, apperrors.ErrUnauthorized
	}
	if p.OlderThanDays < 0 {
		return report, fmt.Errorf("days must not be negative, got %d: %w", p.OlderThanDays, apperrors.ErrInvalidInput)
	}
	if p.BatchSize < 0 {
		return report, fmt.Errorf("batch size must not be negative, got %d: %w", p.BatchSize, apperrors.ErrInvalidInput)
	}

	batchSize := p.BatchSize
	if batchSize == 0 {
		batchSize = s.cfg.DefaultBatchSize
	}

	report.Cutoff = s.clock().Add(-time.Duration(p.OlderThanDays) * 24 * time.Hour)
	report.DryRun = p.DryRun
	filter := models.CleanupFilter{ExpiredBefore: report.Cutoff, ExamID: p.ExamID, Used: p.Used}

	if p.DryRun {
		counts, err := s.countExpired(ctx, filter)
		if err != nil {
			return report, err
		}
		report.Add(counts)
		return report, nil
	}

	for {
		counts, err := s.deleteExpired(ctx, filter, batchSize)
		if err != nil {
			return report, err
		}

		report.Batches++
		report.Add(counts)

		if counts.Total() < batchSize {
			break
		}
	}

	s.logger.Info("Expired tokens deleted", "deleted", report.Deleted, "used", report.Used, "unused", report.Unused,
		"batches", report.Batches, "cutoff", report.Cutoff)

	return report, nil
}

func (s *Service) countExpired(ctx context.Context, filter models.CleanupFilter) (models.CleanupCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	return s.storage.Token().CountExpired(ctx, filter)
}

// Every batch gets its own deadline: the whole cleanup may take longer than one operation
func (s *Service) deleteExpired(ctx context.Context, filter models.CleanupFilter, limit int) (models.CleanupCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	return s.storage.Token().DeleteExpired(ctx, filter, limit)
}
