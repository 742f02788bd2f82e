package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/models"
)

// Storage is the single source of truth for tokens and the entities they reference
// Implementations must make every method atomic for the record (or batch) it touches
type Storage interface {
	Token() TokenRepo
	Exam() ExamRepo
	Subject() SubjectRepo

	// Run fn in transaction. Storage passed to fn is bound to the transaction
	// If fn returns error every change made through it is rolled back
	// Calling InTx on transaction bound storage opens a nested transaction (savepoint)
	InTx(ctx context.Context, fn func(Storage) error) error
}

type TokenRepo interface {
	// Insert new token
	// If the secret is taken must return apperrors.ErrSecretTaken
	Insert(ctx context.Context, token models.AccessToken) (models.AccessToken, error)

	// Get token by id
	// If token not found must return apperrors.ErrTokenNotFound
	GetByID(ctx context.Context, id uuid.UUID) (models.AccessToken, error)

	// Get token by secret. GetBySecretForUpdate additionally holds exclusive lock
	// on the record until the surrounding transaction ends
	// If token not found must return apperrors.ErrTokenNotFound
	GetBySecret(ctx context.Context, secret string) (models.AccessToken, error)
	GetBySecretForUpdate(ctx context.Context, secret string) (models.AccessToken, error)

	// Lock the (exam, subject) pair until the surrounding transaction ends
	// Concurrent transactions locking the same pair are serialized
	LockPair(ctx context.Context, examID int64, subjectID int64) error

	// Return the unused token of the pair that is not expired at 'now' and lock it
	// If there is no such token must return apperrors.ErrTokenNotFound
	FindActiveByPair(ctx context.Context, examID int64, subjectID int64, now time.Time) (models.AccessToken, error)

	// Mark token used. Must never overwrite existing 'usedAt'
	// If the token is used already must return apperrors.ErrTokenAlreadyUsed
	// If token not found must return apperrors.ErrTokenNotFound
	MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (models.AccessToken, error)

	// Delete token regardless its state and return what was deleted
	// If token not found must return apperrors.ErrTokenNotFound
	Delete(ctx context.Context, id uuid.UUID) (models.AccessToken, error)

	// List exam tokens with their holders, newest first
	ListByExam(ctx context.Context, examID int64) ([]models.TokenEntry, error)

	// Delete at most 'limit' tokens matching the filter
	// Tokens locked by concurrent transactions are skipped
	DeleteExpired(ctx context.Context, filter models.CleanupFilter, limit int) (models.CleanupCounts, error)

	// Count tokens matching the filter without deleting them
	CountExpired(ctx context.Context, filter models.CleanupFilter) (models.CleanupCounts, error)
}

type ExamRepo interface {
	CreateExam(ctx context.Context, exam models.Exam) (models.Exam, error)

	// If exam not found must return apperrors.ErrExamNotFound
	GetExam(ctx context.Context, id int64) (models.Exam, error)
}

type SubjectRepo interface {
	CreateSubject(ctx context.Context, subject models.Subject) (models.Subject, error)

	// If subject not found must return apperrors.ErrSubjectNotFound
	GetSubject(ctx context.Context, id int64) (models.Subject, error)
}
