package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
)

type TokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, secret, exam_id, subject_id, issued_at, valid_until, used, used_at`

func scanToken(row pgx.CollectableRow) (models.AccessToken, error) {
	var t models.AccessToken
	err := row.Scan(&t.ID, &t.Secret, &t.ExamID, &t.SubjectID, &t.IssuedAt, &t.ValidUntil, &t.Used, &t.UsedAt)
	return t, err
}

// collectToken maps 'no rows' to apperrors.ErrTokenNotFound
func collectToken(rows pgx.Rows) (models.AccessToken, error) {
	token, err := pgx.CollectOneRow(rows, scanToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrTokenNotFound
	default:
		return token, dbError(err)
	}
}

const insertToken = `-- name: Insert access token
INSERT INTO access_tokens (id, secret, exam_id, subject_id, issued_at, valid_until, used, used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + tokenColumns

func (r *TokenRepo) Insert(ctx context.Context, token models.AccessToken) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, insertToken,
		token.ID, token.Secret, token.ExamID, token.SubjectID, token.IssuedAt, token.ValidUntil, token.Used, token.UsedAt)
	got, err := pgx.CollectOneRow(rows, scanToken)
	if err == nil {
		return got, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return got, dbError(err)
	}

	switch {
	case pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "access_tokens_secret_key":
		return got, apperrors.ErrSecretTaken
	case pgErr.Code == pgerrcode.ForeignKeyViolation && pgErr.ConstraintName == "access_tokens_exam_id_fkey":
		return got, apperrors.ErrExamNotFound
	case pgErr.Code == pgerrcode.ForeignKeyViolation && pgErr.ConstraintName == "access_tokens_subject_id_fkey":
		return got, apperrors.ErrSubjectNotFound
	case pgErr.Code == pgerrcode.CheckViolation:
		return got, apperrors.ErrInvalidInput
	default:
		return got, dbError(err)
	}
}

const getTokenByID = `-- name: Get token by id
SELECT ` + tokenColumns + `
FROM access_tokens
WHERE id = $1`

func (r *TokenRepo) GetByID(ctx context.Context, id uuid.UUID) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByID, id)
	return collectToken(rows)
}

const getTokenBySecret = `-- name: Get token by secret
SELECT ` + tokenColumns + `
FROM access_tokens
WHERE secret = $1`

// Get token by secret
// It returns the token even it expired or used already
func (r *TokenRepo) GetBySecret(ctx context.Context, secret string) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenBySecret, secret)
	return collectToken(rows)
}

func (r *TokenRepo) GetBySecretForUpdate(ctx context.Context, secret string) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenBySecret+"\nFOR UPDATE", secret)
	return collectToken(rows)
}

const lockPair = `-- name: Lock exam and subject pair until transaction ends
SELECT pg_advisory_xact_lock(hashtext($1::bigint::text), hashtext($2::bigint::text))`

func (r *TokenRepo) LockPair(ctx context.Context, examID int64, subjectID int64) error {
	_, err := r.DB.Exec(ctx, lockPair, examID, subjectID)
	if err != nil {
		return dbError(err)
	}
	return nil
}

const findActiveByPair = `-- name: Find active token of exam and subject pair
SELECT ` + tokenColumns + `
FROM access_tokens
WHERE exam_id = $1 AND subject_id = $2 AND NOT used AND valid_until >= $3
ORDER BY issued_at DESC
LIMIT 1
FOR UPDATE`

func (r *TokenRepo) FindActiveByPair(ctx context.Context, examID int64, subjectID int64, now time.Time) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, findActiveByPair, examID, subjectID, now)
	return collectToken(rows)
}

const markTokenUsed = `-- name: Mark token used if it not used
UPDATE access_tokens
SET used = true, used_at = $2
WHERE id = $1 AND NOT used
RETURNING ` + tokenColumns

// Mark token used
// Already used token is never rewritten: the update matches nothing and the
// token is looked up again to tell 'used' from 'not found'
func (r *TokenRepo) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, markTokenUsed, id, usedAt)
	token, err := collectToken(rows)
	if !errors.Is(err, apperrors.ErrTokenNotFound) {
		return token, err
	}

	token, err = r.GetByID(ctx, id)
	if err != nil {
		return token, err
	}
	return token, apperrors.ErrTokenAlreadyUsed
}

const deleteToken = `-- name: Delete token
DELETE FROM access_tokens
WHERE id = $1
RETURNING ` + tokenColumns

func (r *TokenRepo) Delete(ctx context.Context, id uuid.UUID) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, deleteToken, id)
	return collectToken(rows)
}

const listByExam = `-- name: List exam tokens with holders
SELECT t.id, t.secret, t.exam_id, t.subject_id, t.issued_at, t.valid_until, t.used, t.used_at,
       s.id, s.username, s.first_name, s.last_name, s.email
FROM access_tokens t
JOIN subjects s ON s.id = t.subject_id
WHERE t.exam_id = $1
ORDER BY t.issued_at DESC, t.secret`

func (r *TokenRepo) ListByExam(ctx context.Context, examID int64) ([]models.TokenEntry, error) {
	rows, _ := r.DB.Query(ctx, listByExam, examID)
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TokenEntry, error) {
		var e models.TokenEntry
		t, s := &e.Token, &e.Subject
		err := row.Scan(
			&t.ID, &t.Secret, &t.ExamID, &t.SubjectID, &t.IssuedAt, &t.ValidUntil, &t.Used, &t.UsedAt,
			&s.ID, &s.Username, &s.FirstName, &s.LastName, &s.Email,
		)
		return e, err
	})
	if err != nil {
		return nil, dbError(err)
	}
	return entries, nil
}

// Rows locked by concurrent transaction (a redemption in flight) are skipped
// and picked up by the next sweep
const deleteExpired = `-- name: Delete batch of expired tokens
WITH batch AS (
	SELECT id
	FROM access_tokens
	WHERE valid_until < $1
	  AND ($2::bigint IS NULL OR exam_id = $2)
	  AND ($3::boolean IS NULL OR used = $3)
	ORDER BY valid_until
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
DELETE FROM access_tokens t
USING batch
WHERE t.id = batch.id
RETURNING t.used`

func (r *TokenRepo) DeleteExpired(ctx context.Context, filter models.CleanupFilter, limit int) (models.CleanupCounts, error) {
	rows, _ := r.DB.Query(ctx, deleteExpired, filter.ExpiredBefore, filter.ExamID, filter.Used, limit)
	return collectCounts(rows)
}

const countExpired = `-- name: Count expired tokens
SELECT used
FROM access_tokens
WHERE valid_until < $1
  AND ($2::bigint IS NULL OR exam_id = $2)
  AND ($3::boolean IS NULL OR used = $3)`

func (r *TokenRepo) CountExpired(ctx context.Context, filter models.CleanupFilter) (models.CleanupCounts, error) {
	rows, _ := r.DB.Query(ctx, countExpired, filter.ExpiredBefore, filter.ExamID, filter.Used)
	return collectCounts(rows)
}

func collectCounts(rows pgx.Rows) (models.CleanupCounts, error) {
	var counts models.CleanupCounts

	used, err := pgx.CollectRows(rows, pgx.RowTo[bool])
	if err != nil {
		return counts, dbError(err)
	}

	for _, u := range used {
		if u {
			counts.Used++
		} else {
			counts.Unused++
		}
	}
	return counts, nil
}
