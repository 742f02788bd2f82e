package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/repository"
	"github.com/nkiryanov/examaccess/internal/testutil"
)

func newToken(exam models.Exam, subject models.Subject, secret string, validUntil time.Time) models.AccessToken {
	return models.AccessToken{
		ID:         uuid.New(),
		Secret:     secret,
		ExamID:     exam.ID,
		SubjectID:  subject.ID,
		IssuedAt:   validUntil.Add(-time.Hour),
		ValidUntil: validUntil,
	}
}

func Test_TokenRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	now := mustParseTime("2025-06-01 10:00:00Z")

	t.Run("insert and get ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "insert")
			repo := TokenRepo{DB: tx}
			token := newToken(exam, subject, "insert-secret", now)

			got, err := repo.Insert(t.Context(), token)
			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.False(t, got.Used)
			require.Nil(t, got.UsedAt)

			bySecret, err := repo.GetBySecret(t.Context(), token.Secret)
			require.NoError(t, err)
			require.Equal(t, token.ID, bySecret.ID)
			require.WithinDuration(t, token.ValidUntil, bySecret.ValidUntil, 0)

			byID, err := repo.GetByID(t.Context(), token.ID)
			require.NoError(t, err)
			require.Equal(t, token.Secret, byID.Secret)
		})
	})

	t.Run("insert secret taken", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "taken")
			repo := TokenRepo{DB: tx}
			_, err := repo.Insert(t.Context(), newToken(exam, subject, "same-secret", now))
			require.NoError(t, err)

			_, err = repo.Insert(t.Context(), newToken(exam, subject, "same-secret", now))

			require.ErrorIs(t, err, apperrors.ErrSecretTaken)
		})
	})

	t.Run("insert unknown exam", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "unknown-exam")
			repo := TokenRepo{DB: tx}
			exam.ID += 1000

			_, err := repo.Insert(t.Context(), newToken(exam, subject, "orphan", now))

			require.ErrorIs(t, err, apperrors.ErrExamNotFound)
		})
	})

	t.Run("get not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := TokenRepo{DB: tx}

			_, err := repo.GetBySecret(t.Context(), "missing")
			require.ErrorIs(t, err, apperrors.ErrTokenNotFound)

			_, err = repo.GetByID(t.Context(), uuid.New())
			require.ErrorIs(t, err, apperrors.ErrTokenNotFound)
		})
	})

	t.Run("mark used never overwrites", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "mark")
			repo := TokenRepo{DB: tx}
			token, err := repo.Insert(t.Context(), newToken(exam, subject, "mark-secret", now))
			require.NoError(t, err)

			first, err := repo.MarkUsed(t.Context(), token.ID, now)
			require.NoError(t, err)
			require.True(t, first.Used)
			require.WithinDuration(t, now, *first.UsedAt, 0)

			second, err := repo.MarkUsed(t.Context(), token.ID, now.Add(time.Minute))
			require.ErrorIs(t, err, apperrors.ErrTokenAlreadyUsed)
			require.WithinDuration(t, now, *second.UsedAt, 0, "used_at must stay as first redemption set it")

			_, err = repo.MarkUsed(t.Context(), uuid.New(), now)
			require.ErrorIs(t, err, apperrors.ErrTokenNotFound)
		})
	})

	t.Run("find active by pair", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "active")
			repo := TokenRepo{DB: tx}
			_, err := repo.Insert(t.Context(), newToken(exam, subject, "expired-one", now.Add(-time.Minute)))
			require.NoError(t, err)

			_, err = repo.FindActiveByPair(t.Context(), exam.ID, subject.ID, now)
			require.ErrorIs(t, err, apperrors.ErrTokenNotFound, "expired token is not active")

			active, err := repo.Insert(t.Context(), newToken(exam, subject, "active-one", now.Add(time.Hour)))
			require.NoError(t, err)

			got, err := repo.FindActiveByPair(t.Context(), exam.ID, subject.ID, now)
			require.NoError(t, err)
			require.Equal(t, active.ID, got.ID)
		})
	})

	t.Run("lock pair", func(t *testing.T) {
		s := NewStorage(pg.Pool)
		exam, subject := seedPair(t, pg.Pool, "lock")

		err := s.InTx(t.Context(), func(s repository.Storage) error {
			err := s.Token().LockPair(t.Context(), exam.ID, subject.ID)
			require.NoError(t, err, "pair lock should be taken")

			// Same pair from another transaction waits until this one ends
			ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
			defer cancel()
			err = NewStorage(pg.Pool).InTx(ctx, func(other repository.Storage) error {
				return other.Token().LockPair(ctx, exam.ID, subject.ID)
			})
			require.ErrorIs(t, err, apperrors.ErrStoreUnavailable, "locked pair must block other transactions")

			// Other pair is free
			err = NewStorage(pg.Pool).InTx(t.Context(), func(other repository.Storage) error {
				return other.Token().LockPair(t.Context(), exam.ID, subject.ID+1000)
			})
			require.NoError(t, err)

			return nil
		})
		require.NoError(t, err)

		// Released on commit
		err = s.InTx(t.Context(), func(s repository.Storage) error {
			return s.Token().LockPair(t.Context(), exam.ID, subject.ID)
		})
		require.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "delete")
			repo := TokenRepo{DB: tx}
			token, err := repo.Insert(t.Context(), newToken(exam, subject, "delete-secret", now))
			require.NoError(t, err)

			deleted, err := repo.Delete(t.Context(), token.ID)
			require.NoError(t, err)
			require.Equal(t, token.Secret, deleted.Secret)

			_, err = repo.Delete(t.Context(), token.ID)
			require.ErrorIs(t, err, apperrors.ErrTokenNotFound)
		})
	})

	t.Run("list by exam newest first", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "list")
			repo := TokenRepo{DB: tx}
			older := newToken(exam, subject, "older", now)
			newer := newToken(exam, subject, "newer", now.Add(time.Hour))
			for _, token := range []models.AccessToken{older, newer} {
				_, err := repo.Insert(t.Context(), token)
				require.NoError(t, err)
			}

			entries, err := repo.ListByExam(t.Context(), exam.ID)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "newer", entries[0].Token.Secret)
			assert.Equal(t, "older", entries[1].Token.Secret)
			assert.Equal(t, subject.Username, entries[0].Subject.Username)

			empty, err := repo.ListByExam(t.Context(), exam.ID+1000)
			require.NoError(t, err)
			require.Empty(t, empty)
		})
	})

	t.Run("delete expired respects filter and limit", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "cleanup")
			repo := TokenRepo{DB: tx}
			for i, secret := range []string{"exp-1", "exp-2", "exp-3"} {
				_, err := repo.Insert(t.Context(), newToken(exam, subject, secret, now.Add(-time.Duration(i+1)*time.Hour)))
				require.NoError(t, err)
			}
			used, err := repo.Insert(t.Context(), newToken(exam, subject, "exp-used", now.Add(-time.Hour)))
			require.NoError(t, err)
			_, err = repo.MarkUsed(t.Context(), used.ID, now.Add(-90*time.Minute))
			require.NoError(t, err)
			_, err = repo.Insert(t.Context(), newToken(exam, subject, "alive", now.Add(time.Hour)))
			require.NoError(t, err)

			filter := models.CleanupFilter{ExpiredBefore: now}

			counted, err := repo.CountExpired(t.Context(), filter)
			require.NoError(t, err)
			require.Equal(t, models.CleanupCounts{Used: 1, Unused: 3}, counted)

			onlyUsed := true
			usedCounts, err := repo.CountExpired(t.Context(), models.CleanupFilter{ExpiredBefore: now, Used: &onlyUsed})
			require.NoError(t, err)
			require.Equal(t, models.CleanupCounts{Used: 1}, usedCounts)

			batch, err := repo.DeleteExpired(t.Context(), filter, 3)
			require.NoError(t, err)
			require.Equal(t, 3, batch.Total())

			rest, err := repo.DeleteExpired(t.Context(), filter, 3)
			require.NoError(t, err)
			require.Equal(t, 1, rest.Total())
			require.Equal(t, 4, batch.Used+batch.Unused+rest.Used+rest.Unused)

			_, err = repo.GetBySecret(t.Context(), "alive")
			require.NoError(t, err, "live token must survive cleanup")

			otherExam := exam.ID + 1000
			none, err := repo.DeleteExpired(t.Context(), models.CleanupFilter{ExpiredBefore: now.Add(time.Hour * 2), ExamID: &otherExam}, 10)
			require.NoError(t, err)
			require.Zero(t, none.Total())
		})
	})

	t.Run("concurrent mark used has one winner", func(t *testing.T) {
		s := NewStorage(pg.Pool)
		exam, subject := seedPair(t, pg.Pool, "concurrent")
		token, err := s.Token().Insert(t.Context(), newToken(exam, subject, "race-secret", now))
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InTx(t.Context(), func(s repository.Storage) error {
					got, err := s.Token().GetBySecretForUpdate(t.Context(), "race-secret")
					if err != nil {
						return err
					}
					_, err = s.Token().MarkUsed(t.Context(), got.ID, now)
					return err
				})
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, winners)
		got, err := s.Token().GetByID(t.Context(), token.ID)
		require.NoError(t, err)
		require.True(t, got.Used)
	})
}
