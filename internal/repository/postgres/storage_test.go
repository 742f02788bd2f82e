package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/repository"
	"github.com/nkiryanov/examaccess/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// Create exam and subject the tokens may reference
func seedPair(t *testing.T, db DBTX, username string) (models.Exam, models.Subject) {
	t.Helper()

	exam, err := (&ExamRepo{DB: db}).CreateExam(t.Context(), models.Exam{
		Title:     "Algebra final",
		StartTime: mustParseTime("2025-06-01 09:00:00Z"),
		EndTime:   mustParseTime("2025-06-01 11:00:00Z"),
	})
	require.NoError(t, err)

	subject, err := (&SubjectRepo{DB: db}).CreateSubject(t.Context(), models.Subject{
		Username:  username,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     username + "@example.com",
	})
	require.NoError(t, err)

	return exam, subject
}

func Test_Storage(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("commit if no error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			exam, subject := seedPair(t, tx, "commit")
			id := uuid.New()

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Token().Insert(t.Context(), models.AccessToken{
					ID:         id,
					Secret:     "commit-secret",
					ExamID:     exam.ID,
					SubjectID:  subject.ID,
					IssuedAt:   mustParseTime("2025-06-01 08:00:00Z"),
					ValidUntil: mustParseTime("2025-06-01 09:00:00Z"),
				})
				return err
			})
			require.NoError(t, err)

			_, err = s.Token().GetByID(t.Context(), id)
			require.NoError(t, err, "token must be visible after commit")
		})
	})

	t.Run("rollback if error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			exam, subject := seedPair(t, tx, "rollback")
			id := uuid.New()
			errFailed := errors.New("failed")

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Token().Insert(t.Context(), models.AccessToken{
					ID:         id,
					Secret:     "rollback-secret",
					ExamID:     exam.ID,
					SubjectID:  subject.ID,
					IssuedAt:   mustParseTime("2025-06-01 08:00:00Z"),
					ValidUntil: mustParseTime("2025-06-01 09:00:00Z"),
				})
				require.NoError(t, err)
				return errFailed
			})
			require.ErrorIs(t, err, errFailed)

			_, err = s.Token().GetByID(t.Context(), id)
			require.Error(t, err, "token must be rolled back")
		})
	})

	t.Run("canceled context is store error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := NewStorage(pg.Pool).InTx(ctx, func(repository.Storage) error { return nil })

		require.Error(t, err)
	})
}
