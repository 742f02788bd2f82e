package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/testutil"
)

func Test_ExamAndSubjectRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("create and get", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			exam, subject := seedPair(t, tx, "ref")

			gotExam, err := (&ExamRepo{DB: tx}).GetExam(t.Context(), exam.ID)
			require.NoError(t, err)
			require.Equal(t, "Algebra final", gotExam.Title)
			require.False(t, gotExam.CreatedAt.IsZero())

			gotSubject, err := (&SubjectRepo{DB: tx}).GetSubject(t.Context(), subject.ID)
			require.NoError(t, err)
			require.Equal(t, "Ada Lovelace", gotSubject.DisplayName())
		})
	})

	t.Run("exam with inverted time range", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			_, err := (&ExamRepo{DB: tx}).CreateExam(t.Context(), models.Exam{
				Title:     "Broken",
				StartTime: mustParseTime("2025-06-01 11:00:00Z"),
				EndTime:   mustParseTime("2025-06-01 09:00:00Z"),
			})

			require.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	})

	t.Run("not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			_, err := (&ExamRepo{DB: tx}).GetExam(t.Context(), 424242)
			require.ErrorIs(t, err, apperrors.ErrExamNotFound)

			_, err = (&SubjectRepo{DB: tx}).GetSubject(t.Context(), 424242)
			require.ErrorIs(t, err, apperrors.ErrSubjectNotFound)
		})
	})

	t.Run("duplicate username", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := &SubjectRepo{DB: tx}
			_, err := repo.CreateSubject(t.Context(), models.Subject{Username: "twin"})
			require.NoError(t, err)

			_, err = repo.CreateSubject(t.Context(), models.Subject{Username: "twin"})
			require.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	})
}
