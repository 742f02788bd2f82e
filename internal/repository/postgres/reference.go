package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
)

type ExamRepo struct {
	DB DBTX
}

const createExam = `-- name: Create exam
INSERT INTO exams (title, start_time, end_time)
VALUES ($1, $2, $3)
RETURNING id, title, start_time, end_time, created_at`

func (r *ExamRepo) CreateExam(ctx context.Context, exam models.Exam) (models.Exam, error) {
	rows, _ := r.DB.Query(ctx, createExam, exam.Title, exam.StartTime, exam.EndTime)
	got, err := pgx.CollectOneRow(rows, scanExam)

	switch {
	case err == nil:
		return got, nil
	case pgErrorCode(err) == pgerrcode.CheckViolation:
		return exam, fmt.Errorf("exam end time must be after start time: %w", apperrors.ErrInvalidInput)
	default:
		return exam, dbError(err)
	}
}

const getExam = `-- name: Get exam by id
SELECT id, title, start_time, end_time, created_at
FROM exams
WHERE id = $1`

func (r *ExamRepo) GetExam(ctx context.Context, id int64) (models.Exam, error) {
	rows, _ := r.DB.Query(ctx, getExam, id)
	exam, err := pgx.CollectOneRow(rows, scanExam)

	switch {
	case err == nil:
		return exam, nil
	case errors.Is(err, pgx.ErrNoRows):
		return exam, apperrors.ErrExamNotFound
	default:
		return exam, dbError(err)
	}
}

func scanExam(row pgx.CollectableRow) (models.Exam, error) {
	var e models.Exam
	err := row.Scan(&e.ID, &e.Title, &e.StartTime, &e.EndTime, &e.CreatedAt)
	return e, err
}

type SubjectRepo struct {
	DB DBTX
}

const createSubject = `-- name: Create subject
INSERT INTO subjects (username, first_name, last_name, email)
VALUES ($1, $2, $3, $4)
RETURNING id, username, first_name, last_name, email`

func (r *SubjectRepo) CreateSubject(ctx context.Context, subject models.Subject) (models.Subject, error) {
	rows, _ := r.DB.Query(ctx, createSubject, subject.Username, subject.FirstName, subject.LastName, subject.Email)
	got, err := pgx.CollectOneRow(rows, scanSubject)

	switch {
	case err == nil:
		return got, nil
	case isUniqueViolation(err):
		return subject, fmt.Errorf("username %q is taken: %w", subject.Username, apperrors.ErrInvalidInput)
	default:
		return subject, dbError(err)
	}
}

const getSubject = `-- name: Get subject by id
SELECT id, username, first_name, last_name, email
FROM subjects
WHERE id = $1`

func (r *SubjectRepo) GetSubject(ctx context.Context, id int64) (models.Subject, error) {
	rows, _ := r.DB.Query(ctx, getSubject, id)
	subject, err := pgx.CollectOneRow(rows, scanSubject)

	switch {
	case err == nil:
		return subject, nil
	case errors.Is(err, pgx.ErrNoRows):
		return subject, apperrors.ErrSubjectNotFound
	default:
		return subject, dbError(err)
	}
}

func scanSubject(row pgx.CollectableRow) (models.Subject, error) {
	var s models.Subject
	err := row.Scan(&s.ID, &s.Username, &s.FirstName, &s.LastName, &s.Email)
	return s, err
}
