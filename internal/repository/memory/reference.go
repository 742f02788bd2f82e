package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
)

type ExamRepo struct {
	s *Storage
}

func (r *ExamRepo) CreateExam(ctx context.Context, exam models.Exam) (models.Exam, error) {
	if !exam.EndTime.After(exam.StartTime) {
		return exam, fmt.Errorf("exam end time must be after start time: %w", apperrors.ErrInvalidInput)
	}

	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return exam, err
	}
	defer unlock()

	r.s.data.lastExamID++
	exam.ID = r.s.data.lastExamID
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = time.Now().UTC()
	}

	r.s.data.exams[exam.ID] = exam
	return exam, nil
}

func (r *ExamRepo) GetExam(ctx context.Context, id int64) (models.Exam, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.Exam{}, err
	}
	defer unlock()

	exam, ok := r.s.data.exams[id]
	if !ok {
		return exam, apperrors.ErrExamNotFound
	}
	return exam, nil
}

type SubjectRepo struct {
	s *Storage
}

func (r *SubjectRepo) CreateSubject(ctx context.Context, subject models.Subject) (models.Subject, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return subject, err
	}
	defer unlock()

	for _, existing := range r.s.data.subjects {
		if existing.Username == subject.Username {
			return subject, fmt.Errorf("username %q is taken: %w", subject.Username, apperrors.ErrInvalidInput)
		}
	}

	r.s.data.lastSubjectID++
	subject.ID = r.s.data.lastSubjectID
	r.s.data.subjects[subject.ID] = subject
	return subject, nil
}

func (r *SubjectRepo) GetSubject(ctx context.Context, id int64) (models.Subject, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.Subject{}, err
	}
	defer unlock()

	subject, ok := r.s.data.subjects[id]
	if !ok {
		return subject, apperrors.ErrSubjectNotFound
	}
	return subject, nil
}
