// Package memory implements repository.Storage in process memory.
//
// Every operation and every transaction holds one store wide mutex, so transactions
// are serializable. It backs single instance deployments without a database and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
	"github.com/nkiryanov/examaccess/internal/repository"
)

var _ repository.Storage = (*Storage)(nil)

type state struct {
	tokens   map[uuid.UUID]models.AccessToken
	secrets  map[string]uuid.UUID
	exams    map[int64]models.Exam
	subjects map[int64]models.Subject

	lastExamID    int64
	lastSubjectID int64
}

func (s *state) clone() *state {
	return &state{
		tokens:        maps.Clone(s.tokens),
		secrets:       maps.Clone(s.secrets),
		exams:         maps.Clone(s.exams),
		subjects:      maps.Clone(s.subjects),
		lastExamID:    s.lastExamID,
		lastSubjectID: s.lastSubjectID,
	}
}

type Storage struct {
	mu   *sync.Mutex
	data *state

	// Set for storage bound to transaction: the mutex is held by InTx already
	inTx bool
}

func New() *Storage {
	return &Storage{
		mu: &sync.Mutex{},
		data: &state{
			tokens:   make(map[uuid.UUID]models.AccessToken),
			secrets:  make(map[string]uuid.UUID),
			exams:    make(map[int64]models.Exam),
			subjects: make(map[int64]models.Subject),
		},
	}
}

func (s *Storage) Token() repository.TokenRepo {
	return &TokenRepo{s: s}
}

func (s *Storage) Exam() repository.ExamRepo {
	return &ExamRepo{s: s}
}

func (s *Storage) Subject() repository.SubjectRepo {
	return &SubjectRepo{s: s}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	snapshot := s.data.clone()
	defer func() {
		if err != nil {
			*s.data = *snapshot
		}
	}()

	return fn(&Storage{mu: s.mu, data: s.data, inTx: true})
}

// acquire locks the store unless storage is bound to transaction
func (s *Storage) acquire(ctx context.Context) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory store error: %w: %w", apperrors.ErrStoreUnavailable, err)
	}

	if s.inTx {
		return func() {}, nil
	}

	s.mu.Lock()
	return s.mu.Unlock, nil
}
