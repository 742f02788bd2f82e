package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/examaccess/internal/apperrors"
	"github.com/nkiryanov/examaccess/internal/models"
)

type TokenRepo struct {
	s *Storage
}

func (r *TokenRepo) Insert(ctx context.Context, token models.AccessToken) (models.AccessToken, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.AccessToken{}, err
	}
	defer unlock()

	d := r.s.data
	if _, ok := d.secrets[token.Secret]; ok {
		return models.AccessToken{}, apperrors.ErrSecretTaken
	}
	if _, ok := d.exams[token.ExamID]; !ok {
		return models.AccessToken{}, apperrors.ErrExamNotFound
	}
	if _, ok := d.subjects[token.SubjectID]; !ok {
		return models.AccessToken{}, apperrors.ErrSubjectNotFound
	}

	d.tokens[token.ID] = token
	d.secrets[token.Secret] = token.ID
	return token, nil
}

func (r *TokenRepo) GetByID(ctx context.Context, id uuid.UUID) (models.AccessToken, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.AccessToken{}, err
	}
	defer unlock()

	token, ok := r.s.data.tokens[id]
	if !ok {
		return token, apperrors.ErrTokenNotFound
	}
	return token, nil
}

func (r *TokenRepo) GetBySecret(ctx context.Context, secret string) (models.AccessToken, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.AccessToken{}, err
	}
	defer unlock()

	id, ok := r.s.data.secrets[secret]
	if !ok {
		return models.AccessToken{}, apperrors.ErrTokenNotFound
	}
	return r.s.data.tokens[id], nil
}

// The store mutex is held for the whole transaction, so a plain read is exclusive already
func (r *TokenRepo) GetBySecretForUpdate(ctx context.Context, secret string) (models.AccessToken, error) {
	return r.GetBySecret(ctx, secret)
}

func (r *TokenRepo) LockPair(ctx context.Context, _ int64, _ int64) error {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	unlock()
	return nil
}

func (r *TokenRepo) FindActiveByPair(ctx context.Context, examID int64, subjectID int64, now time.Time) (models.AccessToken, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.AccessToken{}, err
	}
	defer unlock()

	for _, t := range r.s.data.tokens {
		if t.ExamID == examID && t.SubjectID == subjectID && t.Active(now) {
			return t, nil
		}
	}
	return models.AccessToken{}, apperrors.ErrTokenNotFound
}

func (r *TokenRepo) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (models.AccessToken, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.AccessToken{}, err
	}
	defer unlock()

	token, ok := r.s.data.tokens[id]
	switch {
	case !ok:
		return token, apperrors.ErrTokenNotFound
	case token.Used:
		return token, apperrors.ErrTokenAlreadyUsed
	}

	token.Used = true
	token.UsedAt = &usedAt
	r.s.data.tokens[id] = token
	return token, nil
}

func (r *TokenRepo) Delete(ctx context.Context, id uuid.UUID) (models.AccessToken, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return models.AccessToken{}, err
	}
	defer unlock()

	token, ok := r.s.data.tokens[id]
	if !ok {
		return token, apperrors.ErrTokenNotFound
	}

	r.s.data.remove(token)
	return token, nil
}

func (r *TokenRepo) ListByExam(ctx context.Context, examID int64) ([]models.TokenEntry, error) {
	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries := make([]models.TokenEntry, 0)
	for _, t := range r.s.data.tokens {
		if t.ExamID == examID {
			entries = append(entries, models.TokenEntry{Token: t, Subject: r.s.data.subjects[t.SubjectID]})
		}
	}

	slices.SortFunc(entries, func(a, b models.TokenEntry) int {
		if c := b.Token.IssuedAt.Compare(a.Token.IssuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Token.Secret, b.Token.Secret)
	})

	return entries, nil
}

func (r *TokenRepo) DeleteExpired(ctx context.Context, filter models.CleanupFilter, limit int) (models.CleanupCounts, error) {
	var counts models.CleanupCounts

	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return counts, err
	}
	defer unlock()

	for _, t := range r.s.data.matching(filter, limit) {
		r.s.data.remove(t)
		if t.Used {
			counts.Used++
		} else {
			counts.Unused++
		}
	}

	return counts, nil
}

func (r *TokenRepo) CountExpired(ctx context.Context, filter models.CleanupFilter) (models.CleanupCounts, error) {
	var counts models.CleanupCounts

	unlock, err := r.s.acquire(ctx)
	if err != nil {
		return counts, err
	}
	defer unlock()

	for _, t := range r.s.data.matching(filter, 0) {
		if t.Used {
			counts.Used++
		} else {
			counts.Unused++
		}
	}

	return counts, nil
}

func (s *state) remove(t models.AccessToken) {
	delete(s.tokens, t.ID)
	delete(s.secrets, t.Secret)
}

// matching returns tokens selected by filter, oldest expiration first
// Zero limit means no limit
func (s *state) matching(filter models.CleanupFilter, limit int) []models.AccessToken {
	found := make([]models.AccessToken, 0)
	for _, t := range s.tokens {
		switch {
		case !t.ValidUntil.Before(filter.ExpiredBefore):
			continue
		case filter.ExamID != nil && t.ExamID != *filter.ExamID:
			continue
		case filter.Used != nil && t.Used != *filter.Used:
			continue
		}
		found = append(found, t)
	}

	slices.SortFunc(found, func(a, b models.AccessToken) int {
		return a.ValidUntil.Compare(b.ValidUntil)
	})

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found
}
