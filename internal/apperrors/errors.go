package apperrors

import (
	"errors"
)

var (
	// Caller or input errors. Detected before any mutation happens
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidReference = errors.New("invalid exam or student")

	// Redemption outcomes
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenAlreadyUsed = errors.New("token already used")
	ErrTokenExpired     = errors.New("token expired")

	// Lookup by id missed
	ErrTokenNotFound = errors.New("token not found")

	// Issue policy: returned when implicit replacement is disabled
	ErrActiveTokenExists = errors.New("active token already exists for this student and exam")

	// Every generated secret collided with an existing one
	ErrGenerationExhausted = errors.New("token generation attempts exhausted")

	// Store level errors
	ErrSecretTaken     = errors.New("token secret already exists")
	ErrExamNotFound    = errors.New("exam not found")
	ErrSubjectNotFound = errors.New("subject not found")

	// Transient persistence failure. The only class a caller may retry
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether the operation failed for a transient reason
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
