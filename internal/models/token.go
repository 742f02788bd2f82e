package models

import (
	"time"

	"github.com/google/uuid"
)

// Token states. Expired and Used are terminal; invalidated tokens are deleted
const (
	TokenStateActive  = "Active"
	TokenStateUsed    = "Used"
	TokenStateExpired = "Expired"
)

// Number of secret characters safe to show in logs or listings
const secretVisiblePrefix = 8

type AccessToken struct {
	ID         uuid.UUID
	Secret     string
	ExamID     int64
	SubjectID  int64
	IssuedAt   time.Time
	ValidUntil time.Time
	Used       bool
	UsedAt     *time.Time // nil if token not used
}

// Expired reports whether the validity window has passed
// Used tokens are never reported as expired
func (t AccessToken) Expired(now time.Time) bool {
	return !t.Used && now.After(t.ValidUntil)
}

// Active reports whether the token may still be redeemed
func (t AccessToken) Active(now time.Time) bool {
	return !t.Used && !now.After(t.ValidUntil)
}

func (t AccessToken) State(now time.Time) string {
	switch {
	case t.Used:
		return TokenStateUsed
	case now.After(t.ValidUntil):
		return TokenStateExpired
	default:
		return TokenStateActive
	}
}

// MaskedSecret returns the secret prefix followed by an ellipsis
func (t AccessToken) MaskedSecret() string {
	return MaskSecret(t.Secret)
}

func MaskSecret(secret string) string {
	if len(secret) <= secretVisiblePrefix {
		return secret + "..."
	}
	return secret[:secretVisiblePrefix] + "..."
}

// Returned by issue: the only time the plaintext secret leaves the engine
type IssuedToken struct {
	Token   AccessToken
	Exam    Exam
	Subject Subject
}

// Returned by successful redemption
type Redemption struct {
	Token   AccessToken
	Exam    Exam
	Subject Subject
}

// Token together with its holder, used for exam listings
type TokenEntry struct {
	Token   AccessToken
	Subject Subject
}

type TokenStats struct {
	Total   int
	Used    int
	Expired int
	Active  int
}

type ExamTokens struct {
	Exam    Exam
	Entries []TokenEntry
	Stats   TokenStats
}
