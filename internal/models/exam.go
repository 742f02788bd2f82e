package models

import (
	"strings"
	"time"
)

type Exam struct {
	ID        int64
	Title     string
	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
}

func (e Exam) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Token holder. Owned by the external account store, mirrored locally
type Subject struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Email     string
}

// DisplayName returns "First Last" or the username when both are empty
func (s Subject) DisplayName() string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		return s.Username
	}
	return name
}
