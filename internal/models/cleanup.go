package models

import (
	"time"
)

// Selects tokens for retention cleanup
// Nil optional fields mean "any"
type CleanupFilter struct {
	ExpiredBefore time.Time
	ExamID        *int64
	Used          *bool
}

type CleanupCounts struct {
	Used   int
	Unused int
}

func (c CleanupCounts) Total() int {
	return c.Used + c.Unused
}

type CleanupReport struct {
	Cutoff  time.Time
	DryRun  bool
	Deleted int // matching tokens when DryRun is set
	Used    int
	Unused  int
	Batches int
}

func (r *CleanupReport) Add(c CleanupCounts) {
	r.Deleted += c.Total()
	r.Used += c.Used
	r.Unused += c.Unused
}
