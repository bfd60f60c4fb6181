// Package storage persists run history: every story run with its
// attempts, verdicts, and step output, queryable after the fact.
package storage

import (
	"context"
	"time"

	"bmadloop/internal/domain"
)

// RunRecord is a persisted story run.
type RunRecord struct {
	ID        string
	StoryID   string
	StoryKey  string
	State     domain.RunState
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	CreatedAt time.Time
	Attempts  []*AttemptRecord
}

// AttemptRecord is one persisted attempt within a run.
type AttemptRecord struct {
	ID       string
	RunID    string
	Index    int
	Fatal    bool
	Error    string
	Duration time.Duration

	// Verdict fields; Mode is empty when the attempt produced none.
	VerdictMode     domain.VerifyMode
	VerdictPassed   bool
	Remediation     domain.Remediation
	CodeImplemented *bool
	Summary         string

	Checks []CheckRecord
	Steps  []*StepRecord
}

// CheckRecord is one persisted verification check.
type CheckRecord struct {
	Name   string
	Passed bool
	Detail string
}

// StepRecord is one persisted pipeline step.
type StepRecord struct {
	ID         string
	StepName   domain.StepName
	Status     domain.StepStatus
	Duration   time.Duration
	Error      string
	OutputSize int
	Output     []string
}

// RunFilter narrows ListRuns and CountRuns.
type RunFilter struct {
	StoryID string
	State   domain.RunState
	Limit   int
	Offset  int
}

// Stats aggregates run history.
type Stats struct {
	TotalRuns     int
	Succeeded     int
	Abandoned     int
	AvgDuration   time.Duration
	AvgAttempts   float64
	TotalAttempts int
}

// Store is the run history persistence interface.
type Store interface {
	SaveRun(ctx context.Context, run *domain.StoryRun) (string, error)
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	GetRunWithOutput(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter *RunFilter) ([]*RunRecord, error)
	CountRuns(ctx context.Context, filter *RunFilter) (int, error)
	DeleteRun(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
