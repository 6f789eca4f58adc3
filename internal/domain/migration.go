package domain

import (
	"context"
	"time"
)

// RunSettings is the redacted record of what a run was started with.
// Credentials are never stored.
type RunSettings struct {
	Username      string     `json:"username"`
	ArchiveFolder string     `json:"archiveFolder"`
	Simulate      bool       `json:"simulate"`
	MinDate       *time.Time `json:"minDate,omitempty"`
	MaxDate       *time.Time `json:"maxDate,omitempty"`
	TestMode      string     `json:"testMode,omitempty"`
}

// RunRecord is a finished migration run as kept in history.
type RunRecord struct {
	ID        string         `json:"id"`
	ProcessID string         `json:"processId"`
	Settings  RunSettings    `json:"settings"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	Final     AggregateState `json:"final"`
}

// Elapsed returns the wall-clock length of the run.
func (r RunRecord) Elapsed() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// RunStore persists finished runs.
type RunStore interface {
	Save(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]RunRecord, error)
	// Prune deletes runs that ended before cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
