package domain

import (
	"math"
	"time"
)

// Phase is the coarse state of one migration run.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseMigrating Phase = "migrating"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// Terminal reports whether the phase is complete or error. Later updates are
// still applied by the aggregator; this is only a display hint.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// ProgressKind classifies a ProgressEvent for display.
type ProgressKind string

const (
	ProgressStarting ProgressKind = "starting"
	ProgressUpdate   ProgressKind = "progress"
	ProgressComplete ProgressKind = "complete"
	ProgressError    ProgressKind = "error"
)

// ProgressKindFor maps a phase to the event kind shown for it.
func ProgressKindFor(p Phase) ProgressKind {
	switch p {
	case PhaseMigrating:
		return ProgressUpdate
	case PhaseComplete:
		return ProgressComplete
	case PhaseError:
		return ProgressError
	default:
		return ProgressStarting
	}
}

// ProgressEvent is the display-facing result of folding one classified signal.
type ProgressEvent struct {
	Kind           ProgressKind   `json:"kind"`
	Message        string         `json:"message"`
	Percentage     *int           `json:"percentage,omitempty"` // always within [0,100]
	FilesProcessed *int           `json:"filesProcessed,omitempty"`
	TotalFiles     *int           `json:"totalFiles,omitempty"`
	Duration       *time.Duration `json:"duration,omitempty"`
	OutputPath     string         `json:"outputPath,omitempty"`
}

// ClampPercentage rounds p to the nearest integer and clamps it into [0,100].
// NaN maps to 0.
func ClampPercentage(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	r := math.Round(p)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}

// WarningType is the closed set of soft failures reported by the migration tool.
type WarningType string

const (
	WarningMissingFile      WarningType = "missing_file"
	WarningTruncatedCaption WarningType = "truncated_caption"
	WarningSkippedPost      WarningType = "skipped_post"
	WarningUploadFailure    WarningType = "upload_failure"
	WarningExtractionError  WarningType = "extraction_error"
)

// MigrationWarning is a non-fatal problem recorded during a run.
type MigrationWarning struct {
	Type    WarningType `json:"type"`
	Message string      `json:"message"`
	Details string      `json:"details,omitempty"`
}

// AggregateState is the folded view of one migration run.
type AggregateState struct {
	Phase           Phase              `json:"phase"`
	Message         string             `json:"message"`
	PostsCreated    int                `json:"postsCreated"`
	TotalPosts      *int               `json:"totalPosts,omitempty"` // nil until discovered
	MediaCount      int                `json:"mediaCount"`
	LastPostURL     string             `json:"lastPostUrl,omitempty"`
	Percentage      *int               `json:"percentage,omitempty"`
	Duration        *time.Duration     `json:"duration,omitempty"`
	ExitCode        *int               `json:"exitCode,omitempty"`
	Warnings        []MigrationWarning `json:"warnings"`
	DroppedWarnings int                `json:"droppedWarnings,omitempty"`
}

// WarningCount is the number of warnings seen in the run, including those
// past the cap that were not kept.
func (s AggregateState) WarningCount() int {
	return len(s.Warnings) + s.DroppedWarnings
}

// Clone returns a deep copy safe to hand to observers.
func (s AggregateState) Clone() AggregateState {
	out := s
	out.TotalPosts = cloneInt(s.TotalPosts)
	out.Percentage = cloneInt(s.Percentage)
	out.ExitCode = cloneInt(s.ExitCode)
	if s.Duration != nil {
		d := *s.Duration
		out.Duration = &d
	}
	out.Warnings = make([]MigrationWarning, len(s.Warnings))
	copy(out.Warnings, s.Warnings)
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SignalKind identifies what a classifier rule recognized in a chunk of output.
type SignalKind string

const (
	SignalImportStarted  SignalKind = "import_started"
	SignalImported       SignalKind = "imported_summary"
	SignalPostCreated    SignalKind = "post_created"
	SignalImportFinished SignalKind = "import_finished"
	SignalWarning        SignalKind = "warning"
	SignalFailure        SignalKind = "failure"
	SignalSkippedPost    SignalKind = "skipped_post"
	SignalPercentage     SignalKind = "percentage"
	SignalDuration       SignalKind = "duration"
	SignalExit           SignalKind = "exit"
)

// Signal is one typed observation extracted from subprocess output.
// Only the fields relevant to Kind are set.
type Signal struct {
	Kind       SignalKind        `json:"kind"`
	Rule       string            `json:"rule"`
	Posts      int               `json:"posts,omitempty"`
	Media      int               `json:"media,omitempty"`
	URL        string            `json:"url,omitempty"`
	Percentage int               `json:"percentage,omitempty"`
	Duration   time.Duration     `json:"duration,omitempty"`
	ExitCode   int               `json:"exitCode,omitempty"`
	Warning    *MigrationWarning `json:"warning,omitempty"`
	Text       string            `json:"text,omitempty"` // the chunk that produced the signal
}
