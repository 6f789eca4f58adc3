package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampPercentage(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{75.7, 76},
		{75.4, 75},
		{150, 100},
		{-10, 0},
		{0, 0},
		{100, 100},
		{99.5, 100},
		{-0.4, 0},
		{math.NaN(), 0},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampPercentage(tt.in), "ClampPercentage(%v)", tt.in)
	}
}

func TestPhaseTerminal(t *testing.T) {
	assert.False(t, PhaseStarting.Terminal())
	assert.False(t, PhaseMigrating.Terminal())
	assert.True(t, PhaseComplete.Terminal())
	assert.True(t, PhaseError.Terminal())
}

func TestProgressKindFor(t *testing.T) {
	assert.Equal(t, ProgressStarting, ProgressKindFor(PhaseStarting))
	assert.Equal(t, ProgressUpdate, ProgressKindFor(PhaseMigrating))
	assert.Equal(t, ProgressComplete, ProgressKindFor(PhaseComplete))
	assert.Equal(t, ProgressError, ProgressKindFor(PhaseError))
}

func TestAggregateStateWarningCountIncludesDropped(t *testing.T) {
	s := AggregateState{Warnings: []MigrationWarning{{Type: WarningMissingFile}, {Type: WarningSkippedPost}}}
	assert.Equal(t, 2, s.WarningCount())

	s.DroppedWarnings = 5
	assert.Equal(t, 7, s.WarningCount())
}

func TestAggregateStateCloneIsDeep(t *testing.T) {
	total := 10
	pct := 40
	d := 90 * time.Minute
	s := AggregateState{
		Phase:      PhaseMigrating,
		TotalPosts: &total,
		Percentage: &pct,
		Duration:   &d,
		Warnings:   []MigrationWarning{{Type: WarningMissingFile, Message: "a.jpg"}},
	}

	c := s.Clone()
	*c.TotalPosts = 99
	*c.Percentage = 1
	*c.Duration = time.Second
	c.Warnings[0].Message = "changed"
	c.Warnings = append(c.Warnings, MigrationWarning{Type: WarningSkippedPost})

	assert.Equal(t, 10, *s.TotalPosts)
	assert.Equal(t, 40, *s.Percentage)
	assert.Equal(t, 90*time.Minute, *s.Duration)
	assert.Equal(t, "a.jpg", s.Warnings[0].Message)
	assert.Len(t, s.Warnings, 1)
}

func TestOutputEventTerminal(t *testing.T) {
	code := 0
	assert.True(t, OutputEvent{Type: OutputExit, Code: &code}.IsTerminal())
	assert.False(t, OutputEvent{Type: OutputStderr, Data: "x"}.IsTerminal())
	assert.False(t, OutputEvent{Type: OutputError, Data: "pipe"}.IsTerminal())
}
