package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyport/internal/domain"
)

func sampleRecord() domain.RunRecord {
	total, code := 10, 0
	minDate := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return domain.RunRecord{
		ID:        "01HXRUN",
		ProcessID: "01HXPROC",
		Settings:  domain.RunSettings{Username: "alice.bsky.social", ArchiveFolder: "/data/ig", MinDate: &minDate},
		StartedAt: start,
		EndedAt:   start.Add(2 * time.Minute),
		Final: domain.AggregateState{
			Phase:           domain.PhaseComplete,
			Message:         "Imported 9 posts",
			PostsCreated:    9,
			TotalPosts:      &total,
			MediaCount:      14,
			ExitCode:        &code,
			Warnings:        []domain.MigrationWarning{{Type: "skipped_post", Message: "caption | too long"}},
			DroppedWarnings: 1,
		},
	}
}

func TestRunMarkdown(t *testing.T) {
	md := RunMarkdown(sampleRecord())

	for _, want := range []string{
		"# Migration 01HXRUN",
		"**Completed** Imported 9 posts",
		"| Account | @alice.bsky.social |",
		"| Mode | live |",
		"| Date range | 2020-01-01 to now |",
		"| Elapsed | 2m0s |",
		"| Posts created | 9 of 10 |",
		"| Exit code | 0 |",
		"## Warnings (2)",
		`caption \| too long`,
		"_1 more not kept_",
	} {
		assert.Contains(t, md, want)
	}
}

func TestRunMarkdownTestMode(t *testing.T) {
	rec := sampleRecord()
	rec.Settings.TestMode = "video"
	rec.Settings.Simulate = true
	rec.Final = domain.AggregateState{Phase: domain.PhaseError, Message: "Migration failed"}

	md := RunMarkdown(rec)
	assert.Contains(t, md, "test fixture `video`")
	assert.Contains(t, md, "simulation")
	assert.Contains(t, md, "**Failed**")
	assert.NotContains(t, md, "## Warnings")
}

func TestHistoryMarkdown(t *testing.T) {
	assert.Contains(t, HistoryMarkdown(nil), "No migrations recorded")

	a := sampleRecord()
	b := sampleRecord()
	b.ID = "01HXOLD"
	b.Settings.Simulate = true
	b.Final = domain.AggregateState{Phase: domain.PhaseStarting}

	md := HistoryMarkdown([]domain.RunRecord{a, b})
	lines := strings.Split(strings.TrimSpace(md), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[4], "01HXRUN")
	assert.Contains(t, lines[4], "9 of 10")
	assert.Contains(t, lines[5], "Interrupted (simulated)")
}

func TestRendererNotty(t *testing.T) {
	r, err := NewRenderer("notty", 80)
	require.NoError(t, err)

	out, err := r.Run(sampleRecord())
	require.NoError(t, err)
	assert.Contains(t, out, "01HXRUN")
	assert.Contains(t, out, "alice.bsky.social")

	out, err = r.History(nil)
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations recorded")
}
