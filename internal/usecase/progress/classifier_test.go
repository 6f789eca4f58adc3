package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyport/internal/domain"
)

func kinds(sigs []domain.Signal) []domain.SignalKind {
	out := make([]domain.SignalKind, len(sigs))
	for i, s := range sigs {
		out[i] = s.Kind
	}
	return out
}

func TestDefaultRulesOrder(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, []string{
		"import_started",
		"imported_summary",
		"post_created",
		"import_finished",
		"missing_file",
		"truncated_caption",
		"upload_failure",
		"extraction_error",
		"failure",
		"skipped_post",
		"percentage",
		"duration",
	}, c.Rules())
}

func TestClassifySingleRules(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name  string
		chunk string
		want  []domain.SignalKind
	}{
		{"import started", "Import started at 2024-01-01", []domain.SignalKind{domain.SignalImportStarted}},
		{"summary", "imported 42 posts with 128 media", []domain.SignalKind{domain.SignalImported}},
		{"post created", "Bluesky post created with url: https://bsky.app/profile/me/post/1", []domain.SignalKind{domain.SignalPostCreated}},
		{"finished", "Import finished", []domain.SignalKind{domain.SignalImportFinished}},
		{"missing file", "Failed to read media file: /a/b/c.jpg", []domain.SignalKind{domain.SignalWarning}},
		{"truncated", "Truncating image caption from 400 to 300", []domain.SignalKind{domain.SignalWarning}},
		{"upload failure", "Failed to upload media", []domain.SignalKind{domain.SignalWarning}},
		{"no media uploaded", "No media uploaded! Check Error logs", []domain.SignalKind{domain.SignalWarning}},
		{"extract", "Failed to extract video frame", []domain.SignalKind{domain.SignalWarning}},
		{"hard error", "ERROR: disk full", []domain.SignalKind{domain.SignalFailure}},
		{"mixed case error", "Error while posting", []domain.SignalKind{domain.SignalFailure}},
		{"skipped", "Skipping post 12: unsupported type", []domain.SignalKind{domain.SignalSkippedPost}},
		{"percentage", "progress 50%", []domain.SignalKind{domain.SignalPercentage}},
		{"duration", "Total import time: 1 hour and 5 minutes", []domain.SignalKind{domain.SignalDuration}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kinds(c.Classify(tt.chunk)))
		})
	}
}

func TestClassifyUnmatchedIsEmpty(t *testing.T) {
	c := NewClassifier()
	assert.Empty(t, c.Classify(""))
	assert.Empty(t, c.Classify("just some chatter"))
	assert.Empty(t, c.Classify("error in lowercase is not a failure"))
	assert.Empty(t, c.Classify("\x00\xff garbage"))
}

func TestClassifyImportedSummary(t *testing.T) {
	sigs := NewClassifier().Classify("imported 42 posts with 128 media")
	require.Len(t, sigs, 1)
	assert.Equal(t, 42, sigs[0].Posts)
	assert.Equal(t, 128, sigs[0].Media)
	assert.Equal(t, "imported_summary", sigs[0].Rule)

	sigs = NewClassifier().Classify("imported 1 post with 0 media")
	require.Len(t, sigs, 1)
	assert.Equal(t, 1, sigs[0].Posts)
}

func TestClassifyPostURL(t *testing.T) {
	c := NewClassifier()

	sigs := c.Classify("Bluesky post created with url: https://bsky.app/profile/alice.bsky.social/post/3k2 done")
	require.Len(t, sigs, 1)
	assert.Equal(t, "https://bsky.app/profile/alice.bsky.social/post/3k2", sigs[0].URL)

	sigs = c.Classify("Bluesky post created with url: (hidden)")
	require.Len(t, sigs, 1)
	assert.Empty(t, sigs[0].URL)
}

func TestClassifyMissingFileWarning(t *testing.T) {
	sigs := NewClassifier().Classify("Failed to read media file: /a/b/c.jpg")
	require.Len(t, sigs, 1)
	w := sigs[0].Warning
	require.NotNil(t, w)
	assert.Equal(t, domain.WarningMissingFile, w.Type)
	assert.Equal(t, "c.jpg", w.Message)
	assert.Equal(t, "/a/b/c.jpg", w.Details)

	sigs = NewClassifier().Classify(`Failed to read media file: C:\media\d.png`)
	require.Len(t, sigs, 1)
	assert.Equal(t, "d.png", sigs[0].Warning.Message)
}

func TestClassifyTruncatedCaption(t *testing.T) {
	sigs := NewClassifier().Classify("Truncating image caption from 512 to 300 characters")
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.WarningTruncatedCaption, sigs[0].Warning.Type)
	assert.Contains(t, sigs[0].Warning.Message, "512")
	assert.Contains(t, sigs[0].Warning.Message, "300")

	sigs = NewClassifier().Classify("Truncating image caption")
	require.Len(t, sigs, 1)
	assert.Equal(t, "Image caption truncated", sigs[0].Warning.Message)
}

func TestClassifySoftFailureExclusion(t *testing.T) {
	c := NewClassifier()

	for _, chunk := range []string{
		"ERROR: Failed to read media file: x.jpg",
		"Error: Failed to upload media",
		"ERROR No media uploaded! Check Error logs",
	} {
		sigs := c.Classify(chunk)
		assert.NotContains(t, kinds(sigs), domain.SignalFailure, chunk)
		assert.Contains(t, kinds(sigs), domain.SignalWarning, chunk)
	}

	// Extraction errors are warnings but are not exempt from the failure rule.
	sigs := c.Classify("Error: Failed to extract archive")
	assert.Equal(t, []domain.SignalKind{domain.SignalWarning, domain.SignalFailure}, kinds(sigs))
}

func TestClassifyRulesAreNotExclusive(t *testing.T) {
	sigs := NewClassifier().Classify("Import started 10%")
	assert.Equal(t, []domain.SignalKind{domain.SignalImportStarted, domain.SignalPercentage}, kinds(sigs))
	for _, s := range sigs {
		assert.Equal(t, "Import started 10%", s.Text)
	}
}

func TestClassifyPercentage(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		chunk string
		want  int
	}{
		{"75.7% done", 76},
		{"150%", 100},
		{"at 0%", 0},
		{"first 20% then 90%", 20},
	}
	for _, tt := range tests {
		sigs := c.Classify(tt.chunk)
		require.Len(t, sigs, 1, tt.chunk)
		assert.Equal(t, tt.want, sigs[0].Percentage, tt.chunk)
	}
}

func TestClassifyDuration(t *testing.T) {
	c := NewClassifier()

	sigs := c.Classify("Total import time: 2 hours and 15 minutes")
	require.Len(t, sigs, 1)
	assert.Equal(t, 2*time.Hour+15*time.Minute, sigs[0].Duration)

	sigs = c.Classify("Total import time: 0 hours and 1 minute")
	require.Len(t, sigs, 1)
	assert.Equal(t, time.Minute, sigs[0].Duration)
}

func TestClassifyExitAndOutput(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, domain.Signal{Kind: domain.SignalExit, Rule: "exit", ExitCode: 0}, c.ClassifyExit(0))
	assert.Equal(t, 2, c.ClassifyExit(2).ExitCode)

	code := 1
	sigs := c.ClassifyOutput(domain.OutputEvent{Type: domain.OutputExit, Code: &code})
	require.Len(t, sigs, 1)
	assert.Equal(t, 1, sigs[0].ExitCode)

	sigs = c.ClassifyOutput(domain.OutputEvent{Type: domain.OutputExit})
	require.Len(t, sigs, 1)
	assert.Equal(t, -1, sigs[0].ExitCode)

	sigs = c.ClassifyOutput(domain.OutputEvent{Type: domain.OutputStderr, Data: "ERROR: boom"})
	assert.Equal(t, []domain.SignalKind{domain.SignalFailure}, kinds(sigs))

	assert.Empty(t, c.ClassifyOutput(domain.OutputEvent{Type: domain.OutputError, Data: "ERROR: read |0: file already closed"}))
}

func TestClassifyPanickingRuleIsSkipped(t *testing.T) {
	c := NewClassifier(
		Rule{
			Name:  "boom",
			Match: func(string) bool { return true },
			Emit:  func(string) []domain.Signal { panic("bad rule") },
		},
		Rule{
			Name:  "ok",
			Match: func(string) bool { return true },
			Emit:  func(string) []domain.Signal { return []domain.Signal{{Kind: domain.SignalImportStarted}} },
		},
	)

	sigs := c.Classify("anything")
	require.Len(t, sigs, 1)
	assert.Equal(t, "ok", sigs[0].Rule)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "c.jpg", baseName("/a/b/c.jpg"))
	assert.Equal(t, "c.jpg", baseName("c.jpg"))
	assert.Equal(t, "dir", baseName("/a/dir/"))
	assert.Equal(t, "", baseName(""))
}
