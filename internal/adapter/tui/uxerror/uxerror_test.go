package uxerror

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"skyport/internal/domain"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"test mode disabled", domain.NewSubSystemError("migration", "testModeFolder", domain.ErrDisabled, "small"), "Test Modes Unavailable"},
		{"settings", domain.NewSubSystemError("migration", "Settings.Validate", domain.ErrInvalidInput, "username is required"), "Invalid Settings"},
		{"run active", fmt.Errorf("start: %w", domain.ErrRunActive), "Migration Already Running"},
		{"launch", domain.NewSubSystemError("process", "Launcher.Launch", domain.ErrLaunchFailed, "npx"), "Migration Tool Not Started"},
		{"run not found", domain.NewSubSystemError("history", "Get", domain.ErrNotFound, "x"), "Run Not Found"},
		{"bluesky auth", errors.New("Error: Invalid identifier or password"), "Bluesky Login Failed"},
		{"archive", errors.New("ENOENT: no such file or directory, open '/a/b'"), "Archive Not Found"},
		{"rate limit", errors.New("XRPCError: Rate Limit Exceeded"), "Rate Limited"},
		{"network", errors.New("getaddrinfo ENOTFOUND bsky.social"), "Connection Failed"},
		{"unknown", errors.New("something odd"), "Unexpected Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Humanize(tt.err)
			if got.Title != tt.title {
				t.Errorf("Title = %q, want %q", got.Title, tt.title)
			}
			if got.Raw != tt.err.Error() {
				t.Errorf("Raw = %q", got.Raw)
			}
		})
	}
}

func TestHumanizeSettingsDetail(t *testing.T) {
	err := domain.NewSubSystemError("migration", "Settings.Validate", domain.ErrInvalidInput, "min date is after max date")
	if got := Humanize(err).Message; got != "min date is after max date" {
		t.Errorf("Message = %q", got)
	}
}

func TestHumanizeNil(t *testing.T) {
	if got := Humanize(nil); got.Title != "Unknown Error" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestRender(t *testing.T) {
	out := FriendlyError{Title: "T", Message: "M", Hints: []string{"h1", "h2"}}.Render()
	for _, want := range []string{"T", "M", "Suggestions:", "h1", "h2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render missing %q: %q", want, out)
		}
	}
}

func TestHumanizeMessage(t *testing.T) {
	if got := HumanizeMessage("Migration failed: Invalid identifier or password"); got.Title != "Bluesky Login Failed" {
		t.Errorf("Title = %q", got.Title)
	}
}
