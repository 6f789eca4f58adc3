// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the terminal UI and CLI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"skyport/internal/adapter/tui/theme"
	"skyport/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Migration Tool Not Found"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for display.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Domain sentinel errors (checked first so errors.Is works through wrapping).
	{
		match: isCode(domain.CodeTestModeDisabled),
		produce: constantError("Test Modes Unavailable",
			"This build does not include the bundled test archives.",
			[]string{"Point --archive at a real Instagram export", "Rebuild with -tags testmodes"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrInvalidInput) },
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Invalid Settings",
				Message: detailOf(err),
				Hints:   []string{"Dates use the YYYY-MM-DD format", "A password is only optional with --simulate"},
				Raw:     err.Error(),
			}
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrRunActive) },
		produce: constantError("Migration Already Running",
			"Only one migration can run at a time.",
			[]string{"Wait for the current run to finish", "Cancel it from the running session"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrLaunchFailed) },
		produce: constantError("Migration Tool Not Started",
			"The migration command could not be launched.",
			[]string{"Install Node.js so that npx is on your PATH", "Check migration.command in skyport.yaml"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrLimitReached) },
		produce: constantError("Too Many Processes",
			"The process limit was reached.",
			[]string{"Wait for running processes to exit", "Raise launcher.max_running"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrDecryption) },
		produce: constantError("Cannot Decrypt Config",
			"An encrypted value in the config could not be decrypted.",
			[]string{"Set SKYPORT_CONFIG_KEY to the key used with 'skyport encrypt'"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrConfigLoad) },
		produce: constantError("Configuration Error",
			"The configuration file could not be loaded.",
			[]string{"Check skyport.yaml for syntax errors", "Make sure the file is not world-readable"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrHistoryStore) },
		produce: constantError("History Unavailable",
			"The run history database could not be used.",
			[]string{"Check history.path in skyport.yaml", "Set history.enabled to false to run without it"}),
	},
	{
		match: isCode(domain.CodeRunNotFound),
		produce: constantError("Run Not Found",
			"No run with that ID is in the history.",
			[]string{"List recent runs with 'skyport history'"}),
	},

	// Messages printed by the migration tool itself.
	{
		match: containsAny("invalid identifier or password", "authenticationrequired", "invalid app password"),
		produce: constantError("Bluesky Login Failed",
			"Bluesky rejected the handle or app password.",
			[]string{"Use an app password from Settings > App Passwords", "Check the handle, e.g. you.bsky.social"}),
	},
	{
		match: containsAny("enoent", "no such file or directory"),
		produce: constantError("Archive Not Found",
			"A file or folder the migration needed does not exist.",
			[]string{"Point --archive at the unzipped Instagram export", "Check that the folder contains your_instagram_activity"}),
	},
	{
		match: containsAny("429", "rate limit", "ratelimit", "too many requests"),
		produce: constantError("Rate Limited",
			"Bluesky is limiting how fast posts can be created.",
			[]string{"Wait a while and resume with --min-date", "Migrate in smaller date ranges"}),
	},
	{
		match: containsAny("connection refused", "dial tcp", "no such host", "enotfound", "econnreset"),
		produce: constantError("Connection Failed",
			"Could not reach Bluesky.",
			[]string{"Check your internet connection", "Check if a firewall is blocking the connection"}),
	},
	{
		match: containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Timed Out",
			"The operation took too long to complete.",
			[]string{"Try again", "Check your network connection"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with SKYPORT_LOGGER_LEVEL=debug for more details"},
		Raw:     err.Error(),
	}
}

// HumanizeMessage applies the string patterns to a failure message reported
// by the migration tool, e.g. the final state message of a failed run.
func HumanizeMessage(msg string) FriendlyError {
	return Humanize(errors.New(msg))
}

func isCode(code domain.ErrorCode) func(error) bool {
	return func(err error) bool { return domain.ErrorCodeOf(err) == code }
}

func detailOf(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
