package migration

import (
	"fmt"
	"strings"
	"time"

	"skyport/internal/domain"
)

// DateLayout is the date format the migration tool expects for MIN_DATE/MAX_DATE.
const DateLayout = "2006-01-02"

// TestMode selects a bundled fixture archive instead of a user archive.
type TestMode string

const (
	TestModeNone  TestMode = ""
	TestModeSmall TestMode = "small"
	TestModeLarge TestMode = "large"
	TestModeVideo TestMode = "video"
	TestModeMixed TestMode = "mixed"
)

// Valid reports whether m is one of the known test modes (or none).
func (m TestMode) Valid() bool {
	switch m {
	case TestModeNone, TestModeSmall, TestModeLarge, TestModeVideo, TestModeMixed:
		return true
	}
	return false
}

// Settings is what the user configured for one run.
type Settings struct {
	Username      string     `json:"username"`
	Password      string     `json:"password"`
	ArchiveFolder string     `json:"archiveFolder"`
	Simulate      bool       `json:"simulate"`
	MinDate       *time.Time `json:"minDate,omitempty"`
	MaxDate       *time.Time `json:"maxDate,omitempty"`
	TestMode      TestMode   `json:"testMode,omitempty"`
}

// Validate checks the settings and reports every problem at once.
func (s Settings) Validate() error {
	var errs []string
	if strings.TrimPrefix(strings.TrimSpace(s.Username), "@") == "" {
		errs = append(errs, "username is required")
	}
	if s.Password == "" && !s.Simulate {
		errs = append(errs, "password is required unless simulating")
	}
	if s.ArchiveFolder == "" && s.TestMode == TestModeNone {
		errs = append(errs, "archive folder is required")
	}
	if !s.TestMode.Valid() {
		errs = append(errs, fmt.Sprintf("unknown test mode %q", s.TestMode))
	}
	if s.MinDate != nil && s.MaxDate != nil && s.MinDate.After(*s.MaxDate) {
		errs = append(errs, "min date is after max date")
	}
	if len(errs) > 0 {
		return domain.NewSubSystemError("migration", "Settings.Validate", domain.ErrInvalidInput, strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns the settings without credentials, for history and events.
func (s Settings) Redacted() domain.RunSettings {
	return domain.RunSettings{
		Username:      normalizeUsername(s.Username),
		ArchiveFolder: s.ArchiveFolder,
		Simulate:      s.Simulate,
		MinDate:       s.MinDate,
		MaxDate:       s.MaxDate,
		TestMode:      string(s.TestMode),
	}
}

// BuildEnv maps settings to the migration tool's environment contract. A test
// mode replaces the archive folder with a fixture under fixturesDir and is only
// available in builds with the testmodes tag.
func BuildEnv(s Settings, fixturesDir string) (map[string]string, error) {
	archive := s.ArchiveFolder
	if s.TestMode != TestModeNone {
		folder, err := testModeFolder(fixturesDir, s.TestMode)
		if err != nil {
			return nil, err
		}
		archive = folder
	}

	env := map[string]string{
		"BLUESKY_USERNAME": normalizeUsername(s.Username),
		"BLUESKY_PASSWORD": s.Password,
		"ARCHIVE_FOLDER":   archive,
		"SIMULATE":         boolFlag(s.Simulate),
	}
	if s.MinDate != nil {
		env["MIN_DATE"] = s.MinDate.Format(DateLayout)
	}
	if s.MaxDate != nil {
		env["MAX_DATE"] = s.MaxDate.Format(DateLayout)
	}
	return env, nil
}

// ParseDate parses a YYYY-MM-DD date. An empty string yields nil.
func ParseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return nil, domain.NewSubSystemError("migration", "ParseDate", domain.ErrInvalidInput, v)
	}
	return &t, nil
}

func normalizeUsername(u string) string {
	return strings.TrimPrefix(strings.TrimSpace(u), "@")
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
