package migration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyport/internal/domain"
)

func mustDate(t *testing.T, v string) *time.Time {
	t.Helper()
	d, err := ParseDate(v)
	require.NoError(t, err)
	return d
}

func TestBuildEnv(t *testing.T) {
	s := Settings{
		Username:      "@alice.bsky.social",
		Password:      "app-password",
		ArchiveFolder: "/data/instagram",
		Simulate:      true,
		MinDate:       mustDate(t, "2020-01-31"),
		MaxDate:       mustDate(t, "2021-12-01"),
	}

	env, err := BuildEnv(s, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"BLUESKY_USERNAME": "alice.bsky.social",
		"BLUESKY_PASSWORD": "app-password",
		"ARCHIVE_FOLDER":   "/data/instagram",
		"SIMULATE":         "1",
		"MIN_DATE":         "2020-01-31",
		"MAX_DATE":         "2021-12-01",
	}, env)
}

func TestBuildEnvOptionalDates(t *testing.T) {
	env, err := BuildEnv(Settings{Username: "bob", Password: "x", ArchiveFolder: "/a"}, "")
	require.NoError(t, err)
	assert.Equal(t, "bob", env["BLUESKY_USERNAME"])
	assert.Equal(t, "0", env["SIMULATE"])
	assert.NotContains(t, env, "MIN_DATE")
	assert.NotContains(t, env, "MAX_DATE")
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"ok", Settings{Username: "a", Password: "p", ArchiveFolder: "/x"}, false},
		{"simulate without password", Settings{Username: "a", ArchiveFolder: "/x", Simulate: true}, false},
		{"missing username", Settings{Username: "@", Password: "p", ArchiveFolder: "/x"}, true},
		{"missing password", Settings{Username: "a", ArchiveFolder: "/x"}, true},
		{"missing archive", Settings{Username: "a", Password: "p"}, true},
		{"test mode replaces archive", Settings{Username: "a", Password: "p", TestMode: TestModeSmall}, false},
		{"unknown test mode", Settings{Username: "a", Password: "p", ArchiveFolder: "/x", TestMode: "huge"}, true},
		{"inverted dates", Settings{
			Username: "a", Password: "p", ArchiveFolder: "/x",
			MinDate: mustDate(t, "2022-01-01"), MaxDate: mustDate(t, "2021-01-01"),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Equal(t, domain.CodeSettingsInvalid, domain.ErrorCodeOf(err))
		})
	}
}

func TestSettingsValidateReportsAllProblems(t *testing.T) {
	err := Settings{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username is required")
	assert.Contains(t, err.Error(), "password is required")
	assert.Contains(t, err.Error(), "archive folder is required")
}

func TestRedactedDropsPassword(t *testing.T) {
	r := Settings{Username: "@a", Password: "secret", ArchiveFolder: "/x", TestMode: TestModeVideo}.Redacted()
	assert.Equal(t, "a", r.Username)
	assert.Equal(t, "video", r.TestMode)
	assert.NotContains(t, string(mustJSON(t, r)), "secret")
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = ParseDate(" 2023-07-04 ")
	require.NoError(t, err)
	assert.Equal(t, "2023-07-04", d.Format(DateLayout))

	_, err = ParseDate("07/04/2023")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTestModeValid(t *testing.T) {
	for _, m := range []TestMode{TestModeNone, TestModeSmall, TestModeLarge, TestModeVideo, TestModeMixed} {
		assert.True(t, m.Valid(), m)
	}
	assert.False(t, TestMode("tiny").Valid())
}
