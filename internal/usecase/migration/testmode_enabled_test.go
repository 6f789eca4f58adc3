//go:build testmodes

package migration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEnvTestModeFixture(t *testing.T) {
	assert.True(t, TestModesEnabled)

	env, err := BuildEnv(Settings{Username: "a", Password: "p", ArchiveFolder: "/ignored", TestMode: TestModeMixed}, "/fixtures")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/fixtures", "mixed"), env["ARCHIVE_FOLDER"])

	env, err = BuildEnv(Settings{Username: "a", Password: "p", TestMode: TestModeSmall}, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("fixtures", "small"), env["ARCHIVE_FOLDER"])
}
