//go:build testmodes

package migration

import (
	"path/filepath"

	"skyport/internal/domain"
)

// TestModesEnabled reports whether fixture test modes are compiled in.
const TestModesEnabled = true

var testModeDirs = map[TestMode]string{
	TestModeSmall: "small",
	TestModeLarge: "large",
	TestModeVideo: "video",
	TestModeMixed: "mixed",
}

func testModeFolder(fixturesDir string, mode TestMode) (string, error) {
	dir, ok := testModeDirs[mode]
	if !ok {
		return "", domain.NewSubSystemError("migration", "testModeFolder", domain.ErrInvalidInput, string(mode))
	}
	if fixturesDir == "" {
		fixturesDir = "fixtures"
	}
	return filepath.Join(fixturesDir, dir), nil
}
