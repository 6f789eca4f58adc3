//go:build !testmodes

package migration

import "skyport/internal/domain"

// TestModesEnabled reports whether fixture test modes are compiled in.
const TestModesEnabled = false

func testModeFolder(_ string, mode TestMode) (string, error) {
	return "", domain.NewSubSystemError("migration", "testModeFolder", domain.ErrDisabled,
		"test mode "+string(mode)+" requires a build with -tags testmodes")
}
