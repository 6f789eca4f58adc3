//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// setProcGroup is a no-op on Windows.
func setProcGroup(cmd *exec.Cmd) {}

// terminate has no graceful variant on Windows; the process is killed outright.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if err := cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errProcessGone
		}
		return err
	}
	return nil
}
