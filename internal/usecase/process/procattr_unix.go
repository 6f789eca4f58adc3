//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// setProcGroup starts the child in its own process group so a cancel reaches
// every process the migration CLI spawns (node, ffmpeg helpers, ...).
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the process group of pid, falling back to the pid
// itself when the group signal is refused. ESRCH is reported as errProcessGone.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	pgErr := syscall.Kill(-pid, sig)
	if pgErr == nil {
		return nil
	}
	if errors.Is(pgErr, syscall.ESRCH) || errors.Is(pgErr, syscall.EPERM) {
		if err := syscall.Kill(pid, sig); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				return errProcessGone
			}
			return fmt.Errorf("signal pid %d: %w", pid, err)
		}
		return nil
	}
	return fmt.Errorf("signal process group %d: %w", pid, pgErr)
}

func terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd.Process.Pid, syscall.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	return signalGroup(cmd.Process.Pid, syscall.SIGKILL)
}
