//go:build !windows

package proc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Children are started in their own process group so the whole group can be
// signalled at once.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGracefully(pid int) error {
	// Signal the group; fall back to the single process if the group is gone.
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		return unix.Kill(pid, unix.SIGTERM)
	}
	return nil
}

func killPlatform(pid int) {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
}
