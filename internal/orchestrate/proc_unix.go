//go:build unix

package orchestrate

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setProcessGroup starts cmd as the leader of a new process group so the
// runner and everything it spawns can be signalled together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func interruptGroup(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGINT)
}

// reapGroup waits until every process left in cmd's group has exited or
// deadline passes, then kills the remainder.
func reapGroup(cmd *exec.Cmd, deadline time.Time) error {
	for time.Now().Before(deadline) {
		if unix.Kill(-cmd.Process.Pid, 0) != nil {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	return signalGroup(cmd, unix.SIGKILL)
}
