//go:build !windows

package process

import (
	"os"
	"syscall"
)

// SendTerminationSignal sends SIGTERM to the process group led by pid
func SendTerminationSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// KillProcessGroup sends SIGKILL to the process group led by pid
func KillProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// sweepProcessGroup kills members left in the group of an exited leader.
// The group id outlives the leader while any member remains.
func sweepProcessGroup(pgid int) (bool, error) {
	if err := KillProcessGroup(pgid); err != nil {
		return false, err
	}
	return true, nil
}

func exitCodeFromState(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}
