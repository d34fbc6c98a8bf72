//go:build windows

package process

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Serializes console control events sent by the supervisor
var consoleOperationLock sync.Mutex

// SendTerminationSignal sends Ctrl+Break to the process group led by pid
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return fmt.Errorf("failed to load kernel32.dll: %v", err)
	}
	defer dll.Release()

	generateConsoleCtrlEvent, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := generateConsoleCtrlEvent.Call(
		uintptr(syscall.CTRL_BREAK_EVENT),
		uintptr(pid),
	)
	if result == 0 {
		return fmt.Errorf("failed to send Ctrl+Break to PID %d: %v", pid, err)
	}
	return nil
}

// KillProcessGroup terminates the process; Windows has no group kill without job objects
func KillProcessGroup(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}

// sweepProcessGroup is a no-op: without job objects there is no group to
// sweep, and the PID of an exited leader may already belong to another process
func sweepProcessGroup(pgid int) (bool, error) {
	return false, nil
}

func exitCodeFromState(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
