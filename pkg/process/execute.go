package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
)

// forceKillWait bounds the wait for a process after SIGKILL
const forceKillWait = 5 * time.Second

// Process is an owned handle to a started child process
type Process interface {
	ID() string
	Pid() int

	// Done is closed once the process has exited and been reaped
	Done() <-chan struct{}

	// ExitCode is the exit code after Done is closed, -1 before.
	// A process killed by signal n reports 128+n.
	ExitCode() int

	// Terminate stops the process gracefully, escalating to a kill after
	// ProcessSpec.GracefulTimeout or when ctx is done. For an exited
	// process it only sweeps leftovers of its process group.
	Terminate(ctx context.Context) error
}

// Launcher starts processes from specs
type Launcher interface {
	Launch(ctx context.Context, spec ProcessSpec) (Process, error)
}

// OSLauncher starts real OS processes, each in its own process group
type OSLauncher struct {
	Stdout io.Writer
	Stderr io.Writer

	logger logging.Logger
}

// NewOSLauncher creates a launcher whose children share the supervisor's stdout and stderr
func NewOSLauncher(logger logging.Logger) *OSLauncher {
	return &OSLauncher{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger,
	}
}

func (l *OSLauncher) Launch(ctx context.Context, spec ProcessSpec) (Process, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", spec.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("launch cancelled", err).WithContext("id", spec.ID)
	}

	if err := ValidateProcessSpec(spec); err != nil {
		l.logger.Errorf("Process spec validation failed, id: %s, error: %v", spec.ID, err)
		return nil, err
	}

	spec = spec.Resolved()

	executable, err := LookupExecutable(spec.ExecutablePath)
	if err != nil {
		l.logger.Errorf("Failed to resolve executable, id: %s, path: '%s', error: %v", spec.ID, spec.ExecutablePath, err)
		return nil, err
	}

	l.logger.Debugf("Executing process, id: %s, role: %s, executable: '%s', args: %v, working directory: '%s'",
		spec.ID, spec.Role, executable, spec.Args, spec.WorkingDirectory)

	env := os.Environ()
	env = append(env, spec.Environment...)

	// Not CommandContext: ctx cancellation must go through the ordered
	// termination in Terminate, not an immediate kill.
	cmd := exec.Command(executable, spec.Args...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = env
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	setupProcessAttributes(cmd)

	// bounds Wait when a grandchild keeps our output pipes open
	cmd.WaitDelay = forceKillWait

	if err := cmd.Start(); err != nil {
		if os.IsPermission(err) {
			return nil, errors.NewPermissionError("failed to start the process", err).WithContext("id", spec.ID).WithContext("executable_path", executable)
		}
		return nil, errors.NewProcessError("failed to start the process", err).WithContext("id", spec.ID).WithContext("executable_path", executable)
	}

	l.logger.Infof("Started process, id: %s, role: %s, PID: %d", spec.ID, spec.Role, cmd.Process.Pid)

	p := &osProcess{
		spec:     spec,
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
		logger:   l.logger,
	}
	go p.wait()

	return p, nil
}

type osProcess struct {
	spec   ProcessSpec
	cmd    *exec.Cmd
	done   chan struct{}
	logger logging.Logger

	mutex    sync.Mutex
	exitCode int
}

func (p *osProcess) wait() {
	err := p.cmd.Wait()

	code := exitCodeFromState(p.cmd.ProcessState)
	if _, isExitErr := err.(*exec.ExitError); err != nil && !isExitErr {
		p.logger.Warnf("Process wait failed, id: %s, PID: %d, error: %v", p.spec.ID, p.Pid(), err)
	}

	p.mutex.Lock()
	p.exitCode = code
	p.mutex.Unlock()

	p.logger.Infof("Process exited, id: %s, PID: %d, exit code: %d", p.spec.ID, p.Pid(), code)
	close(p.done)
}

func (p *osProcess) ID() string {
	return p.spec.ID
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Done() <-chan struct{} {
	return p.done
}

func (p *osProcess) ExitCode() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.exitCode
}

func (p *osProcess) Terminate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	pid := p.Pid()

	select {
	case <-p.done:
		p.sweepGroup()
		return nil
	default:
	}

	gracefulTimeout := p.spec.gracefulTimeout()

	p.logger.Infof("Sending termination signal, id: %s, PID: %d, timeout: %v", p.spec.ID, pid, gracefulTimeout)
	if err := SendTerminationSignal(pid); err != nil {
		p.logger.Warnf("Failed to send termination signal, id: %s, PID: %d: %v", p.spec.ID, pid, err)
	}

	timer := time.NewTimer(gracefulTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		p.logger.Infof("Process terminated gracefully, id: %s, PID: %d", p.spec.ID, pid)
		p.sweepGroup()
		return nil
	case <-timer.C:
		p.logger.Warnf("Process did not terminate within %v, forcing termination, id: %s, PID: %d", gracefulTimeout, p.spec.ID, pid)
	case <-ctx.Done():
		p.logger.Warnf("Context cancelled during graceful termination, forcing termination, id: %s, PID: %d", p.spec.ID, pid)
	}

	if err := KillProcessGroup(pid); err != nil {
		p.logger.Warnf("Failed to kill process group, id: %s, PID: %d: %v", p.spec.ID, pid, err)
		if err := p.cmd.Process.Kill(); err != nil {
			return errors.NewProcessError("failed to kill process", err).WithContext("id", p.spec.ID).WithContext("pid", pid)
		}
	}

	select {
	case <-p.done:
		p.logger.Infof("Process force terminated, id: %s, PID: %d", p.spec.ID, pid)
		return nil
	case <-time.After(forceKillWait):
		return errors.NewTimeoutError("process did not terminate even after force termination", nil).
			WithContext("id", p.spec.ID).WithContext("pid", pid)
	}
}

// sweepGroup kills whatever is left of the process group once its leader has exited
func (p *osProcess) sweepGroup() {
	swept, err := sweepProcessGroup(p.Pid())
	if err != nil {
		p.logger.Debugf("No stragglers in process group, id: %s, PGID: %d: %v", p.spec.ID, p.Pid(), err)
		return
	}
	if swept {
		p.logger.Warnf("Killed leftover members of process group, id: %s, PGID: %d", p.spec.ID, p.Pid())
	}
}
