package supervisor

import (
	"context"
	"sync/atomic"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
	"github.com/core-tools/hsu-startup/pkg/metrics"
	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/processfile"
	"github.com/core-tools/hsu-startup/pkg/processstate"
	"github.com/core-tools/hsu-startup/pkg/readiness"
)

// Supervisor starts a dependency, waits for it to become ready, then runs
// the primary in the foreground. It owns both child handles and terminates
// every child it started before Run returns.
type Supervisor struct {
	options  Options
	launcher process.Launcher
	prober   readiness.Prober
	logger   logging.Logger

	metrics     *metrics.Metrics
	pidFiles    *processfile.Manager
	teardownCtx context.Context

	// isRunning verifies that a terminated child is really gone
	isRunning func(pid int) (bool, error)

	started        atomic.Bool
	children       []*child
	teardownErrors *errors.ErrorCollection
}

type child struct {
	spec         process.ProcessSpec
	process      process.Process
	exitRecorded bool
}

func NewSupervisor(options Options, launcher process.Launcher, prober readiness.Prober, logger logging.Logger) (*Supervisor, error) {
	if launcher == nil {
		return nil, errors.NewValidationError("launcher cannot be nil", nil)
	}
	if prober == nil {
		return nil, errors.NewValidationError("prober cannot be nil", nil)
	}
	if logger == nil {
		return nil, errors.NewValidationError("logger cannot be nil", nil)
	}

	options = options.WithDefaults()
	if err := ValidateOptions(options); err != nil {
		return nil, err
	}

	return &Supervisor{
		options:        options,
		launcher:       launcher,
		prober:         prober,
		logger:         logger,
		teardownCtx:    context.Background(),
		isRunning:      processstate.IsProcessRunning,
		teardownErrors: errors.NewErrorCollection(),
	}, nil
}

// SetMetrics enables metrics recording; nil disables it
func (s *Supervisor) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetProcessFiles enables PID files for both children; nil disables them
func (s *Supervisor) SetProcessFiles(m *processfile.Manager) {
	s.pidFiles = m
}

// SetTeardownContext sets the context passed to Terminate during teardown.
// Cancelling it skips the remaining graceful timeouts.
func (s *Supervisor) SetTeardownContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.teardownCtx = ctx
}

// Run executes one supervised startup and returns the exit code for the
// supervisor process. Cancelling ctx terminates the primary first, then the
// dependency. Run may only be called once.
func (s *Supervisor) Run(ctx context.Context) int {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Errorf("Supervisor has already been run")
		return errors.ExitCodeInternal
	}

	s.logger.Infof("Supervisor starting, dependency: %s, primary: %s, on dependency failure: %s",
		s.options.Dependency.ID, s.options.Primary.ID, s.options.OnDependencyFailure)

	code, err := s.run(ctx)

	if teardownErr := s.teardownErrors.ToError(); teardownErr != nil {
		s.logger.Errorf("Teardown incomplete, error: %v", teardownErr)
	}

	switch {
	case err == nil:
		s.logger.Infof("Supervisor finished, exit code: %d", code)
	case errors.IsPrimaryExitError(err), errors.IsCancelledError(err):
		s.logger.Warnf("Supervisor finished, exit code: %d, reason: %v", code, err)
	default:
		s.logger.Errorf("Supervisor failed, exit code: %d, error: %v", code, err)
	}

	s.metrics.RecordExitCode(code)
	s.metrics.SetPhase(metrics.PhaseExited)
	return code
}

func (s *Supervisor) run(ctx context.Context) (int, error) {
	defer s.teardown()

	s.metrics.SetPhase(metrics.PhaseStarting)

	dependency, err := s.launch(ctx, s.options.Dependency)
	if err != nil {
		if ctx.Err() != nil {
			return cancellationExitCode(ctx), errors.NewCancelledError("cancelled before dependency launch", context.Cause(ctx))
		}
		launchErr := errors.NewDependencyLaunchError("failed to launch dependency", err).
			WithContext("id", s.options.Dependency.ID)
		return errors.ExitCodeFor(launchErr), launchErr
	}

	s.metrics.SetPhase(metrics.PhaseWaitingForReady)
	result, err := readiness.Wait(ctx, s.options.Readiness, s.prober, dependency.process.Done(), s.logger)
	s.metrics.RecordReadinessAttempts(result.Attempts)
	s.metrics.ObserveReadinessWait(result.Ready, result.Elapsed)

	if err != nil {
		if errors.IsCancelledError(err) || ctx.Err() != nil {
			s.teardown()
			return cancellationExitCode(ctx), errors.NewCancelledError("cancelled while waiting for dependency", context.Cause(ctx))
		}

		if s.options.OnDependencyFailure != FailurePolicyContinue {
			s.logger.Errorf("Dependency not ready, aborting without starting primary, id: %s, attempts: %d, error: %v",
				s.options.Dependency.ID, result.Attempts, err)
			s.teardown()
			return errors.ExitCodeFor(err), err
		}

		s.logger.Warnf("Dependency not ready, starting primary in degraded mode, id: %s, attempts: %d, error: %v",
			s.options.Dependency.ID, result.Attempts, err)
	}

	primary, err := s.launch(ctx, s.options.Primary)
	if err != nil {
		s.teardown()
		if ctx.Err() != nil {
			return cancellationExitCode(ctx), errors.NewCancelledError("cancelled before primary launch", context.Cause(ctx))
		}
		launchErr := errors.NewPrimaryLaunchError("failed to launch primary", err).
			WithContext("id", s.options.Primary.ID)
		return errors.ExitCodeFor(launchErr), launchErr
	}

	s.metrics.SetPhase(metrics.PhaseRunning)
	return s.supervise(ctx, dependency, primary)
}

// supervise blocks until the primary exits or ctx is cancelled
func (s *Supervisor) supervise(ctx context.Context, dependency, primary *child) (int, error) {
	dependencyDone := dependency.process.Done()

	for {
		select {
		case <-primary.process.Done():
			code := primary.process.ExitCode()
			s.recordExit(primary)
			s.teardown()
			if code != 0 {
				return code, errors.NewPrimaryExitError(code).WithContext("id", primary.spec.ID)
			}
			return 0, nil

		case <-dependencyDone:
			// No restarts: the primary keeps running without its dependency
			dependencyDone = nil
			s.recordExit(dependency)
			s.logger.Warnf("Dependency exited while primary is running, id: %s, exit code: %d",
				dependency.spec.ID, dependency.process.ExitCode())

		case <-ctx.Done():
			s.logger.Infof("Supervisor cancelled while primary is running, cause: %v", context.Cause(ctx))
			s.teardown()

			code := primary.process.ExitCode()
			if code < 0 {
				code = cancellationExitCode(ctx)
			}
			return code, errors.NewCancelledError("supervisor cancelled", context.Cause(ctx)).WithContext("exit_code", code)
		}
	}
}

func (s *Supervisor) launch(ctx context.Context, spec process.ProcessSpec) (*child, error) {
	if s.pidFiles != nil {
		s.checkStalePIDFile(spec)
	}

	p, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}

	c := &child{spec: spec, process: p}
	s.children = append(s.children, c)
	s.metrics.RecordChildStarted(string(spec.Role), p.Pid())

	if s.pidFiles != nil {
		if err := s.pidFiles.WritePIDFile(spec.ID, p.Pid()); err != nil {
			s.logger.Warnf("Failed to write PID file, id: %s, error: %v", spec.ID, err)
		}
	}

	return c, nil
}

// checkStalePIDFile warns when a PID file left by an earlier run still
// names a live process, which usually holds the port the child needs
func (s *Supervisor) checkStalePIDFile(spec process.ProcessSpec) {
	pid, err := s.pidFiles.ReadPIDFile(spec.ID)
	if err != nil {
		return
	}
	if running, err := s.isRunning(pid); err == nil && running {
		s.logger.Warnf("PID file of %s names a running process, id: %s, PID: %d", spec.Role, spec.ID, pid)
	}
}

// teardown terminates children in reverse launch order, primary before
// dependency. Safe to call more than once. Failures are returned and kept
// for Run to report.
func (s *Supervisor) teardown() error {
	if len(s.children) == 0 {
		return nil
	}
	s.metrics.SetPhase(metrics.PhaseStopping)

	errs := errors.NewErrorCollection()
	for i := len(s.children) - 1; i >= 0; i-- {
		c := s.children[i]
		pid := c.process.Pid()

		select {
		case <-c.process.Done():
			s.logger.Debugf("Cleaning up exited %s, id: %s, PID: %d", c.spec.Role, c.spec.ID, pid)
		default:
			s.logger.Infof("Terminating %s, id: %s, PID: %d", c.spec.Role, c.spec.ID, pid)
		}

		if err := c.process.Terminate(s.teardownCtx); err != nil {
			s.logger.Errorf("Failed to terminate %s, id: %s, PID: %d, error: %v", c.spec.Role, c.spec.ID, pid, err)
			errs.Add(errors.NewProcessError("failed to terminate "+string(c.spec.Role), err).
				WithContext("id", c.spec.ID).WithContext("pid", pid))
		}

		if running, err := s.isRunning(pid); err == nil && running {
			s.logger.Errorf("%s still running after termination, id: %s, PID: %d", c.spec.Role, c.spec.ID, pid)
			errs.Add(errors.NewProcessError(string(c.spec.Role)+" still running after termination", nil).
				WithContext("id", c.spec.ID).WithContext("pid", pid))
		}
		s.recordExit(c)

		if s.pidFiles != nil {
			if err := s.pidFiles.RemovePIDFile(c.spec.ID); err != nil {
				s.logger.Warnf("Failed to remove PID file, id: %s, error: %v", c.spec.ID, err)
			}
		}
	}

	s.children = nil
	for _, err := range errs.Errors {
		s.teardownErrors.Add(err)
	}
	return errs.ToError()
}

func (s *Supervisor) recordExit(c *child) {
	if c.exitRecorded {
		return
	}
	select {
	case <-c.process.Done():
	default:
		return
	}
	c.exitRecorded = true
	s.metrics.RecordChildExited(string(c.spec.Role), c.process.ExitCode())
}
