package readiness

import (
	"context"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"
)

// Result summarizes one readiness wait
type Result struct {
	Ready     bool
	Attempts  int
	Elapsed   time.Duration
	LastError error
}

// Wait polls check until it succeeds, check.Timeout elapses, exited is
// closed, or ctx is done. The first attempt runs immediately; subsequent
// attempts run every check.PollInterval. Each attempt is bounded by
// check.AttemptTimeout and by the overall deadline.
//
// exited may be nil. A closed exited channel fails the wait immediately
// with a dependency timeout error instead of waiting out the timeout.
func Wait(ctx context.Context, check Check, prober Prober, exited <-chan struct{}, logger logging.Logger) (Result, error) {
	var result Result

	if err := ValidateCheck(check); err != nil {
		return result, err
	}

	logger.Infof("Waiting for readiness, type: %s, target: %s, timeout: %v, poll interval: %v",
		check.Type, describeTarget(check), check.Timeout, check.PollInterval)

	start := time.Now()
	deadline := start.Add(check.Timeout)

	timeout := time.NewTimer(check.Timeout)
	defer timeout.Stop()

	for {
		result.Attempts++

		attemptTimeout := check.AttemptTimeout
		if remaining := time.Until(deadline); remaining < attemptTimeout {
			attemptTimeout = remaining
		}
		if attemptTimeout <= 0 {
			attemptTimeout = time.Millisecond
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := prober.Probe(attemptCtx, check)
		cancel()

		result.Elapsed = time.Since(start)
		if err == nil {
			result.Ready = true
			result.LastError = nil
			logger.Infof("Dependency is ready, attempts: %d, elapsed: %v", result.Attempts, result.Elapsed)
			return result, nil
		}
		result.LastError = err
		logger.Debugf("Readiness attempt %d failed: %v", result.Attempts, err)

		// A probe may run up to the deadline; never start another one past it
		if !time.Now().Before(deadline) {
			return result, timeoutError(check, result)
		}

		interval := time.NewTimer(check.PollInterval)
		select {
		case <-interval.C:
		case <-timeout.C:
			interval.Stop()
			result.Elapsed = time.Since(start)
			return result, timeoutError(check, result)
		case <-exited:
			interval.Stop()
			result.Elapsed = time.Since(start)
			return result, errors.NewDependencyTimeoutError("dependency exited before becoming ready", result.LastError).
				WithContext("attempts", result.Attempts).
				WithContext("elapsed", result.Elapsed.String())
		case <-ctx.Done():
			interval.Stop()
			result.Elapsed = time.Since(start)
			return result, errors.NewCancelledError("readiness wait cancelled", ctx.Err()).
				WithContext("attempts", result.Attempts)
		}
	}
}

func timeoutError(check Check, result Result) error {
	return errors.NewDependencyTimeoutError("dependency not ready within "+check.Timeout.String(), result.LastError).
		WithContext("attempts", result.Attempts).
		WithContext("elapsed", result.Elapsed.String()).
		WithContext("target", describeTarget(check))
}

func describeTarget(check Check) string {
	if check.Type == CheckTypeExec {
		return check.Exec.Command
	}
	return check.Target()
}
