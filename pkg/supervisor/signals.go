package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/core-tools/hsu-startup/pkg/logging"
)

// SignalError is the cancellation cause recorded when the supervisor
// receives a termination signal
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("received signal: %v", e.Signal)
}

// ExitCode follows the shell convention of 128+n
func (e *SignalError) ExitCode() int {
	if sig, ok := e.Signal.(syscall.Signal); ok {
		return 128 + int(sig)
	}
	return 128 + int(syscall.SIGTERM)
}

// SignalHandler turns SIGINT/SIGTERM into context cancellation.
// The first signal cancels Context with a *SignalError cause; a second one
// also cancels ForceContext, which skips the remaining graceful timeouts.
type SignalHandler struct {
	ctx         context.Context
	cancel      context.CancelCauseFunc
	forceCtx    context.Context
	forceCancel context.CancelFunc
	sig         chan os.Signal
	stopped     chan struct{}
	stopOnce    sync.Once
	logger      logging.Logger
}

func NotifySignals(parent context.Context, logger logging.Logger) *SignalHandler {
	ctx, cancel := context.WithCancelCause(parent)
	forceCtx, forceCancel := context.WithCancel(context.Background())

	h := &SignalHandler{
		ctx:         ctx,
		cancel:      cancel,
		forceCtx:    forceCtx,
		forceCancel: forceCancel,
		sig:         make(chan os.Signal, 2),
		stopped:     make(chan struct{}),
		logger:      logger,
	}

	signal.Notify(h.sig, os.Interrupt, syscall.SIGTERM)
	go h.loop()

	return h
}

func (h *SignalHandler) loop() {
	received := 0
	for {
		select {
		case s := <-h.sig:
			received++
			if received == 1 {
				h.logger.Infof("Supervisor received signal: %v, stopping children", s)
				h.cancel(&SignalError{Signal: s})
				continue
			}
			h.logger.Warnf("Supervisor received signal again: %v, forcing termination", s)
			h.forceCancel()
		case <-h.stopped:
			return
		}
	}
}

func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

func (h *SignalHandler) ForceContext() context.Context {
	return h.forceCtx
}

func (h *SignalHandler) Stop() {
	h.stopOnce.Do(func() {
		signal.Stop(h.sig)
		close(h.stopped)
		h.cancel(nil)
		h.forceCancel()
	})
}

// cancellationExitCode is the exit code for a run cancelled before the primary was running
func cancellationExitCode(ctx context.Context) int {
	if sigErr, ok := context.Cause(ctx).(*SignalError); ok {
		return sigErr.ExitCode()
	}
	return 128 + int(syscall.SIGTERM)
}
