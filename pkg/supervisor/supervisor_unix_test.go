//go:build !windows

package supervisor

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-startup/pkg/process"
	"github.com/core-tools/hsu-startup/pkg/processstate"
	"github.com/core-tools/hsu-startup/pkg/readiness"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is the body of the child processes started below
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		os.Exit(2)
	}

	switch args[0] {
	case "serve":
		// listen on the given port until SIGTERM
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", args[1]))
		if err != nil {
			os.Exit(5)
		}
		go func() {
			for {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
		select {
		case <-sig:
			os.Exit(0)
		case <-time.After(30 * time.Second):
			os.Exit(3)
		}

	case "stubborn":
		// listen on the given port and ignore SIGTERM; only SIGKILL stops it
		signal.Ignore(syscall.SIGTERM)
		listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", args[1]))
		if err != nil {
			os.Exit(5)
		}
		time.Sleep(30 * time.Second)
		listener.Close()
		os.Exit(3)

	case "exit":
		code, _ := strconv.Atoi(args[1])
		os.Exit(code)

	case "sleep":
		// default SIGTERM disposition: killed by the signal
		time.Sleep(30 * time.Second)
		os.Exit(3)

	case "crash":
		time.Sleep(50 * time.Millisecond)
		os.Exit(1)
	}

	os.Exit(2)
}

func helperSpec(t *testing.T, id string, port int, mode ...string) process.ProcessSpec {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	return process.ProcessSpec{
		ID:              id,
		ExecutablePath:  exe,
		Args:            append([]string{"-test.run=TestHelperProcess", "--"}, mode...),
		Environment:     []string{"GO_WANT_HELPER_PROCESS=1"},
		BindPort:        port,
		GracefulTimeout: 2 * time.Second,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

// recordingLauncher reports the pid of every launched child
type recordingLauncher struct {
	process.Launcher
	pids chan int
}

func (l *recordingLauncher) Launch(ctx context.Context, spec process.ProcessSpec) (process.Process, error) {
	p, err := l.Launcher.Launch(ctx, spec)
	if err == nil {
		l.pids <- p.Pid()
	}
	return p, err
}

func newRecordingLauncher() *recordingLauncher {
	launcher := process.NewOSLauncher(&testLogger{})
	launcher.Stdout, launcher.Stderr = io.Discard, io.Discard
	return &recordingLauncher{Launcher: launcher, pids: make(chan int, 2)}
}

func realOptions(t *testing.T, policy FailurePolicy, dependencyMode []string, primaryMode []string) Options {
	port := freePort(t)
	return Options{
		Dependency:          helperSpec(t, "backend", port, dependencyMode...),
		Primary:             helperSpec(t, "frontend", 0, primaryMode...),
		Readiness:           readiness.Check{Timeout: 5 * time.Second, PollInterval: 50 * time.Millisecond},
		OnDependencyFailure: policy,
	}
}

func assertNotRunning(t *testing.T, pid int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		running, err := processstate.IsProcessRunning(pid)
		return err == nil && !running
	}, 5*time.Second, 20*time.Millisecond, "process %d is still running", pid)
}

func TestRunReal_PrimaryExitCodeAndDependencyStopped(t *testing.T) {
	launcher := newRecordingLauncher()
	options := realOptions(t, FailurePolicyAbort, []string{"serve", "{port}"}, []string{"exit", "9"})

	s, err := NewSupervisor(options, launcher, readiness.NewProber(&testLogger{}), &testLogger{})
	require.NoError(t, err)

	assert.Equal(t, 9, s.Run(context.Background()))

	dependencyPid := <-launcher.pids
	<-launcher.pids
	assertNotRunning(t, dependencyPid)
}

func TestRunReal_DependencyCrashAborts(t *testing.T) {
	launcher := newRecordingLauncher()
	options := realOptions(t, FailurePolicyAbort, []string{"crash"}, []string{"exit", "0"})

	s, err := NewSupervisor(options, launcher, readiness.NewProber(&testLogger{}), &testLogger{})
	require.NoError(t, err)

	start := time.Now()
	assert.Equal(t, 75, s.Run(context.Background()))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Len(t, launcher.pids, 1)
}

func TestRunReal_CancellationStopsBothChildren(t *testing.T) {
	launcher := newRecordingLauncher()
	options := realOptions(t, FailurePolicyAbort, []string{"serve", "{port}"}, []string{"sleep"})

	s, err := NewSupervisor(options, launcher, readiness.NewProber(&testLogger{}), &testLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	result := make(chan int, 1)
	go func() { result <- s.Run(ctx) }()

	dependencyPid := <-launcher.pids
	var primaryPid int
	select {
	case primaryPid = <-launcher.pids:
	case <-time.After(10 * time.Second):
		t.Fatal("primary was not launched")
	}

	cancel(&SignalError{Signal: syscall.SIGTERM})

	select {
	case code := <-result:
		assert.Equal(t, 128+int(syscall.SIGTERM), code)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not exit")
	}

	assertNotRunning(t, primaryPid)
	assertNotRunning(t, dependencyPid)
}

func waitForPid(t *testing.T, pids <-chan int, what string) int {
	t.Helper()
	select {
	case pid := <-pids:
		return pid
	case <-time.After(10 * time.Second):
		t.Fatalf("%s was not launched", what)
		return 0
	}
}

func TestRunReal_SignalStopsBothChildren(t *testing.T) {
	launcher := newRecordingLauncher()
	options := realOptions(t, FailurePolicyAbort, []string{"serve", "{port}"}, []string{"sleep"})

	signals := NotifySignals(context.Background(), &testLogger{})
	defer signals.Stop()

	s, err := NewSupervisor(options, launcher, readiness.NewProber(&testLogger{}), &testLogger{})
	require.NoError(t, err)
	s.SetTeardownContext(signals.ForceContext())

	result := make(chan int, 1)
	go func() { result <- s.Run(signals.Context()) }()

	dependencyPid := waitForPid(t, launcher.pids, "dependency")
	primaryPid := waitForPid(t, launcher.pids, "primary")

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case code := <-result:
		assert.Equal(t, 143, code)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not exit")
	}

	var sigErr *SignalError
	require.ErrorAs(t, context.Cause(signals.Context()), &sigErr)
	assert.Equal(t, syscall.SIGTERM, sigErr.Signal)
	assert.NoError(t, signals.ForceContext().Err(), "one signal keeps the graceful path")

	assertNotRunning(t, primaryPid)
	assertNotRunning(t, dependencyPid)
}

func TestRunReal_SecondSignalSkipsGracefulTimeout(t *testing.T) {
	launcher := newRecordingLauncher()
	options := realOptions(t, FailurePolicyAbort, []string{"stubborn", "{port}"}, []string{"sleep"})
	options.Dependency.GracefulTimeout = 20 * time.Second

	signals := NotifySignals(context.Background(), &testLogger{})
	defer signals.Stop()

	s, err := NewSupervisor(options, launcher, readiness.NewProber(&testLogger{}), &testLogger{})
	require.NoError(t, err)
	s.SetTeardownContext(signals.ForceContext())

	result := make(chan int, 1)
	go func() { result <- s.Run(signals.Context()) }()

	dependencyPid := waitForPid(t, launcher.pids, "dependency")
	primaryPid := waitForPid(t, launcher.pids, "primary")

	start := time.Now()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	<-signals.Context().Done()

	// The dependency ignores SIGTERM, so teardown is still waiting on it
	time.Sleep(300 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("supervisor exited before the dependency was forced")
	default:
	}

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case code := <-result:
		assert.Equal(t, 143, code)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not exit after the second signal")
	}
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Error(t, signals.ForceContext().Err())

	assertNotRunning(t, primaryPid)
	assertNotRunning(t, dependencyPid)
}
