package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (l *testLogger) Debugf(format string, args ...interface{})               {}
func (l *testLogger) Infof(format string, args ...interface{})                {}
func (l *testLogger) Warnf(format string, args ...interface{})                {}
func (l *testLogger) Errorf(format string, args ...interface{})               {}
func (l *testLogger) LogLevelf(level int, format string, args ...interface{}) {}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetPhase(PhaseRunning)
		m.RecordReadinessAttempts(3)
		m.ObserveReadinessWait(true, time.Second)
		m.RecordChildStarted("primary", 1)
		m.RecordChildExited("primary", 0)
		m.RecordExitCode(0)
	})
	assert.Equal(t, Status{}, m.Snapshot())
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "run-1")

	m.SetPhase(PhaseWaitingForReady)
	m.RecordReadinessAttempts(4)
	m.ObserveReadinessWait(true, 600*time.Millisecond)
	m.RecordChildStarted("dependency", 100)
	m.RecordChildStarted("primary", 200)
	m.RecordChildExited("primary", 3)
	m.RecordExitCode(3)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.readinessAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.childStarts.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.childExits.WithLabelValues("primary", "3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.childRunning.WithLabelValues("dependency")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.childRunning.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues(string(PhaseWaitingForReady))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues(string(PhaseRunning))))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.exitCode))

	status := m.Snapshot()
	assert.Equal(t, "run-1", status.RunID)
	assert.Equal(t, PhaseWaitingForReady, status.Phase)
	assert.True(t, status.Ready)
	assert.Equal(t, 4, status.Attempts)
	assert.Equal(t, map[string]int{"dependency": 100}, status.Children)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 3, *status.ExitCode)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "run-2")
	m.SetPhase(PhaseRunning)
	m.RecordChildStarted("primary", 42)

	server := httptest.NewServer(NewRouter(reg, m))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `hsu_startup_child_starts_total{role="primary"} 1`)

	resp, err = http.Get(server.URL + "/status")
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, PhaseRunning, status.Phase)
	assert.Equal(t, 42, status.Children["primary"])

	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ListenServeShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "run-3")

	server, err := Listen("127.0.0.1", 0, NewRouter(reg, m), &testLogger{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		server.Serve()
		close(done)
	}()

	resp, err := http.Get("http://" + server.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
