package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Phase is the supervisor lifecycle stage exported through metrics and /status
type Phase string

const (
	PhaseStarting        Phase = "starting"
	PhaseWaitingForReady Phase = "waiting_for_ready"
	PhaseRunning         Phase = "running"
	PhaseStopping        Phase = "stopping"
	PhaseExited          Phase = "exited"
)

var phases = []Phase{PhaseStarting, PhaseWaitingForReady, PhaseRunning, PhaseStopping, PhaseExited}

// Metrics records supervisor activity.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
type Metrics struct {
	readinessAttempts prometheus.Counter
	readinessDuration *prometheus.HistogramVec
	childStarts       *prometheus.CounterVec
	childExits        *prometheus.CounterVec
	childRunning      *prometheus.GaugeVec
	phase             *prometheus.GaugeVec
	exitCode          prometheus.Gauge

	mutex  sync.RWMutex
	status Status
}

// Status is the snapshot served on /status
type Status struct {
	RunID        string         `json:"run_id,omitempty"`
	Phase        Phase          `json:"phase"`
	Ready        bool           `json:"ready"`
	Attempts     int            `json:"readiness_attempts"`
	Children     map[string]int `json:"children"`
	ExitCode     *int           `json:"exit_code,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	PhaseChanged time.Time      `json:"phase_changed_at"`
}

// New registers supervisor metrics with reg
func New(reg prometheus.Registerer, runID string) *Metrics {
	factory := promauto.With(reg)
	now := time.Now()

	return &Metrics{
		readinessAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "hsu_startup_readiness_attempts_total",
			Help: "Total number of dependency readiness probe attempts",
		}),
		readinessDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hsu_startup_readiness_wait_seconds",
			Help:    "Time spent waiting for the dependency to become ready",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}), // "ready", "not_ready"
		childStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hsu_startup_child_starts_total",
			Help: "Total number of child processes started by role",
		}, []string{"role"}),
		childExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hsu_startup_child_exits_total",
			Help: "Total number of child process exits by role and exit code",
		}, []string{"role", "code"}),
		childRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hsu_startup_child_running",
			Help: "Whether the child process with the given role is running (1) or not (0)",
		}, []string{"role"}),
		phase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hsu_startup_phase",
			Help: "Current supervisor phase; the active phase is 1",
		}, []string{"phase"}),
		exitCode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hsu_startup_exit_code",
			Help: "Supervisor exit code, set once the run completes",
		}),
		status: Status{
			RunID:        runID,
			Phase:        PhaseStarting,
			Children:     map[string]int{},
			StartedAt:    now,
			PhaseChanged: now,
		},
	}
}

func (m *Metrics) SetPhase(phase Phase) {
	if m == nil {
		return
	}
	for _, p := range phases {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.phase.WithLabelValues(string(p)).Set(value)
	}

	m.mutex.Lock()
	m.status.Phase = phase
	m.status.PhaseChanged = time.Now()
	m.mutex.Unlock()
}

func (m *Metrics) RecordReadinessAttempts(attempts int) {
	if m == nil || attempts <= 0 {
		return
	}
	m.readinessAttempts.Add(float64(attempts))

	m.mutex.Lock()
	m.status.Attempts += attempts
	m.mutex.Unlock()
}

func (m *Metrics) ObserveReadinessWait(ready bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "not_ready"
	if ready {
		outcome = "ready"
	}
	m.readinessDuration.WithLabelValues(outcome).Observe(duration.Seconds())

	m.mutex.Lock()
	m.status.Ready = ready
	m.mutex.Unlock()
}

func (m *Metrics) RecordChildStarted(role string, pid int) {
	if m == nil {
		return
	}
	m.childStarts.WithLabelValues(role).Inc()
	m.childRunning.WithLabelValues(role).Set(1)

	m.mutex.Lock()
	m.status.Children[role] = pid
	m.mutex.Unlock()
}

func (m *Metrics) RecordChildExited(role string, code int) {
	if m == nil {
		return
	}
	m.childExits.WithLabelValues(role, strconv.Itoa(code)).Inc()
	m.childRunning.WithLabelValues(role).Set(0)

	m.mutex.Lock()
	delete(m.status.Children, role)
	m.mutex.Unlock()
}

func (m *Metrics) RecordExitCode(code int) {
	if m == nil {
		return
	}
	m.exitCode.Set(float64(code))

	m.mutex.Lock()
	m.status.ExitCode = &code
	m.mutex.Unlock()
}

// Snapshot returns a copy of the current status
func (m *Metrics) Snapshot() Status {
	if m == nil {
		return Status{}
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	status := m.status
	status.Children = make(map[string]int, len(m.status.Children))
	for role, pid := range m.status.Children {
		status.Children[role] = pid
	}
	return status
}
