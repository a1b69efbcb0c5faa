package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "evertale"

// Metrics holds the Prometheus collectors the engine reports to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	captures        *prometheus.CounterVec
	classifications *prometheus.CounterVec
	actions         *prometheus.CounterVec
	recoveries      *prometheus.CounterVec
	recoveryTries   prometheus.Histogram
	tasks           *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns metrics registered with the global Prometheus registry,
// created once per process.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the collectors with reg and panics on a conflicting
// registration. Already registered collectors of the same shape are reused.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "captures_total",
			Help:      "Screenshots requested from the device, by result.",
		}, []string{"result"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "screen",
			Name:      "classifications_total",
			Help:      "Screenshots classified, by recognized state.",
		}, []string{"state"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "actions_sent_total",
			Help:      "Input actions sent to the device, by kind.",
		}, []string{"kind"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "runs_total",
			Help:      "Recovery runs, by outcome.",
		}, []string{"outcome"}),
		recoveryTries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "attempts",
			Help:      "Attempts made per recovery run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "tasks_total",
			Help:      "Finished task runs, by task and terminal status.",
		}, []string{"task", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "task_duration_seconds",
			Help:      "Wall clock time of task runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
	}

	var err error
	if m.captures, err = register(reg, m.captures); err != nil {
		return nil, err
	}
	if m.classifications, err = register(reg, m.classifications); err != nil {
		return nil, err
	}
	if m.actions, err = register(reg, m.actions); err != nil {
		return nil, err
	}
	if m.recoveries, err = register(reg, m.recoveries); err != nil {
		return nil, err
	}
	if m.recoveryTries, err = register(reg, m.recoveryTries); err != nil {
		return nil, err
	}
	if m.tasks, err = register(reg, m.tasks); err != nil {
		return nil, err
	}
	if m.taskDuration, err = register(reg, m.taskDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an already registered collector of the
// same type.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("register metrics collector: %w", err)
}

// ObserveCapture counts a screenshot request
func (m *Metrics) ObserveCapture(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.captures.WithLabelValues(result).Inc()
}

// ObserveState counts a classification result
func (m *Metrics) ObserveState(state string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(state).Inc()
}

// ObserveAction counts an action sent to the device
func (m *Metrics) ObserveAction(kind string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind).Inc()
}

// ObserveRecovery records the outcome of one recovery run
func (m *Metrics) ObserveRecovery(recovered bool, attempts int) {
	if m == nil {
		return
	}
	outcome := "exhausted"
	if recovered {
		outcome = "recovered"
	}
	m.recoveries.WithLabelValues(outcome).Inc()
	m.recoveryTries.Observe(float64(attempts))
}

// ObserveTask records a finished task run
func (m *Metrics) ObserveTask(task, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}
