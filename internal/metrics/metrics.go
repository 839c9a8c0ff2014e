package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for taskforge.
// All recording methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Queue metrics
	TasksEnqueued *prometheus.CounterVec
	TasksDequeued *prometheus.CounterVec
	TasksFinished *prometheus.CounterVec
	QueuePending  prometheus.Gauge
	QueueWait     prometheus.Histogram
	TaskDuration  *prometheus.HistogramVec

	// Worktree metrics
	WorktreeOps     *prometheus.CounterVec
	WorktreesActive prometheus.Gauge

	// Graph metrics
	GraphTasks  prometheus.Gauge
	GraphLevels prometheus.Gauge

	// Executor metrics
	ExecutorRetries *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TasksEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_tasks_enqueued_total",
				Help: "Total number of tasks admitted to the queue",
			},
			[]string{"target"},
		),
		TasksDequeued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_tasks_dequeued_total",
				Help: "Total number of tasks handed to a worker",
			},
			[]string{"worker"},
		),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_tasks_finished_total",
				Help: "Total number of tasks reaching a terminal status",
			},
			[]string{"status"},
		),
		QueuePending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskforge_queue_pending",
				Help: "Number of pending tasks in the queue",
			},
		),
		QueueWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskforge_queue_wait_seconds",
				Help:    "Time tasks spent pending before being dequeued",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskforge_task_duration_seconds",
				Help:    "Time from dequeue to terminal status",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
			},
			[]string{"status"},
		),

		WorktreeOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_worktree_operations_total",
				Help: "Worktree operations by kind and outcome",
			},
			[]string{"op", "result"},
		),
		WorktreesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskforge_worktrees_active",
				Help: "Number of worktrees currently tracked",
			},
		),

		GraphTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskforge_graph_tasks",
				Help: "Number of tasks in the last built dependency graph",
			},
		),
		GraphLevels: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskforge_graph_levels",
				Help: "Number of execution levels in the last built dependency graph",
			},
		),

		ExecutorRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_executor_retries_total",
				Help: "Executor attempts that failed and were retried",
			},
			[]string{"executor"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskforge_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}
}

// NewRegistry creates a new Prometheus registry with metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns an HTTP handler for a specific registry
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Enqueued(target string, pending int) {
	if m == nil {
		return
	}
	m.TasksEnqueued.WithLabelValues(target).Inc()
	m.QueuePending.Set(float64(pending))
}

func (m *Metrics) Dequeued(worker string, waited time.Duration, pending int) {
	if m == nil {
		return
	}
	m.TasksDequeued.WithLabelValues(worker).Inc()
	m.QueueWait.Observe(waited.Seconds())
	m.QueuePending.Set(float64(pending))
}

// Finished records a terminal transition. ran is zero for tasks that never
// left the pending state.
func (m *Metrics) Finished(status string, ran time.Duration, pending int) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(status).Inc()
	if ran > 0 {
		m.TaskDuration.WithLabelValues(status).Observe(ran.Seconds())
	}
	m.QueuePending.Set(float64(pending))
}

func (m *Metrics) WorktreeOp(op string, err error, active int) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WorktreeOps.WithLabelValues(op, result).Inc()
	m.WorktreesActive.Set(float64(active))
}

func (m *Metrics) Graph(tasks, levels int) {
	if m == nil {
		return
	}
	m.GraphTasks.Set(float64(tasks))
	m.GraphLevels.Set(float64(levels))
}

func (m *Metrics) Retry(executor string) {
	if m == nil {
		return
	}
	m.ExecutorRetries.WithLabelValues(executor).Inc()
}

func (m *Metrics) Breaker(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
