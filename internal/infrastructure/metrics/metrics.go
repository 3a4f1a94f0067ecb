// Package metrics exposes Prometheus metrics for the task queue and ops API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

const namespace = "printshop"

// QueueMetrics implements queue.Observer and records queue depth
type QueueMetrics struct {
	enqueued     *prometheus.CounterVec
	completed    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	failed       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	depth        *prometheus.GaugeVec
}

// NewQueueMetrics creates the queue collectors and registers them on reg
func NewQueueMetrics(reg prometheus.Registerer) (*QueueMetrics, error) {
	taskCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      name,
				Help:      help,
			},
			[]string{"task_type"},
		)
	}

	m := &QueueMetrics{
		enqueued:     taskCounter("tasks_enqueued_total", "Total number of tasks enqueued"),
		completed:    taskCounter("tasks_completed_total", "Total number of tasks completed"),
		retried:      taskCounter("tasks_retried_total", "Total number of failed attempts scheduled for retry"),
		deadLettered: taskCounter("tasks_dead_lettered_total", "Total number of tasks that exhausted their attempts"),
		failed:       taskCounter("tasks_failed_total", "Total number of tasks failed permanently"),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "task_duration_seconds",
				Help:      "Duration of successful task executions",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task_type"},
		),
		depth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of tasks per state",
			},
			[]string{"state"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.enqueued, m.completed, m.retried, m.deadLettered, m.failed, m.duration, m.depth,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *QueueMetrics) TaskEnqueued(taskType entity.TaskType) {
	m.enqueued.WithLabelValues(taskType.String()).Inc()
}

func (m *QueueMetrics) TaskCompleted(taskType entity.TaskType, d time.Duration) {
	m.completed.WithLabelValues(taskType.String()).Inc()
	m.duration.WithLabelValues(taskType.String()).Observe(d.Seconds())
}

func (m *QueueMetrics) TaskRetried(taskType entity.TaskType) {
	m.retried.WithLabelValues(taskType.String()).Inc()
}

func (m *QueueMetrics) TaskDeadLettered(taskType entity.TaskType) {
	m.deadLettered.WithLabelValues(taskType.String()).Inc()
}

func (m *QueueMetrics) TaskFailed(taskType entity.TaskType) {
	m.failed.WithLabelValues(taskType.String()).Inc()
}

// SetDepth publishes the current task count for every state
func (m *QueueMetrics) SetDepth(depth map[entity.TaskState]int) {
	for _, s := range entity.AllTaskStates {
		m.depth.WithLabelValues(s.String()).Set(float64(depth[s]))
	}
}
