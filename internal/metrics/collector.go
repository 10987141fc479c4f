// Package metrics exposes the host's operational counters on a dedicated
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector collects and manages Prometheus metrics for the host.
// A nil Collector is valid and records nothing, so wiring it is optional.
type Collector struct {
	registry *prometheus.Registry
	logger   *logrus.Logger

	agentHealth     *prometheus.GaugeVec
	tasksDispatched *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
}

func NewCollector(logger *logrus.Logger) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		logger:   logger,

		agentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ensemble_agent_health",
			Help: "Registry health per remote agent (1 = reachable, 0 = unreachable)",
		}, []string{"agent"}),

		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ensemble_tasks_dispatched_total",
			Help: "Tasks dispatched per remote agent",
		}, []string{"agent"}),

		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ensemble_tasks_finished_total",
			Help: "Tasks finished per remote agent and terminal status",
		}, []string{"agent", "status"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ensemble_task_duration_seconds",
			Help:    "Wall-clock duration of completed tasks",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"agent"}),

		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ensemble_active_sessions",
			Help: "Currently open conversation sessions",
		}),
	}

	registry.MustRegister(
		c.agentHealth,
		c.tasksDispatched,
		c.tasksFinished,
		c.taskDuration,
		c.activeSessions,
	)

	return c
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// AgentHealth records whether a remote agent is currently reachable.
func (c *Collector) AgentHealth(agent string, reachable bool) {
	if c == nil {
		return
	}
	v := 0.0
	if reachable {
		v = 1.0
	}
	c.agentHealth.WithLabelValues(agent).Set(v)
}

// TaskDispatched counts one dispatch.
func (c *Collector) TaskDispatched(agent string) {
	if c == nil {
		return
	}
	c.tasksDispatched.WithLabelValues(agent).Inc()
}

// TaskFinished counts one terminal transition.
func (c *Collector) TaskFinished(agent, status string) {
	if c == nil {
		return
	}
	c.tasksFinished.WithLabelValues(agent, status).Inc()
}

// TaskDuration observes a completed task's duration.
func (c *Collector) TaskDuration(agent string, d time.Duration) {
	if c == nil {
		return
	}
	c.taskDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// SessionOpened increments the active session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}
