// Package metrics exposes Prometheus instrumentation for the turn runtime.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry and the runtime's metric vectors.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal         *prometheus.CounterVec
	turnDuration       *prometheus.HistogramVec
	stepsTotal         *prometheus.CounterVec
	transfersTotal     *prometheus.CounterVec
	delegationsTotal   *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec
	statusUpdatesTotal *prometheus.CounterVec
	modelRetriesTotal  *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
}

// NewCollector creates a collector whose metrics are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns by outcome",
		}, []string{"graph", "outcome"}),
		turnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"graph"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_steps_total",
			Help:      "Total number of model steps taken by agents",
		}, []string{"graph", "agent"}),
		transfersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total number of agent transfers",
		}, []string{"graph", "from", "to"}),
		delegationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of delegated tasks by final status",
		}, []string{"graph", "agent", "status"}),
		delegationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_duration_seconds",
			Help:      "Delegated task duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"graph", "agent"}),
		statusUpdatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Total number of status update attempts by result",
		}, []string{"result"}),
		modelRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_retries_total",
			Help:      "Total number of retried model invocations",
		}, []string{"agent"}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "status"}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveTurn records a finished turn.
func (c *Collector) ObserveTurn(graphID string, success bool, dur time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.turnsTotal.WithLabelValues(graphID, outcome).Inc()
	c.turnDuration.WithLabelValues(graphID).Observe(dur.Seconds())
}

// IncStep records one model step.
func (c *Collector) IncStep(graphID, agentID string) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(graphID, agentID).Inc()
}

// IncTransfer records one transfer.
func (c *Collector) IncTransfer(graphID, from, to string) {
	if c == nil {
		return
	}
	c.transfersTotal.WithLabelValues(graphID, from, to).Inc()
}

// ObserveDelegation records a delegated task reaching a terminal status.
func (c *Collector) ObserveDelegation(graphID, agentID, status string, dur time.Duration) {
	if c == nil {
		return
	}
	c.delegationsTotal.WithLabelValues(graphID, agentID, status).Inc()
	c.delegationDuration.WithLabelValues(graphID, agentID).Observe(dur.Seconds())
}

// IncStatusUpdate records a status update attempt ("emitted", "failed", "skipped").
func (c *Collector) IncStatusUpdate(result string) {
	if c == nil {
		return
	}
	c.statusUpdatesTotal.WithLabelValues(result).Inc()
}

// IncModelRetry records one model retry.
func (c *Collector) IncModelRetry(agentID string) {
	if c == nil {
		return
	}
	c.modelRetriesTotal.WithLabelValues(agentID).Inc()
}

// IncHTTPRequest records one served HTTP request.
func (c *Collector) IncHTTPRequest(route string, status int) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
