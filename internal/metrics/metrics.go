// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

// Package metrics exposes Prometheus metrics for investigation runs, tool
// dispatch and proposal transitions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/proposal"
)

const namespace = "tally"

// Metrics holds every collector. It implements agent.RunObserver and
// proposal.Observer.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunRounds       prometheus.Histogram
	RunDuration     *prometheus.HistogramVec
	ToolCallsTotal  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	ProposalsTotal  *prometheus.CounterVec
	ChatRateLimited prometheus.Counter
}

var (
	_ agent.RunObserver = (*Metrics)(nil)
	_ proposal.Observer = (*Metrics)(nil)
)

// New creates a Metrics on its own registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Investigation runs by outcome",
		}, []string{"outcome"}),
		RunRounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "run_rounds",
			Help:      "Model rounds used per run",
			Buckets:   prometheus.LinearBuckets(1, 1, agent.DefaultMaxIterations),
		}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "run_duration_seconds",
			Help:      "Wall time per run",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"outcome"}),
		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and result",
		}, []string{"tool", "result"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_duration_seconds",
			Help:      "Tool dispatch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ProposalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proposal",
			Name:      "transitions_total",
			Help:      "Proposal lifecycle transitions by action and proposal type",
		}, []string{"action", "type"}),
		ChatRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "chat_rate_limited_total",
			Help:      "Chat requests rejected by the rate limiter",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRun(outcome agent.Outcome, rounds int, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(string(outcome)).Inc()
	m.RunRounds.Observe(float64(rounds))
	m.RunDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTool(tool string, isError bool, elapsed time.Duration) {
	result := "ok"
	if isError {
		result = "error"
	}
	// Unknown names come from the model; keep label cardinality bounded.
	if _, ok := agent.ParseToolKind(tool); !ok {
		tool = "unknown"
	}
	m.ToolCallsTotal.WithLabelValues(tool, result).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransition(action proposal.AuditAction, t proposal.Type) {
	m.ProposalsTotal.WithLabelValues(string(action), string(t)).Inc()
}
