// Package metrics exposes the host's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawden",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Dispatched agent requests by action and result.",
	}, []string{"action", "result"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clawden",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Handler latency by action.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	ScanVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawden",
		Subsystem: "scanner",
		Name:      "verdicts_total",
		Help:      "Scanner verdicts by direction and verdict.",
	}, []string{"direction", "verdict"})

	TaintDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawden",
		Subsystem: "taint",
		Name:      "denials_total",
		Help:      "Actions denied by the taint budget.",
	}, []string{"action"})

	SandboxRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawden",
		Subsystem: "sandbox",
		Name:      "runs_total",
		Help:      "Sandbox executions by backend and outcome.",
	}, []string{"backend", "outcome"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawden",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Completions requests by status code class.",
	}, []string{"code"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clawden",
		Subsystem: "bus",
		Name:      "queue_depth",
		Help:      "Undelivered inbound messages.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
