// Package metrics registers the Prometheus instrumentation for chlb.
// Field names are adapted from the teacher's internal/metrics.go, which
// tracked per-service HTTP counters for a path-routed reverse proxy; here
// there is one fleet, so the labels key on backend and outcome instead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts GET /<key> outcomes by result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chlb_requests_total",
			Help: "Total number of routed key requests by outcome",
		},
		[]string{"outcome"}, // ok, no_healthy_backends, upstream_unreachable, bad_request
	)

	// RequestDurationSeconds measures end-to-end proxy latency.
	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chlb_request_duration_seconds",
			Help:    "Duration of routed key requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// RingRebuildsTotal counts ring rebuilds completed through
	// POST /trigger_rebuild; rebuilds started by the control loop, by an
	// upstream failure, or at startup are not counted.
	RingRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chlb_ring_rebuilds_total",
			Help: "Total number of ring rebuilds completed via POST /trigger_rebuild",
		},
	)

	// RingSize is the number of vnodes in the ring as of the last
	// successful POST /trigger_rebuild; other rebuilds do not update it.
	RingSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chlb_ring_size",
			Help: "Number of vnodes in the consistent hash ring after the last POST /trigger_rebuild",
		},
	)

	// BackendWeight is the most recently computed weight of a backend.
	BackendWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chlb_backend_weight",
			Help: "Current weight of a backend",
		},
		[]string{"backend"},
	)

	// BackendHealthy is 1 if a backend's last health probe was HEALTHY.
	BackendHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chlb_backend_healthy",
			Help: "1 if the backend's last health probe was HEALTHY, else 0",
		},
		[]string{"backend"},
	)

	// BackendLoadCount mirrors each backend's load_count counter.
	BackendLoadCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chlb_backend_load_count",
			Help: "Number of requests successfully proxied to a backend",
		},
		[]string{"backend"},
	)
)
