// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package gateway

import "github.com/prometheus/client_golang/prometheus"

// CodeSuccess labels successful verdicts.
const CodeSuccess = "OK"

// Verdicts counts verdicts by code.
// Use RegisterMetrics to register this with a Prometheus registry.
var Verdicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridgemc_gateway_verdicts_total",
		Help: "Total number of gateway verdicts",
	},
	[]string{"code"},
)

// Duration is the histogram of request handling time.
// Use RegisterMetrics to register this with a Prometheus registry.
var Duration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "bridgemc_gateway_duration_seconds",
		Help:    "Gateway request handling duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"code"},
)

// Rejections counts rejected requests by the stage that rejected them.
// Use RegisterMetrics to register this with a Prometheus registry.
var Rejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridgemc_gateway_rejections_total",
		Help: "Total number of rejected gateway requests",
	},
	[]string{"stage"},
)

// RegisterMetrics registers gateway metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Verdicts)
	reg.MustRegister(Duration)
	reg.MustRegister(Rejections)
}

// RecordVerdict records one verdict.
func RecordVerdict(v Verdict) {
	code := v.Code()
	if code == "" {
		code = CodeSuccess
	}
	Verdicts.WithLabelValues(code).Inc()
	Duration.WithLabelValues(code).Observe(v.Duration.Seconds())
	if !v.OK() {
		Rejections.WithLabelValues(v.Stage.String()).Inc()
	}
}

