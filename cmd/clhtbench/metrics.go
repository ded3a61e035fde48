// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the counters and histograms clhtbench exposes over
// monitor's /metrics endpoint, grouped by operation the way spec.md
// §6.3's throughput lines (one per phase) are grouped by phase.
type metrics struct {
	registry *prometheus.Registry

	opsTotal  *prometheus.CounterVec
	opLatency *prometheus.HistogramVec
	phaseSecs *prometheus.GaugeVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clhtbench",
			Name:      "ops_total",
			Help:      "Number of hashtable operations performed, by op.",
		}, []string{"op"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clhtbench",
			Name:      "op_latency_seconds",
			Help:      "Per-operation latency.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
		}, []string{"op"}),
		phaseSecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clhtbench",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of the last load/run phase.",
		}, []string{"phase"}),
	}
	reg.MustRegister(m.opsTotal, m.opLatency, m.phaseSecs)
	return m
}

func (m *metrics) observe(op string, start time.Time) {
	m.opsTotal.WithLabelValues(op).Inc()
	m.opLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metrics) recordPhase(phase string, d time.Duration) {
	m.phaseSecs.WithLabelValues(phase).Set(d.Seconds())
}
