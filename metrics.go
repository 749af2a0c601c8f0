// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package imsmedia

import (
	"github.com/prometheus/client_golang/prometheus"
)

// managerMetrics are the per manager quality counters. They live on a
// dedicated registry owned by the manager; exposing it is the caller's
// choice, the engine never serves HTTP itself.
type managerMetrics struct {
	registry *prometheus.Registry

	rxStatus   *prometheus.CounterVec
	bufferFill *prometheus.GaugeVec
	events     *prometheus.CounterVec
	rtcpRTT    prometheus.Histogram
}

func newManagerMetrics(mediaType string) *managerMetrics {
	m := &managerMetrics{
		registry: prometheus.NewRegistry(),
		rxStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imsmedia",
			Subsystem: mediaType,
			Name:      "rx_packets_total",
			Help:      "Received packets by jitter buffer status.",
		}, []string{"status"}),
		bufferFill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "imsmedia",
			Subsystem: mediaType,
			Name:      "jitter_buffer_fill",
			Help:      "Current jitter buffer occupancy in packets.",
		}, []string{"session"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imsmedia",
			Subsystem: mediaType,
			Name:      "events_total",
			Help:      "Stack events emitted toward the client.",
		}, []string{"event"}),
		rtcpRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imsmedia",
			Subsystem: mediaType,
			Name:      "rtcp_rtt_seconds",
			Help:      "Round trip time derived from LSR/DLSR.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
	m.registry.MustRegister(m.rxStatus, m.bufferFill, m.events, m.rtcpRTT)
	return m
}

// Registry exposes the manager's metric registry for scraping.
func (m *managerMetrics) Registry() *prometheus.Registry { return m.registry }
