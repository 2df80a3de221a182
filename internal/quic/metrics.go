// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level metrics, registered against the default registry via
// promauto the way m-lab's tcp-info exporter wires its gauges: a fixed set
// of vectors labeled by connection side, updated from the connection event
// loop rather than scraped by reaching into connection state.
var (
	connsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "connections_opened_total",
		Help:      "Connections created, by side.",
	}, []string{"side"})

	connsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "connections_closed_total",
		Help:      "Connections closed, by side and reason.",
	}, []string{"side", "reason"})

	packetsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "packets_sent_total",
		Help:      "Packets sent, by number space.",
	}, []string{"space"})

	packetsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "packets_lost_total",
		Help:      "Packets declared lost, by number space.",
	}, []string{"space"})

	congestionWindow = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quic",
		Name:      "congestion_window_bytes",
		Help:      "Current congestion window, by side (last value set by any connection on that side).",
	}, []string{"side"})

	smoothedRTT = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quic",
		Name:      "smoothed_rtt_seconds",
		Help:      "Smoothed round-trip time estimate, by side (last value set by any connection on that side).",
	}, []string{"side"})
)

func (s connSide) metricLabel() string {
	if s == clientSide {
		return "client"
	}
	return "server"
}
