// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the noise generator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts dispatched tasks by engine and outcome (ok, skipped, error).
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poisson",
			Name:      "tasks_total",
			Help:      "Total tasks dispatched, by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	// SessionsTotal counts started sessions by engine.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poisson",
			Name:      "sessions_total",
			Help:      "Total sessions started, by engine",
		},
		[]string{"engine"},
	)

	// ActiveSessions tracks sessions currently holding a slot.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poisson",
			Name:      "active_sessions",
			Help:      "Sessions currently occupying a concurrency slot",
		},
	)

	// BytesTotal counts bytes generated per engine.
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poisson",
			Name:      "bytes_total",
			Help:      "Total bytes of generated traffic, by engine",
		},
		[]string{"engine"},
	)

	// BandwidthWindowBytes reports the rolling-window byte total the
	// governor admits against.
	BandwidthWindowBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poisson",
			Name:      "bandwidth_window_bytes",
			Help:      "Bytes consumed within the rolling bandwidth window",
		},
	)

	// GovernorRejects counts admission rejections by reason (bandwidth, slots).
	GovernorRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poisson",
			Name:      "governor_rejects_total",
			Help:      "Tasks rejected by admission control, by reason",
		},
		[]string{"reason"},
	)

	// InvariantViolations counts recovered internal invariant violations
	// (e.g. slot leaks). Zero in clean runs.
	InvariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poisson",
			Name:      "invariant_violations_total",
			Help:      "Detected and recovered internal invariant violations",
		},
		[]string{"kind"},
	)

	// TorStatus reports the SOCKS probe state (0 disabled, 1 connecting,
	// 2 connected, 3 offline).
	TorStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poisson",
			Name:      "tor_status",
			Help:      "Tor SOCKS proxy status (0=disabled 1=connecting 2=connected 3=offline)",
		},
	)

	// NextEventETA reports seconds until the next scheduled session start.
	NextEventETA = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poisson",
			Name:      "next_event_eta_seconds",
			Help:      "Seconds until the next scheduled session start",
		},
	)
)
