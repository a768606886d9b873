// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "escola"

var (
	// Scans counts badge scans by outcome (entrada, aguardando, nao_encontrado, invalido, erro).
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Badge scans processed at the front desk, by outcome.",
	}, []string{"outcome"})

	// ReleaseDecisions counts teacher decisions by status and whether an exit was committed.
	ReleaseDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "release_decisions_total",
		Help:      "Release decisions received from teachers.",
	}, []string{"status", "result"})

	PendingReleases = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_releases",
		Help:      "Guardian pickups waiting for a teacher decision.",
	})

	ReleasesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "releases_expired_total",
		Help:      "Pending releases dropped after their deadline.",
	})

	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_clients",
		Help:      "Connected websocket clients on this instance.",
	})

	RealtimeDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_dropped_total",
		Help:      "Realtime frames dropped because a buffer was full.",
	}, []string{"stage"})
)
