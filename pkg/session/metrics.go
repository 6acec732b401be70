package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// activeSessions tracks slots currently in the Active state.
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rosguard",
		Subsystem: "safe_mode",
		Name:      "active_sessions",
		Help:      "Safe mode sessions currently active",
	})

	// rollbacks counts abandoned sessions.
	// Labels: reason (command, logs, probe, deadline, panic, canceled, exit)
	rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rosguard",
		Subsystem: "safe_mode",
		Name:      "rollbacks_total",
		Help:      "Safe mode sessions rolled back, by first failing check",
	}, []string{"reason"})
)
