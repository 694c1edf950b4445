package group

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	groupCallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "group",
		Name:      "calls_started_total",
		Help:      "Group calls started as host.",
	})

	participantsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "callkit",
		Subsystem: "group",
		Name:      "participants",
		Help:      "Remote participants in the current group call.",
	})
)
