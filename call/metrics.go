package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "started_total",
		Help:      "Calls started or answered, by call type.",
	}, []string{"type"})

	callsConnected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "connected_total",
		Help:      "Calls that reached the connected state.",
	})

	callsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "failed_total",
		Help:      "Calls that ended in the failed state.",
	})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "callkit",
		Subsystem: "call",
		Name:      "reconnect_attempts_total",
		Help:      "ICE restart attempts made by the recovery protocol.",
	})
)
