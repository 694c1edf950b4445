package signal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var envelopesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "callkit",
	Subsystem: "signal",
	Name:      "envelopes_dispatched_total",
	Help:      "Inbound signaling envelopes dispatched to subscribers, by event.",
}, []string{"event"})
