package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventual_outbox_events_total",
			Help: "Outbox events by stage",
		},
		[]string{"stage"}, // submitted|sent|failed
	)

	InboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventual_inbox_events_total",
			Help: "Inbound events by outcome",
		},
		[]string{"outcome"}, // handled|duplicate|failed|interrupted|redelivered|closed
	)

	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventual_sweep_duration_seconds",
			Help:    "Duration of outbox and redelivery sweeps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"}, // outbox|redelivery
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxEventsTotal,
		InboxEventsTotal,
		SweepDuration,
	)
}
