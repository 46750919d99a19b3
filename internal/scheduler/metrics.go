package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sendlater",
			Name:      "ticks_total",
			Help:      "Total scheduler ticks, by result.",
		},
		[]string{"result"},
	)
	messagesClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sendlater",
			Name:      "messages_claimed_total",
			Help:      "Total messages claimed for dispatch.",
		},
	)
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sendlater",
			Name:      "dispatches_total",
			Help:      "Total dispatch attempts, by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sendlater",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a single adapter dispatch.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
)
