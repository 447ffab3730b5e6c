package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkoutsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "checkouts_total",
			Help:      "Total checkout attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	statusUpdatesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "status_updates_total",
			Help:      "Status updates funnelled through the reconciler, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	expiryChecksCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "expiry_checks_fired_total",
			Help:      "Expiry-triggered status verifications fired.",
		},
	)
	approvalDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "payments",
			Name:      "approval_age_seconds",
			Help:      "Age of manual payments at the moment of approval or rejection.",
			Buckets:   prometheus.ExponentialBuckets(60, 4, 8),
		},
	)
)
