package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeApplied           = "applied"
	outcomeDuplicate         = "duplicate"
	outcomeInsufficientFunds = "insufficient_funds"
	outcomeRejected          = "rejected"
	outcomeFailed            = "failed"
)

var (
	settlementAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_settlement_attempts_total",
			Help: "Settlement attempts by outcome. Applied is counted once the unit commits, other outcomes per attempt",
		},
		[]string{"outcome"},
	)

	unitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_unit_retries_total",
			Help: "Atomic units attempted again after transient failure",
		},
	)

	unitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_unit_failures_total",
			Help: "Atomic units that gave up, by kind of failure",
		},
		[]string{"kind"},
	)

	unitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_unit_attempt_duration_seconds",
			Help:    "Duration of single atomic unit attempt",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
	)
)
