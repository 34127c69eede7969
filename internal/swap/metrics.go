package swap

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_attempts_total",
			Help: "Quote/sign/submit attempts by side, slippage level and result",
		},
		[]string{"side", "slippage_bps", "result"}, // result: ok|slippage|error
	)

	mtxOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_outcomes_total",
			Help: "Completed swap requests by side and outcome (full|partial|failed)",
		},
		[]string{"side", "outcome"},
	)

	mtxSplits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_splits_total",
			Help: "Orders split in half after the slippage ladder was exhausted",
		},
		[]string{"side"},
	)

	mtxUnconfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_balance_unconfirmed_total",
			Help: "Fills whose realized amount fell back to the quote",
		},
		[]string{"side"},
	)

	mtxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swap_duration_seconds",
			Help:    "Wall time of a buy or sell including confirmation waits",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(mtxAttempts, mtxOutcomes, mtxSplits, mtxUnconfirmed, mtxDuration)
}
