package trading

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxOpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "positions_open",
		Help: "Positions currently monitored",
	})
	mtxTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_ticks_total",
		Help: "Monitor ticks by result",
	}, []string{"result"})
	mtxExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "position_exits_total",
		Help: "Closed positions by reason",
	}, []string{"reason"})
	mtxRungs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "take_profit_rungs_total",
		Help: "Take-profit rungs fired by bucket",
	}, []string{"bucket"})
	mtxSellFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_sell_failures_total",
		Help: "Monitor sells that failed or filled partially",
	}, []string{"kind", "outcome"})
	mtxSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_total",
		Help: "Signals by intake decision",
	}, []string{"decision"})
	mtxBuyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intake_buy_seconds",
		Help:    "Signal to open position latency",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})
)

func init() {
	prometheus.MustRegister(mtxOpenPositions, mtxTicks, mtxExits, mtxRungs, mtxSellFailures, mtxSignals, mtxBuyLatency)
}
