// Package metrics exposes the engine's Prometheus collectors.
//
//   - engine_cycles_total / engine_cycle_seconds     driver loop health
//   - engine_orders_total{kind,result}               broker submissions
//   - engine_order_retries_total{kind}               scheduled retries
//   - engine_order_give_ups_total{kind}              exhausted retries
//   - engine_signals_total{result}                   polled signals
//   - engine_take_profit_total{stage}                ladder firings
//   - engine_realized_profit{symbol}                 ledger value
//   - engine_equity / engine_balance                 account snapshot
//   - engine_trading_stopped                         1 while halted
//
// Collectors are registered in init() and served at /metrics by the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_cycles_total",
		Help: "Driver cycles completed",
	})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_cycle_seconds",
		Help:    "Wall time of one driver cycle",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	Orders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_total",
		Help: "Broker submissions by request kind and result",
	}, []string{"kind", "result"})

	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_order_retries_total",
		Help: "Retries scheduled after a failed submission",
	}, []string{"kind"})

	GiveUps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_order_give_ups_total",
		Help: "Operations dropped after exhausting retries",
	}, []string{"kind"})

	Signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_signals_total",
		Help: "Signals polled, by result (routed, malformed, skipped)",
	}, []string{"result"})

	TakeProfits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_take_profit_total",
		Help: "Take-profit ladder firings by stage",
	}, []string{"stage"})

	RealizedProfit = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_realized_profit",
		Help: "Realized profit ledger per symbol",
	}, []string{"symbol"})

	Equity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_equity",
		Help: "Account equity at the last cycle",
	})

	Balance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_balance",
		Help: "Account balance at the last cycle",
	})

	TradingStopped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_trading_stopped",
		Help: "1 while trading is halted by the daily profit target",
	})
)

func init() {
	prometheus.MustRegister(
		Cycles, CycleDuration,
		Orders, Retries, GiveUps,
		Signals, TakeProfits,
		RealizedProfit, Equity, Balance, TradingStopped,
	)
}

// Handler serves the default registry in text exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge converts a flag to a gauge value
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
