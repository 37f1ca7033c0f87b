package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Signals by outcome (accepted, rejected, unparsed, filtered).",
		},
		[]string{"outcome"},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_trades_closed_total",
			Help: "Trades reaching a terminal state.",
		},
		[]string{"exchange", "result"},
	)

	ActiveTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_active_trades",
			Help: "Reserved ticker/side keys.",
		},
	)

	ExchangeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exchange_errors_total",
			Help: "Failed exchange calls.",
		},
		[]string{"exchange", "op"},
	)

	WSReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_ws_reconnects_total",
			Help: "Price stream reconnects.",
		},
		[]string{"exchange", "market"},
	)

	SyncInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_sync_inserted_total",
			Help: "Trades imported from exchange history.",
		},
		[]string{"exchange"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_http_requests_total",
			Help: "Dashboard API requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_http_request_duration_seconds",
			Help:    "Dashboard API latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

var once sync.Once

// Register регистрирует коллекторы в default registry; повторный вызов — no-op.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(SignalsTotal, TradesClosed, ActiveTrades, ExchangeErrors, WSReconnects, SyncInserted,
			HTTPRequestsTotal, HTTPRequestDuration)
	})
}
