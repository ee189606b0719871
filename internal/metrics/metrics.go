// Package metrics exposes Prometheus collectors shared by the trading loop.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market snapshots and ticks ingested"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side", "status"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Completed orchestrator cycles by outcome"},
		[]string{"symbol", "outcome"},
	)
	StageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stage_failures_total", Help: "Cycle failures by stage"},
		[]string{"symbol", "stage"},
	)
	SymbolSuspended = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "symbol_suspended", Help: "1 while a symbol is suspended after repeated failures"},
		[]string{"symbol"},
	)
	DiscoveredSymbols = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "discovered_symbols", Help: "Pairs admitted by the last discovery pass"},
	)
	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "equity_usd", Help: "Current paper or live equity in USD"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, OrdersTotal, CyclesTotal, StageFailuresTotal, SymbolSuspended, DiscoveredSymbols, EquityUSD)
}

// StatusFunc returns a JSON-serialisable view of process state.
type StatusFunc func() any

// StatusHandler renders the result of fn as JSON.
func StatusHandler(fn StatusFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if fn == nil {
			_, _ = w.Write([]byte("{}"))
			return
		}
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// Serve exposes /metrics and, when status is non-nil, /status on addr.
func Serve(addr string, status StatusFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if status != nil {
		mux.Handle("/status", StatusHandler(status))
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
