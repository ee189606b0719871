package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/metrics"
)

// Instrumented decorates an Executor with structured logs and the orders_total counter.
type Instrumented struct {
	next Executor
	log  zerolog.Logger
}

// Instrument wraps next.
func Instrument(next Executor, log zerolog.Logger) *Instrumented {
	return &Instrumented{next: next, log: log.With().Str("executor", next.Name()).Logger()}
}

func (i *Instrumented) Name() string { return i.next.Name() }

// Place forwards to the wrapped executor and records the outcome.
func (i *Instrumented) Place(ctx context.Context, req OrderRequest) OrderResult {
	start := time.Now()
	res := i.next.Place(ctx, req)
	status := "filled"
	if !res.OK {
		status = "failed"
	}
	metrics.OrdersTotal.WithLabelValues(req.Symbol, string(req.Side), status).Inc()

	if res.OK {
		i.log.Info().
			Str("sym", req.Symbol).
			Str("side", string(req.Side)).
			Str("order_id", res.OrderID).
			Float64("qty", res.FilledSize).
			Float64("px", res.FilledPrice).
			Float64("pnl", res.RealizedPnL).
			Dur("latency", time.Since(start)).
			Msg("order filled")
	} else {
		i.log.Warn().
			Err(res.Err).
			Str("sym", req.Symbol).
			Str("side", string(req.Side)).
			Float64("qty", req.Size).
			Dur("latency", time.Since(start)).
			Msg("order failed")
	}
	return res
}
