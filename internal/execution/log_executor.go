package execution

import (
	"context"

	"github.com/rs/zerolog"
)

// LogExecutor logs orders and reports them filled at the reference price without touching a venue.
type LogExecutor struct{ log zerolog.Logger }

// NewLogExecutor wraps a zerolog logger for order submissions.
func NewLogExecutor(log zerolog.Logger) *LogExecutor { return &LogExecutor{log: log} }

func (e *LogExecutor) Name() string { return "log" }

// Place logs out the order request.
func (e *LogExecutor) Place(ctx context.Context, req OrderRequest) OrderResult {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	if err := req.Validate(); err != nil {
		return Failed(err)
	}
	id := NewOrderID()
	e.log.Info().
		Str("sym", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Float64("qty", req.Size).
		Float64("px", req.RefPrice).
		Str("order_id", id).
		Msg("submit order (log only)")
	return Filled(id, req.RefPrice, req.Size, 0)
}
