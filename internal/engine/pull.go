package engine

import (
	"context"
	"errors"
)

// RunPull processes one symbol per iteration, round-robin, sleeping Interval
// between iterations. The source's health probe runs at the start of every
// round. It returns once the iteration budget is spent, Duration elapses or
// ctx ends; every lineage finishes in STOPPED.
func (o *Orchestrator) RunPull(ctx context.Context, src Producer) error {
	if src == nil {
		return errors.New("pull mode requires a producer")
	}
	ctx, cancel := o.bound(ctx)
	defer cancel()

	for _, sym := range o.cfg.Symbols {
		o.lineage(sym)
	}
	o.log.Info().
		Str("source", src.Name()).
		Strs("symbols", o.cfg.Symbols).
		Dur("interval", o.cfg.Interval).
		Int("iterations", o.cfg.Iterations).
		Msg("pull loop started")

	budget := o.cfg.Iterations
	for i := 0; budget == 0 || i < budget; i++ {
		if ctx.Err() != nil {
			break
		}
		if i%len(o.cfg.Symbols) == 0 {
			o.probe(ctx, src)
		}
		o.Cycle(ctx, src, o.cfg.Symbols[i%len(o.cfg.Symbols)])
		if budget > 0 && i == budget-1 {
			break
		}
		if err := sleepCtx(ctx, o.cfg.Interval); err != nil {
			break
		}
	}

	reason := stopReason(ctx, "iteration budget exhausted")
	o.stop(reason)
	perf := o.perf.Snapshot()
	o.log.Info().
		Str("reason", reason).
		Int("cycles", perf.Cycles).
		Int("trades", perf.TradeCount).
		Int("failures", perf.Failures).
		Float64("equity", perf.Equity).
		Msg("pull loop stopped")
	return nil
}

func (o *Orchestrator) probe(ctx context.Context, src Producer) {
	if err := src.Check(ctx); err != nil && ctx.Err() == nil {
		o.log.Debug().Err(err).Str("source", src.Name()).Msg("health probe failed")
	}
}

func (o *Orchestrator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.Duration > 0 {
		return context.WithTimeout(ctx, o.cfg.Duration)
	}
	return context.WithCancel(ctx)
}
