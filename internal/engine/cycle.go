package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/exchange"
	"github.com/denniswon/modular-trading-agent/internal/execution"
	"github.com/denniswon/modular-trading-agent/internal/metrics"
	"github.com/denniswon/modular-trading-agent/internal/risk"
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

var errPanic = errors.New("panic")

// OutcomeStatus summarises how a cycle ended.
type OutcomeStatus string

const (
	OutcomeExecuted  OutcomeStatus = "executed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSuspended OutcomeStatus = "suspended"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Outcome records one cycle for one symbol.
type Outcome struct {
	Symbol string
	Status OutcomeStatus
	Stage  Stage // stage the cycle ended in
	Reason string
	Signal sig.Signal
	Size   float64
	Order  *execution.OrderRequest
	Result *execution.OrderResult
	Stale  bool
	Err    error
	Ts     time.Time
}

type fetchFunc func(ctx context.Context) (snap sig.Snapshot, stale bool, err error)

type checkFunc func(ctx context.Context) error

// Cycle runs a single pull-mode cycle for symbol.
func (o *Orchestrator) Cycle(ctx context.Context, src Producer, symbol string) Outcome {
	return o.runCycle(ctx, symbol, o.pullFetch(src, symbol), src.Check)
}

func (o *Orchestrator) runCycle(ctx context.Context, symbol string, fetch fetchFunc, check checkFunc) (out Outcome) {
	l := o.lineage(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()

	out = Outcome{Symbol: symbol, Ts: o.now()}
	defer func() { o.emit(out) }()
	defer func() {
		if r := recover(); r != nil {
			out = o.fail(l, out, l.stage, fmt.Errorf("%w: %v", errPanic, r))
		}
	}()

	if ctx.Err() != nil {
		return o.abandon(l, out, l.stage)
	}
	if l.suspended && !o.tryResume(ctx, l, check) {
		return o.held(ctx, out, "awaiting successful health check")
	}
	if run, down := o.sourceDown(); down {
		o.suspend(l, fmt.Sprintf("%d consecutive failed health checks", run))
		return o.held(ctx, out, "health check failing")
	}
	return o.cycle(ctx, l, fetch, out)
}

// held reports a cycle that did not run because the symbol is suspended.
func (o *Orchestrator) held(ctx context.Context, out Outcome, reason string) Outcome {
	out.Status = OutcomeSuspended
	out.Stage = StageSuspended
	out.Reason = reason
	if ctx.Err() == nil {
		o.perf.RecordSkip()
	}
	return out
}

// sourceDown reports the source's failed-probe run and whether it reached FailureThreshold.
func (o *Orchestrator) sourceDown() (int, bool) {
	if o.health == nil {
		return 0, false
	}
	run := o.health.ProbeFailureRun()
	return run, run >= o.cfg.FailureThreshold
}

func (o *Orchestrator) cycle(ctx context.Context, l *lineage, fetch fetchFunc, out Outcome) Outcome {
	o.transition(l, StageFetching, "")
	snap, stale, err := fetch(ctx)
	if ctx.Err() != nil {
		return o.abandon(l, out, StageFetching)
	}
	if err != nil {
		return o.fail(l, out, StageFetching, err)
	}
	out.Stale = stale
	if stale {
		o.log.Warn().Str("symbol", l.symbol).Str("stage", string(StageFetching)).Str("reason", "stale_data").Msg("cycle using stale snapshot")
	}

	o.transition(l, StageSignaling, "")
	s := o.pipeline.Signal(snap)
	out.Signal = s

	o.transition(l, StageFiltering, "")
	decision := o.pipeline.Filter(snap, s)
	if !decision.Allowed {
		return o.skip(l, out, StageFiltering, "blocked by "+decision.BlockedBy)
	}
	if !s.Actionable() {
		return o.skip(l, out, StageFiltering, "flat signal")
	}
	if perf := o.perf.Snapshot(); o.cfg.Limits.Halted(perf.StartingEquity, perf.Equity) {
		return o.skip(l, out, StageFiltering, "kill switch engaged")
	}

	o.transition(l, StageSizing, "")
	entry := snap.LastClose()
	stop := risk.StopPrice(s.Side, entry, o.cfg.StopPct)
	size, err := risk.PositionSize(s, entry, stop, o.perf.Equity(), o.cfg.RiskFraction)
	if err != nil {
		return o.fail(l, out, StageSizing, err)
	}
	size = o.cfg.Limits.Clamp(size, entry)
	if size <= 0 {
		return o.skip(l, out, StageSizing, "zero size")
	}
	req, err := execution.NewOrderRequest(s, size, o.cfg.OrderType, o.limitPrice(s.Side, entry), entry)
	if err != nil {
		return o.fail(l, out, StageSizing, err)
	}
	out.Size = size
	out.Order = &req

	// nothing has been submitted yet, so cancellation here leaves no partial order
	if ctx.Err() != nil {
		return o.abandon(l, out, StageSizing)
	}

	o.transition(l, StageExecuting, "")
	execCtx, cancel := context.WithTimeout(ctx, o.cfg.ExecuteTimeout)
	res := o.executor.Place(execCtx, req)
	cancel()
	out.Result = &res
	if !res.OK {
		if ctx.Err() != nil {
			return o.abandon(l, out, StageExecuting)
		}
		err := res.Err
		if err == nil {
			err = execution.ErrExecutionFailed
		}
		if errors.Is(err, execution.ErrNoPosition) {
			return o.skip(l, out, StageExecuting, "no position")
		}
		return o.fail(l, out, StageExecuting, err)
	}

	o.transition(l, StageRecording, "")
	o.perf.RecordFill(res.RealizedPnL)
	metrics.EquityUSD.Set(o.perf.Equity())
	l.failures = 0
	out.Status = OutcomeExecuted
	out.Stage = StageRecording
	o.log.Info().
		Str("symbol", l.symbol).
		Str("side", string(req.Side)).
		Float64("size", res.FilledSize).
		Float64("price", res.FilledPrice).
		Float64("confidence", s.Confidence).
		Bool("stale", stale).
		Str("order_id", res.OrderID).
		Msg("order executed")
	o.transition(l, StageIdle, "")
	return out
}

func (o *Orchestrator) limitPrice(side sig.Side, entry float64) float64 {
	if o.cfg.OrderType != execution.Limit {
		return 0
	}
	if side == sig.Sell {
		return entry * (1 - o.cfg.LimitOffsetPct)
	}
	return entry * (1 + o.cfg.LimitOffsetPct)
}

func (o *Orchestrator) skip(l *lineage, out Outcome, stage Stage, reason string) Outcome {
	o.perf.RecordSkip()
	l.failures = 0
	out.Status = OutcomeSkipped
	out.Stage = stage
	out.Reason = reason
	ev := o.log.Debug()
	if out.Signal.Actionable() {
		ev = o.log.Info()
	}
	ev.Str("symbol", l.symbol).Str("stage", string(stage)).Str("reason", reason).Msg("cycle skipped")
	o.transition(l, StageIdle, reason)
	return out
}

func (o *Orchestrator) fail(l *lineage, out Outcome, stage Stage, err error) Outcome {
	reason := classify(err)
	o.transition(l, StageError, reason)
	o.perf.RecordFailure()
	metrics.StageFailuresTotal.WithLabelValues(l.symbol, string(stage)).Inc()
	l.failures++
	o.log.Warn().
		Err(err).
		Str("symbol", l.symbol).
		Str("stage", string(stage)).
		Str("reason", reason).
		Int("consecutive_failures", l.failures).
		Msg("cycle failed")

	out.Status = OutcomeFailed
	out.Stage = stage
	out.Reason = reason
	out.Err = err
	if l.failures >= o.cfg.FailureThreshold {
		o.suspend(l, fmt.Sprintf("%d consecutive failures", l.failures))
		return out
	}
	o.transition(l, StageIdle, reason)
	return out
}

func (o *Orchestrator) abandon(l *lineage, out Outcome, stage Stage) Outcome {
	out.Status = OutcomeCancelled
	out.Stage = stage
	out.Reason = "cancelled"
	if l.suspended {
		return out
	}
	o.transition(l, StageIdle, "cancelled")
	return out
}

// suspend parks l and asks a pausing source to stop fetching for it; callers hold l.mu.
func (o *Orchestrator) suspend(l *lineage, reason string) {
	l.suspended = true
	o.transition(l, StageSuspended, reason)
	if o.pauser != nil {
		o.pauser.Pause(l.symbol)
	}
}

// tryResume runs the health check; a symbol stays suspended while either the
// check fails or the source's probe run is still at the threshold.
func (o *Orchestrator) tryResume(ctx context.Context, l *lineage, check checkFunc) bool {
	if check != nil {
		if err := check(ctx); err != nil {
			o.log.Debug().Err(err).Str("symbol", l.symbol).Msg("still suspended")
			return false
		}
	}
	if run, down := o.sourceDown(); down {
		o.log.Debug().Str("symbol", l.symbol).Int("probe_failure_run", run).Msg("still suspended")
		return false
	}
	l.suspended = false
	l.failures = 0
	o.transition(l, StageIdle, "health check succeeded")
	if o.pauser != nil {
		o.pauser.Resume(l.symbol)
	}
	return true
}

// pullFetch produces a snapshot, merges it into the rolling window and applies the stale policy.
func (o *Orchestrator) pullFetch(src Producer, symbol string) fetchFunc {
	return func(ctx context.Context) (sig.Snapshot, bool, error) {
		snap, err := src.Produce(ctx, symbol)
		stale := false
		if err != nil {
			last, ok := exchange.LastGoodSnapshot(err)
			if !ok || !o.cfg.UseStaleData {
				return sig.Snapshot{}, false, err
			}
			snap, stale = last, true
		}
		return o.checkAge(o.window.Merge(snap), stale)
	}
}

func (o *Orchestrator) checkAge(snap sig.Snapshot, stale bool) (sig.Snapshot, bool, error) {
	if o.cfg.MaxStaleness <= 0 {
		return snap, stale, nil
	}
	if age := snap.Age(o.now()); age > o.cfg.MaxStaleness {
		if !o.cfg.UseStaleData {
			return sig.Snapshot{}, false, fmt.Errorf("%w: %s old, limit %s", ErrStaleData, age.Round(time.Millisecond), o.cfg.MaxStaleness)
		}
		stale = true
	}
	return snap, stale, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrStaleData):
		return "stale_data"
	case errors.Is(err, exchange.ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, risk.ErrInvalidStopDistance):
		return "invalid_stop_distance"
	case errors.Is(err, execution.ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, execution.ErrExecutionFailed):
		return "execution_failed"
	case errors.Is(err, errPanic):
		return "panic"
	default:
		return "error"
	}
}
