// Package engine drives the fetch → signal → filter → size → execute → record cycle.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/execution"
	"github.com/denniswon/modular-trading-agent/internal/metrics"
	"github.com/denniswon/modular-trading-agent/internal/pipeline"
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
	"github.com/denniswon/modular-trading-agent/internal/state"
)

// ErrStaleData marks a snapshot older than the configured staleness bound.
var ErrStaleData = errors.New("stale data")

// Stage is a point in a symbol's cycle.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageFetching  Stage = "fetching"
	StageSignaling Stage = "signaling"
	StageFiltering Stage = "filtering"
	StageSizing    Stage = "sizing"
	StageExecuting Stage = "executing"
	StageRecording Stage = "recording"
	StageError     Stage = "error"
	StageSuspended Stage = "suspended"
	StageStopped   Stage = "stopped"
)

// Transition is reported to hooks whenever a symbol changes stage.
type Transition struct {
	Symbol string
	From   Stage
	To     Stage
	Reason string
	Ts     time.Time
}

// TransitionHook observes stage changes. Hooks run on the symbol's goroutine and must not block.
type TransitionHook func(Transition)

// OutcomeSink receives one Outcome per finished cycle.
type OutcomeSink func(Outcome)

// Producer is a pull-mode data source (exchange.Adapter).
type Producer interface {
	Name() string
	Produce(ctx context.Context, symbol string) (sig.Snapshot, error)
	Check(ctx context.Context) error
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithTransitionHook registers a stage-change observer.
func WithTransitionHook(h TransitionHook) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.hooks = append(o.hooks, h)
		}
	}
}

// WithOutcomeSink registers a per-cycle outcome consumer.
func WithOutcomeSink(s OutcomeSink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithPerformance shares an existing performance tracker.
func WithPerformance(p *state.Performance) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.perf = p
		}
	}
}

// WithHealth shares the data source's health state. It is reported through
// Status, and a run of failed probes reaching FailureThreshold suspends symbols.
func WithHealth(h *state.Health) Option {
	return func(o *Orchestrator) { o.health = h }
}

// WithClock overrides the time source used for staleness checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator owns per-symbol lineages and the shared performance state.
type Orchestrator struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	executor execution.Executor
	perf     *state.Performance
	health   *state.Health
	window   *sig.Window
	log      zerolog.Logger
	now      func() time.Time
	hooks    []TransitionHook
	sinks    []OutcomeSink
	pauser   symbolPauser // set by RunStream when the subscriber can pause

	mu       sync.Mutex
	lineages map[string]*lineage
}

// lineage serialises the cycles of one symbol.
type lineage struct {
	symbol  string
	current atomic.Value // Stage, readable while a cycle holds mu

	mu        sync.Mutex
	stage     Stage
	failures  int
	suspended bool
}

// New validates cfg and builds an orchestrator.
func New(cfg Config, p *pipeline.Pipeline, exec execution.Executor, log zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("engine requires a pipeline")
	}
	if exec == nil {
		return nil, errors.New("engine requires an executor")
	}
	windowSize := cfg.WindowSize
	if windowSize > 0 && windowSize < p.Lookback() {
		windowSize = p.Lookback()
	}
	o := &Orchestrator{
		cfg:      cfg,
		pipeline: p,
		executor: exec,
		window:   sig.NewWindow(windowSize),
		log:      log.With().Str("component", "engine").Logger(),
		now:      time.Now,
		lineages: make(map[string]*lineage),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.perf == nil {
		o.perf = state.NewPerformance(cfg.Equity)
	}
	metrics.EquityUSD.Set(o.perf.Equity())
	return o, nil
}

// Config returns the validated configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Performance exposes the shared performance tracker.
func (o *Orchestrator) Performance() *state.Performance { return o.perf }

// Window exposes the rolling candle history.
func (o *Orchestrator) Window() *sig.Window { return o.window }

// Status is a point-in-time view for /status.
type Status struct {
	Performance state.PerformanceSnapshot `json:"performance"`
	Health      *state.HealthSnapshot     `json:"health,omitempty"`
	Symbols     map[string]Stage          `json:"symbols"`
}

// Status reports performance, health and the current stage of every symbol.
func (o *Orchestrator) Status() Status {
	st := Status{Performance: o.perf.Snapshot(), Symbols: map[string]Stage{}}
	if o.health != nil {
		hs := o.health.Snapshot()
		st.Health = &hs
	}
	o.mu.Lock()
	lines := make([]*lineage, 0, len(o.lineages))
	for _, l := range o.lineages {
		lines = append(lines, l)
	}
	o.mu.Unlock()
	for _, l := range lines {
		st.Symbols[l.symbol] = l.currentStage()
	}
	return st
}

// Stage returns the current stage of symbol, or idle if it never ran.
func (o *Orchestrator) Stage(symbol string) Stage {
	o.mu.Lock()
	l, ok := o.lineages[symbol]
	o.mu.Unlock()
	if !ok {
		return StageIdle
	}
	return l.currentStage()
}

func (o *Orchestrator) lineage(symbol string) *lineage {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.lineages[symbol]
	if !ok {
		l = &lineage{symbol: symbol, stage: StageIdle}
		l.publishStage(StageIdle)
		o.lineages[symbol] = l
	}
	return l
}

func (o *Orchestrator) symbolsSeen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.lineages))
	for sym := range o.lineages {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// currentStage reads the stage without waiting for an in-flight cycle.
func (l *lineage) currentStage() Stage {
	if v, ok := l.current.Load().(Stage); ok {
		return v
	}
	return StageIdle
}

func (l *lineage) publishStage(s Stage) { l.current.Store(s) }

// transition moves l to stage; callers hold l.mu.
func (o *Orchestrator) transition(l *lineage, to Stage, reason string) {
	from := l.stage
	if from == to {
		return
	}
	l.stage = to
	l.publishStage(to)
	tr := Transition{Symbol: l.symbol, From: from, To: to, Reason: reason, Ts: o.now()}

	switch {
	case to == StageSuspended:
		metrics.SymbolSuspended.WithLabelValues(l.symbol).Set(1)
		o.log.Warn().Str("symbol", l.symbol).Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("symbol suspended")
	case from == StageSuspended:
		metrics.SymbolSuspended.WithLabelValues(l.symbol).Set(0)
		o.log.Info().Str("symbol", l.symbol).Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("symbol resumed")
	case to == StageStopped:
		o.log.Info().Str("symbol", l.symbol).Str("from", string(from)).Msg("symbol stopped")
	default:
		o.log.Trace().Str("symbol", l.symbol).Str("from", string(from)).Str("to", string(to)).Msg("stage")
	}
	for _, h := range o.hooks {
		h(tr)
	}
}

// stop moves every known lineage to STOPPED once its in-flight cycle finishes.
func (o *Orchestrator) stop(reason string) {
	for _, sym := range o.symbolsSeen() {
		l := o.lineage(sym)
		l.mu.Lock()
		o.transition(l, StageStopped, reason)
		l.mu.Unlock()
	}
}

func (o *Orchestrator) emit(out Outcome) {
	metrics.CyclesTotal.WithLabelValues(out.Symbol, string(out.Status)).Inc()
	for _, s := range o.sinks {
		s(out)
	}
}

func stopReason(ctx context.Context, fallback string) string {
	switch {
	case ctx.Err() == nil:
		return fallback
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "duration elapsed"
	default:
		return "cancelled"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
