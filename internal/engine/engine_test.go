package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denniswon/modular-trading-agent/internal/exchange"
	"github.com/denniswon/modular-trading-agent/internal/execution"
	"github.com/denniswon/modular-trading-agent/internal/filter"
	"github.com/denniswon/modular-trading-agent/internal/paper"
	"github.com/denniswon/modular-trading-agent/internal/pipeline"
	"github.com/denniswon/modular-trading-agent/internal/risk"
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
	"github.com/denniswon/modular-trading-agent/internal/state"
	"github.com/denniswon/modular-trading-agent/internal/strategy"
)

var baseTs = time.Unix(1_700_000_000, 0).UTC()

type constStrategy struct {
	side sig.Side
	conf float64
}

func (c constStrategy) Name() string  { return "const" }
func (c constStrategy) Lookback() int { return 1 }
func (c constStrategy) Generate(s sig.Snapshot) sig.Signal {
	last, _ := s.Last()
	return sig.NewSignal(s.Symbol, c.side, c.conf, last.Ts, nil)
}

type panicStrategy struct{}

func (panicStrategy) Name() string                     { return "panic" }
func (panicStrategy) Lookback() int                    { return 1 }
func (panicStrategy) Generate(sig.Snapshot) sig.Signal { panic("boom") }

type countingExecutor struct {
	calls atomic.Int64
	next  execution.Executor
}

func (c *countingExecutor) Name() string { return "counting" }
func (c *countingExecutor) Place(ctx context.Context, req execution.OrderRequest) execution.OrderResult {
	c.calls.Add(1)
	return c.next.Place(ctx, req)
}

// fakeProducer returns one new candle per call, or a DataUnavailableError for failing symbols.
type fakeProducer struct {
	mu       sync.Mutex
	price    float64
	fail     map[string]bool
	lastGood bool
	checkErr error
	calls    map[string]int
}

func newFakeProducer(price float64) *fakeProducer {
	return &fakeProducer{price: price, fail: map[string]bool{}, calls: map[string]int{}}
}

func (p *fakeProducer) Name() string { return "fake" }

func (p *fakeProducer) Produce(_ context.Context, symbol string) (sig.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[symbol]++
	n := p.calls[symbol]
	snap := sig.MustSnapshot(symbol, []sig.Candle{{
		Ts: baseTs.Add(time.Duration(n) * time.Minute), Open: p.price, High: p.price, Low: p.price, Close: p.price, Volume: 1,
	}})
	if p.fail[symbol] {
		du := &exchange.DataUnavailableError{Symbol: symbol, Err: errors.New("upstream down")}
		if p.lastGood {
			du.LastGood = &snap
		}
		return sig.Snapshot{}, du
	}
	return snap, nil
}

func (p *fakeProducer) Check(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkErr
}

func (p *fakeProducer) set(fn func(p *fakeProducer)) {
	p.mu.Lock()
	fn(p)
	p.mu.Unlock()
}

// scriptedProducer replays growing prefixes of a fixed candle series.
type scriptedProducer struct {
	candles []sig.Candle
	n       int
}

func (s *scriptedProducer) Name() string { return "scripted" }
func (s *scriptedProducer) Produce(_ context.Context, symbol string) (sig.Snapshot, error) {
	s.n++
	return sig.NewSnapshot(symbol, s.candles[:min(s.n, len(s.candles))])
}
func (s *scriptedProducer) Check(context.Context) error { return nil }

func uptrendCandles() []sig.Candle {
	out := make([]sig.Candle, 30)
	for i := range out {
		price := 100.0
		if i >= 20 {
			price = 100 + float64(i-19)
		}
		out[i] = sig.Candle{Ts: baseTs.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: 10}
	}
	return out
}

func testConfig(symbols ...string) Config {
	return Config{
		Symbols:          symbols,
		Mode:             ModePull,
		Interval:         time.Millisecond,
		Equity:           10_000,
		RiskFraction:     0.01,
		FailureThreshold: 2,
	}
}

func newOrchestrator(t *testing.T, cfg Config, s strategy.Strategy, exec execution.Executor, opts ...Option) *Orchestrator {
	t.Helper()
	p, err := pipeline.New(s, filter.NewConfidence(0.6))
	require.NoError(t, err)
	o, err := New(cfg, p, exec, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return o
}

type outcomeLog struct {
	mu  sync.Mutex
	all []Outcome
}

func (l *outcomeLog) sink(o Outcome) {
	l.mu.Lock()
	l.all = append(l.all, o)
	l.mu.Unlock()
}

func (l *outcomeLog) outcomes() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Outcome(nil), l.all...)
}

type transitionLog struct {
	mu  sync.Mutex
	all []Transition
}

func (l *transitionLog) hook(tr Transition) {
	l.mu.Lock()
	l.all = append(l.all, tr)
	l.mu.Unlock()
}

func (l *transitionLog) has(symbol string, from, to Stage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tr := range l.all {
		if tr.Symbol == symbol && tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

func TestEndToEndUptrendProducesSingleSizedPaperFill(t *testing.T) {
	cfg := testConfig("SYN")
	cfg.Equity = 50_000
	cfg.Iterations = 30
	log := &outcomeLog{}
	exec := paper.NewExecutor(paper.WithAccount(paper.NewAccount(cfg.Equity, 0)))
	o := newOrchestrator(t, cfg, strategy.NewSMACrossover(5, 20), exec, WithOutcomeSink(log.sink))

	require.NoError(t, o.RunPull(context.Background(), &scriptedProducer{candles: uptrendCandles()}))

	outcomes := log.outcomes()
	require.Len(t, outcomes, 30)
	var buys []Outcome
	for i, out := range outcomes {
		switch out.Signal.Side {
		case sig.Buy:
			buys = append(buys, out)
			assert.Equal(t, 20, i, "buy must land on the crossover candle")
		case sig.Flat:
			assert.Equal(t, OutcomeSkipped, out.Status)
		default:
			t.Fatalf("unexpected %s signal at %d", out.Signal.Side, i)
		}
	}
	require.Len(t, buys, 1)

	buy := buys[0]
	require.Equal(t, OutcomeExecuted, buy.Status)
	entry := 101.0
	stop := risk.StopPrice(sig.Buy, entry, 0.02)
	assert.InDelta(t, 98.98, stop, 1e-9)
	assert.InDelta(t, 500/(entry-stop), buy.Size, 1e-9)
	require.NotNil(t, buy.Result)
	assert.True(t, buy.Result.OK)
	assert.Equal(t, buy.Size, buy.Result.FilledSize)
	assert.Equal(t, entry, buy.Result.FilledPrice)
	assert.Equal(t, 1, o.Performance().Snapshot().TradeCount)
	assert.Equal(t, StageStopped, o.Stage("SYN"))
}

func TestFailuresSuspendSymbolUntilHealthCheckSucceeds(t *testing.T) {
	transitions := &transitionLog{}
	exec := &countingExecutor{next: paper.NewExecutor()}
	o := newOrchestrator(t, testConfig("BAD", "GOOD"), constStrategy{sig.Buy, 0.9}, exec, WithTransitionHook(transitions.hook))
	src := newFakeProducer(100)
	src.set(func(p *fakeProducer) {
		p.fail["BAD"] = true
		p.checkErr = errors.New("probe down")
	})
	ctx := context.Background()

	first := o.Cycle(ctx, src, "BAD")
	assert.Equal(t, OutcomeFailed, first.Status)
	assert.Equal(t, StageFetching, first.Stage)
	assert.Equal(t, "data_unavailable", first.Reason)
	assert.True(t, errors.Is(first.Err, exchange.ErrDataUnavailable))
	assert.Equal(t, StageIdle, o.Stage("BAD"))

	o.Cycle(ctx, src, "BAD")
	assert.Equal(t, StageSuspended, o.Stage("BAD"))
	assert.True(t, transitions.has("BAD", StageError, StageSuspended))

	good := o.Cycle(ctx, src, "GOOD")
	assert.Equal(t, OutcomeExecuted, good.Status, "other symbols keep trading")

	suspended := o.Cycle(ctx, src, "BAD")
	assert.Equal(t, OutcomeSuspended, suspended.Status)
	src.mu.Lock()
	assert.Equal(t, 2, src.calls["BAD"], "suspended symbol must not fetch")
	src.mu.Unlock()

	src.set(func(p *fakeProducer) {
		p.fail["BAD"] = false
		p.checkErr = nil
	})
	resumed := o.Cycle(ctx, src, "BAD")
	assert.Equal(t, OutcomeExecuted, resumed.Status)
	assert.True(t, transitions.has("BAD", StageSuspended, StageIdle))

	perf := o.Performance().Snapshot()
	assert.Equal(t, 2, perf.Failures)
	assert.Equal(t, 2, perf.TradeCount)
	assert.Equal(t, int64(2), exec.calls.Load())
}

func TestPanicInStrategyIsIsolated(t *testing.T) {
	o := newOrchestrator(t, testConfig("X"), panicStrategy{}, paper.NewExecutor())
	out := o.Cycle(context.Background(), newFakeProducer(10), "X")
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, StageSignaling, out.Stage)
	assert.Equal(t, "panic", out.Reason)
	assert.Equal(t, StageIdle, o.Stage("X"))
}

func TestStaleDataPolicy(t *testing.T) {
	src := newFakeProducer(100)
	src.set(func(p *fakeProducer) {
		p.fail["X"] = true
		p.lastGood = true
	})

	strict := newOrchestrator(t, testConfig("X"), constStrategy{sig.Buy, 0.9}, paper.NewExecutor())
	out := strict.Cycle(context.Background(), src, "X")
	assert.Equal(t, OutcomeFailed, out.Status)

	cfg := testConfig("X")
	cfg.UseStaleData = true
	lenient := newOrchestrator(t, cfg, constStrategy{sig.Buy, 0.9}, paper.NewExecutor())
	out = lenient.Cycle(context.Background(), src, "X")
	assert.Equal(t, OutcomeExecuted, out.Status)
	assert.True(t, out.Stale, "stale fallback must be flagged")
}

func TestMaxStalenessRejectsOldSnapshots(t *testing.T) {
	cfg := testConfig("X")
	cfg.MaxStaleness = time.Minute
	now := func() time.Time { return baseTs.Add(24 * time.Hour) }
	o := newOrchestrator(t, cfg, constStrategy{sig.Buy, 0.9}, paper.NewExecutor(), WithClock(now))
	out := o.Cycle(context.Background(), newFakeProducer(100), "X")
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.True(t, errors.Is(out.Err, ErrStaleData))
	assert.Equal(t, "stale_data", out.Reason)

	cfg.UseStaleData = true
	o = newOrchestrator(t, cfg, constStrategy{sig.Buy, 0.9}, paper.NewExecutor(), WithClock(now))
	out = o.Cycle(context.Background(), newFakeProducer(100), "X")
	assert.Equal(t, OutcomeExecuted, out.Status)
	assert.True(t, out.Stale)
}

func TestZeroPriceFailsSizing(t *testing.T) {
	exec := &countingExecutor{next: paper.NewExecutor()}
	o := newOrchestrator(t, testConfig("X"), constStrategy{sig.Buy, 0.9}, exec)
	out := o.Cycle(context.Background(), newFakeProducer(0), "X")
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, StageSizing, out.Stage)
	assert.True(t, errors.Is(out.Err, risk.ErrInvalidStopDistance))
	assert.Zero(t, exec.calls.Load())
}

type rejectingExecutor struct{ err error }

func (r rejectingExecutor) Name() string { return "rejecting" }
func (r rejectingExecutor) Place(context.Context, execution.OrderRequest) execution.OrderResult {
	return execution.Failed(r.err)
}

func TestExecutionFailureIsCountedNotRetried(t *testing.T) {
	exec := &countingExecutor{next: rejectingExecutor{err: errors.New("venue down")}}
	o := newOrchestrator(t, testConfig("X"), constStrategy{sig.Buy, 0.9}, exec)
	out := o.Cycle(context.Background(), newFakeProducer(100), "X")
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, StageExecuting, out.Stage)
	assert.Equal(t, "execution_failed", out.Reason)
	assert.Equal(t, int64(1), exec.calls.Load())
}

func TestSellWithoutPositionIsSkipNotFailure(t *testing.T) {
	exec := &countingExecutor{next: paper.NewExecutor(paper.WithAccount(paper.NewAccount(10_000, 0)))}
	o := newOrchestrator(t, testConfig("X"), constStrategy{sig.Sell, 0.9}, exec)
	src := newFakeProducer(100)
	for i := 0; i < 3; i++ {
		out := o.Cycle(context.Background(), src, "X")
		assert.Equal(t, OutcomeSkipped, out.Status)
		assert.Equal(t, StageExecuting, out.Stage)
		assert.Equal(t, "no position", out.Reason)
	}
	assert.Equal(t, StageIdle, o.Stage("X"), "bearish signals while flat must not suspend the feed")
	perf := o.Performance().Snapshot()
	assert.Zero(t, perf.Failures)
	assert.Equal(t, 3, perf.Skips)
	assert.Equal(t, int64(3), exec.calls.Load())
}

func TestFilteredSignalIsSkip(t *testing.T) {
	o := newOrchestrator(t, testConfig("X"), constStrategy{sig.Buy, 0.3}, paper.NewExecutor())
	out := o.Cycle(context.Background(), newFakeProducer(100), "X")
	assert.Equal(t, OutcomeSkipped, out.Status)
	assert.Equal(t, "blocked by confidence", out.Reason)
	assert.Equal(t, 1, o.Performance().Snapshot().Skips)
}

func TestKillSwitchSkipsActionableSignals(t *testing.T) {
	perf := state.NewPerformance(10_000)
	perf.RecordFill(-1_500)
	cfg := testConfig("X")
	cfg.Limits = risk.Limits{KillSwitchDrawdown: 0.1}
	exec := &countingExecutor{next: paper.NewExecutor()}
	o := newOrchestrator(t, cfg, constStrategy{sig.Buy, 0.9}, exec, WithPerformance(perf))
	out := o.Cycle(context.Background(), newFakeProducer(100), "X")
	assert.Equal(t, OutcomeSkipped, out.Status)
	assert.Equal(t, "kill switch engaged", out.Reason)
	assert.Zero(t, exec.calls.Load())
}

func TestCancelledContextSubmitsNothing(t *testing.T) {
	exec := &countingExecutor{next: paper.NewExecutor()}
	o := newOrchestrator(t, testConfig("X"), constStrategy{sig.Buy, 0.9}, exec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := o.Cycle(ctx, newFakeProducer(100), "X")
	assert.Equal(t, OutcomeCancelled, out.Status)
	assert.Zero(t, exec.calls.Load())
	assert.Zero(t, o.Performance().Snapshot().Failures)
}

func TestConcurrentSymbolsNeverUndercountTrades(t *testing.T) {
	symbols := make([]string, 100)
	for i := range symbols {
		symbols[i] = "SYM" + string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	account := paper.NewAccount(1e12, 0)
	o := newOrchestrator(t, testConfig(symbols...), constStrategy{sig.Buy, 0.9}, paper.NewExecutor(paper.WithAccount(account)))
	src := newFakeProducer(100)

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Cycle(context.Background(), src, sym)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, o.Performance().Snapshot().TradeCount)
}

func TestRunPullHonoursIterationBudget(t *testing.T) {
	transitions := &transitionLog{}
	cfg := testConfig("A", "B")
	cfg.Iterations = 5
	src := newFakeProducer(100)
	o := newOrchestrator(t, cfg, constStrategy{sig.Flat, 0.5}, paper.NewExecutor(), WithTransitionHook(transitions.hook))

	require.NoError(t, o.RunPull(context.Background(), src))

	src.mu.Lock()
	assert.Equal(t, 3, src.calls["A"])
	assert.Equal(t, 2, src.calls["B"])
	src.mu.Unlock()
	assert.Equal(t, StageStopped, o.Stage("A"))
	assert.True(t, transitions.has("B", StageIdle, StageStopped))
	assert.Equal(t, 5, o.Performance().Snapshot().Cycles)
}

func TestRunPullStopsOnDuration(t *testing.T) {
	cfg := testConfig("A")
	cfg.Interval = time.Hour
	cfg.Duration = 20 * time.Millisecond
	o := newOrchestrator(t, cfg, constStrategy{sig.Flat, 0.5}, paper.NewExecutor())

	done := make(chan struct{})
	go func() {
		_ = o.RunPull(context.Background(), newFakeProducer(100))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pull loop ignored duration bound")
	}
	assert.Equal(t, StageStopped, o.Stage("A"))
}

type fakeSubscriber struct {
	ch       chan exchange.Update
	mu       sync.Mutex
	checkErr error
	pauses   []string
	resumes  []string
}

func (f *fakeSubscriber) Name() string { return "fake-stream" }
func (f *fakeSubscriber) Subscribe(context.Context, []string, time.Duration) (<-chan exchange.Update, error) {
	return f.ch, nil
}
func (f *fakeSubscriber) Check(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkErr
}
func (f *fakeSubscriber) Pause(symbol string) {
	f.mu.Lock()
	f.pauses = append(f.pauses, symbol)
	f.mu.Unlock()
}
func (f *fakeSubscriber) Resume(symbol string) {
	f.mu.Lock()
	f.resumes = append(f.resumes, symbol)
	f.mu.Unlock()
}

func (f *fakeSubscriber) pauseLog() (pauses, resumes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pauses...), append([]string(nil), f.resumes...)
}

// streamStep sends upd and waits for the outcome of the cycle it wakes.
func streamStep(t *testing.T, sub *fakeSubscriber, outcomes <-chan Outcome, upd exchange.Update) Outcome {
	t.Helper()
	sub.ch <- upd
	select {
	case out := <-outcomes:
		require.Equal(t, upd.Symbol, out.Symbol)
		return out
	case <-time.After(2 * time.Second):
		t.Fatalf("no outcome for %s", upd.Symbol)
		return Outcome{}
	}
}

func TestRunStreamIsolatesSymbols(t *testing.T) {
	outcomes := make(chan Outcome, 16)
	cfg := testConfig("GOOD", "BAD")
	cfg.Mode = ModeStream
	o := newOrchestrator(t, cfg, constStrategy{sig.Buy, 0.9}, paper.NewExecutor(), WithOutcomeSink(func(out Outcome) { outcomes <- out }))
	sub := &fakeSubscriber{ch: make(chan exchange.Update), checkErr: errors.New("probe down")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunStream(ctx, sub) }()

	tick := func(sym string, minute int) exchange.Update {
		return exchange.Update{Symbol: sym, Tick: sig.TokenTick{Token: sym, PriceUSD: 100, Ts: baseTs.Add(time.Duration(minute) * time.Minute)}}
	}
	failure := func(sym string) exchange.Update {
		return exchange.Update{Symbol: sym, Err: &exchange.DataUnavailableError{Symbol: sym, Err: errors.New("timeout")}}
	}
	step := func(upd exchange.Update) Outcome {
		t.Helper()
		return streamStep(t, sub, outcomes, upd)
	}

	assert.Equal(t, OutcomeExecuted, step(tick("GOOD", 1)).Status)
	assert.Equal(t, OutcomeFailed, step(failure("BAD")).Status)
	assert.Equal(t, OutcomeFailed, step(failure("BAD")).Status)
	assert.Equal(t, StageSuspended, o.Stage("BAD"))
	assert.Equal(t, OutcomeSuspended, step(failure("BAD")).Status)
	assert.Equal(t, OutcomeExecuted, step(tick("GOOD", 2)).Status)
	pauses, resumes := sub.pauseLog()
	assert.Equal(t, []string{"BAD"}, pauses, "suspension must pause the symbol's poller")
	assert.Empty(t, resumes)

	sub.mu.Lock()
	sub.checkErr = nil
	sub.mu.Unlock()
	assert.Equal(t, OutcomeExecuted, step(tick("BAD", 3)).Status)
	_, resumes = sub.pauseLog()
	assert.Equal(t, []string{"BAD"}, resumes)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("stream loop did not stop")
	}
	assert.Equal(t, 3, o.Performance().Snapshot().TradeCount)
	assert.Equal(t, StageStopped, o.Stage("GOOD"))
	assert.Equal(t, StageStopped, o.Stage("BAD"))
}

func TestStreamDiscoversNewSymbols(t *testing.T) {
	outcomes := make(chan Outcome, 4)
	cfg := testConfig("SEED")
	cfg.Mode = ModeStream
	o := newOrchestrator(t, cfg, constStrategy{sig.Flat, 0.5}, paper.NewExecutor(), WithOutcomeSink(func(out Outcome) { outcomes <- out }))
	sub := &fakeSubscriber{ch: make(chan exchange.Update)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.RunStream(ctx, sub) }()

	sub.ch <- exchange.Update{Symbol: "NEW", Tick: sig.TokenTick{PriceUSD: 1, Ts: baseTs}}
	select {
	case out := <-outcomes:
		assert.Equal(t, "NEW", out.Symbol)
		assert.Equal(t, OutcomeSkipped, out.Status)
	case <-time.After(2 * time.Second):
		t.Fatalf("discovered symbol never cycled")
	}
	snap, ok := o.Window().Snapshot("NEW")
	require.True(t, ok)
	assert.Equal(t, 1, snap.Len())
}

func TestConfigValidation(t *testing.T) {
	p, err := pipeline.New(constStrategy{sig.Buy, 1})
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"no symbols":         func(c *Config) { c.Symbols = nil },
		"zero risk fraction": func(c *Config) { c.RiskFraction = 0 },
		"negative equity":    func(c *Config) { c.Equity = -1 },
		"unknown mode":       func(c *Config) { c.Mode = "batch" },
		"bad order type":     func(c *Config) { c.OrderType = "stop" },
	}
	for name, mutate := range cases {
		cfg := testConfig("X")
		mutate(&cfg)
		_, err := New(cfg, p, paper.NewExecutor(), zerolog.Nop())
		assert.Error(t, err, name)
	}

	_, err = New(testConfig("X"), p, paper.NewExecutor(), zerolog.Nop())
	assert.NoError(t, err)
}

func TestStatusReportsStages(t *testing.T) {
	health := state.NewHealth("fake")
	o := newOrchestrator(t, testConfig("X"), constStrategy{sig.Flat, 0.5}, paper.NewExecutor(), WithHealth(health))
	o.Cycle(context.Background(), newFakeProducer(1), "X")
	st := o.Status()
	assert.Equal(t, StageIdle, st.Symbols["X"])
	require.NotNil(t, st.Health)
	assert.Equal(t, "fake", st.Health.Source)
	assert.Equal(t, 1, st.Performance.Skips)
}

// probedSource serves one fresh candle per fetch and counts fetches.
type probedSource struct {
	mu      sync.Mutex
	fetches int
}

func (p *probedSource) Name() string { return "probed" }
func (p *probedSource) Fetch(_ context.Context, symbol string) (sig.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	ts := baseTs.Add(time.Duration(p.fetches) * time.Minute)
	return sig.NewSnapshot(symbol, []sig.Candle{{Ts: ts, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1}})
}

func (p *probedSource) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

type switchProber struct {
	mu  sync.Mutex
	err error
}

func (p *switchProber) Check(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 11, p.err
}

func (p *switchProber) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestRunPullSuspendsOnFailedHealthChecksDespiteGoodFetches(t *testing.T) {
	cfg := testConfig("X")
	cfg.Iterations = 4
	health := state.NewHealth("probed")
	src := &probedSource{}
	prober := &switchProber{err: errors.New("rpc down")}
	adapter := exchange.NewAdapter(src, health, zerolog.Nop(),
		exchange.WithPacer(exchange.NewPacer(exchange.PacerConfig{Spacing: -1, Jitter: -1})),
		exchange.WithProber(prober),
	)
	log := &outcomeLog{}
	o := newOrchestrator(t, cfg, constStrategy{sig.Buy, 0.9}, paper.NewExecutor(), WithHealth(health), WithOutcomeSink(log.sink))

	require.NoError(t, o.RunPull(context.Background(), adapter))

	outcomes := log.outcomes()
	require.Len(t, outcomes, 4)
	assert.Equal(t, OutcomeExecuted, outcomes[0].Status, "one failed probe is below the threshold")
	assert.Equal(t, OutcomeSuspended, outcomes[1].Status)
	assert.Equal(t, "health check failing", outcomes[1].Reason)
	assert.Equal(t, OutcomeSuspended, outcomes[2].Status)
	assert.Equal(t, OutcomeSuspended, outcomes[3].Status)
	assert.Equal(t, 1, src.count(), "suspended symbol must not fetch")

	hs := health.Snapshot()
	assert.Equal(t, 6, hs.ProbeFailures, "one probe per round plus one per resume attempt")
	assert.Zero(t, hs.ConsecutiveFailures)

	prober.set(nil)
	out := o.Cycle(context.Background(), adapter, "X")
	assert.Equal(t, OutcomeExecuted, out.Status)
	assert.Equal(t, 2, src.count())
	assert.Equal(t, uint64(11), health.Snapshot().RPCSlot)
}

func TestRunStreamSuspendsOnFailedHealthChecksAndResumesOnHeartbeat(t *testing.T) {
	outcomes := make(chan Outcome, 8)
	cfg := testConfig("X")
	cfg.Mode = ModeStream
	health := state.NewHealth("fake-stream")
	health.RecordProbe(false, 0)
	health.RecordProbe(false, 0)
	o := newOrchestrator(t, cfg, constStrategy{sig.Buy, 0.9}, paper.NewExecutor(),
		WithHealth(health), WithOutcomeSink(func(out Outcome) { outcomes <- out }))
	sub := &fakeSubscriber{ch: make(chan exchange.Update)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.RunStream(ctx, sub) }()

	first := streamStep(t, sub, outcomes, exchange.Update{Symbol: "X", Tick: sig.TokenTick{PriceUSD: 100, Ts: baseTs}})
	assert.Equal(t, OutcomeSuspended, first.Status)
	assert.Equal(t, "health check failing", first.Reason)
	pauses, _ := sub.pauseLog()
	assert.Equal(t, []string{"X"}, pauses)

	heartbeat := exchange.Update{Symbol: "X", Paused: true}
	assert.Equal(t, OutcomeSuspended, streamStep(t, sub, outcomes, heartbeat).Status, "probe run still at threshold")

	health.RecordProbe(true, 99)
	resumed := streamStep(t, sub, outcomes, heartbeat)
	assert.Equal(t, OutcomeExecuted, resumed.Status)
	_, resumes := sub.pauseLog()
	assert.Equal(t, []string{"X"}, resumes)
	snap, ok := o.Window().Snapshot("X")
	require.True(t, ok)
	assert.Equal(t, 1, snap.Len(), "heartbeats add no candles")
}

func TestWorkerKeepsLatestUpdate(t *testing.T) {
	w := newWorker("X")
	w.setErr(errors.New("timeout"))
	w.setErr(nil)
	assert.NoError(t, w.takeErr(), "a later good tick clears the pending error")

	w.setErr(errors.New("first"))
	w.setErr(errors.New("second"))
	assert.EqualError(t, w.takeErr(), "second")
	assert.NoError(t, w.takeErr())

	w.kick()
	w.kick()
	assert.Len(t, w.kickc, 1, "kicks coalesce")
}
