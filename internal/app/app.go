// Package app assembles the trading agent from configuration and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/config"
	"github.com/denniswon/modular-trading-agent/internal/control"
	"github.com/denniswon/modular-trading-agent/internal/engine"
	"github.com/denniswon/modular-trading-agent/internal/exchange"
	"github.com/denniswon/modular-trading-agent/internal/execution"
	"github.com/denniswon/modular-trading-agent/internal/metrics"
	"github.com/denniswon/modular-trading-agent/internal/paper"
	"github.com/denniswon/modular-trading-agent/internal/pipeline"
	"github.com/denniswon/modular-trading-agent/internal/publish"
	"github.com/denniswon/modular-trading-agent/internal/state"
)

const shutdownTimeout = 5 * time.Second

// Option customises assembly, mostly for tests and alternate binaries.
type Option func(*options)

type options struct {
	executor execution.Executor
	sinks    []engine.OutcomeSink
}

// WithExecutor replaces the configured executor.
func WithExecutor(exec execution.Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithOutcomeSink adds an extra per-cycle observer.
func WithOutcomeSink(s engine.OutcomeSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// App owns every long-lived component of one agent process.
type App struct {
	cfg          *config.Config
	log          zerolog.Logger
	orchestrator *engine.Orchestrator
	sources      sources
	health       *state.Health
	discovery    *exchange.DexScreenerDiscovery
	control      *control.Server
	publisher    *publish.Publisher
	metrics      *http.Server
	account      *paper.Account
	ledger       *paper.Ledger
	closers      []func() error
}

// Status is the document served on /status.
type Status struct {
	engine.Status
	Account     *paper.Snapshot  `json:"account,omitempty"`
	RecentFills []execution.Fill `json:"recent_fills,omitempty"`
	TotalFills  int64            `json:"total_fills"`
}

// New validates cfg and wires data source, strategy, filters, executor and the orchestrator.
// ctx bounds the initial discovery pass when no symbols are configured.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: log, health: state.NewHealth(cfg.Exchange.Name)}
	pacer := buildPacer(cfg.Pacer)

	symbols, err := seedSymbols(ctx, cfg, pacer, log)
	if err != nil {
		return nil, err
	}
	if a.sources, err = buildSources(cfg, a.health, pacer, log); err != nil {
		return nil, err
	}
	if cfg.Exchange.Discovery.Enabled && a.sources.sink != nil {
		a.discovery = exchange.NewDexScreenerDiscovery(log, a.sources.sink, symbols, dexScreener(cfg), cfg.Exchange.Discovery, pacer)
	}

	strat, err := buildStrategy(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	pipe, err := pipeline.New(strat, buildFilters(cfg.Filters)...)
	if err != nil {
		return nil, err
	}

	exec := o.executor
	if exec == nil {
		set, err := buildExecutor(cfg, log)
		if err != nil {
			return nil, err
		}
		exec, a.account, a.ledger = set.exec, set.account, set.ledger
		a.closers = append(a.closers, set.release)
	}

	engineOpts := []engine.Option{engine.WithHealth(a.health)}
	if cfg.App.GRPCAddr != "" {
		a.control = control.New(cfg.App.GRPCAddr, log)
		engineOpts = append(engineOpts, engine.WithTransitionHook(a.control.Hook()))
	}
	if cfg.NATS.Enabled {
		pub, err := publish.Connect(publish.Options{
			URL:           cfg.NATS.URL,
			Name:          cfg.App.Name,
			Subject:       cfg.NATS.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.publisher = pub
		engineOpts = append(engineOpts, engine.WithOutcomeSink(pub.Sink()))
	}
	for _, s := range o.sinks {
		engineOpts = append(engineOpts, engine.WithOutcomeSink(s))
	}

	a.orchestrator, err = engine.New(engineConfig(cfg, symbols), pipe, exec, log, engineOpts...)
	if err != nil {
		a.close()
		return nil, err
	}
	log.Info().
		Str("exchange", cfg.Exchange.Name).
		Str("mode", cfg.Engine.Mode).
		Str("strategy", strat.Name()).
		Strs("filters", pipe.Filters().Names()).
		Str("executor", exec.Name()).
		Strs("symbols", symbols).
		Msg("agent assembled")
	return a, nil
}

// Orchestrator exposes the engine for status reporting.
func (a *App) Orchestrator() *engine.Orchestrator { return a.orchestrator }

// Status combines engine state with the paper account marked at the latest closes.
func (a *App) Status() Status {
	st := Status{Status: a.orchestrator.Status()}
	if a.account != nil {
		marks := make(map[string]float64, len(st.Symbols))
		for sym := range st.Symbols {
			if snap, ok := a.orchestrator.Window().Snapshot(sym); ok {
				marks[sym] = snap.LastClose()
			}
		}
		acct := a.account.Snapshot(marks)
		st.Account = &acct
	}
	if a.ledger != nil {
		st.RecentFills = a.ledger.Snapshot()
		st.TotalFills = a.ledger.Total()
	}
	return st
}

// Run starts the side services, drives the configured loop until it stops, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if addr := a.cfg.App.MetricsAddr; addr != "" {
		a.metrics = metrics.Serve(addr, func() any { return a.Status() })
		a.log.Info().Str("addr", addr).Msg("metrics up")
	}
	if a.control != nil {
		if err := a.control.Start(); err != nil {
			return err
		}
	}

	var err error
	switch strings.ToLower(a.cfg.Engine.Mode) {
	case engine.ModeStream:
		if a.sources.subscriber == nil {
			return fmt.Errorf("exchange %q has no streaming source", a.cfg.Exchange.Name)
		}
		sub := a.sources.subscriber
		if a.discovery != nil {
			sub = discoveringSubscriber{Subscriber: sub, discovery: a.discovery}
		}
		err = a.orchestrator.RunStream(ctx, sub)
	default:
		err = a.orchestrator.RunPull(ctx, a.sources.producer)
	}

	perf := a.orchestrator.Performance().Snapshot()
	a.log.Info().
		Int("trades", perf.TradeCount).
		Int("wins", perf.WinCount).
		Float64("pnl", perf.RunningPnL).
		Float64("equity", perf.Equity).
		Float64("win_rate", perf.WinRate()).
		Msg("session summary")
	return err
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
		a.metrics = nil
	}
	if a.control != nil {
		_ = a.control.Stop(ctx)
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn().Err(err).Msg("release failed")
		}
	}
	a.closers = nil
}

// discoveringSubscriber starts symbol discovery once the stream is live, so the
// first refresh reaches a subscribed sink.
type discoveringSubscriber struct {
	engine.Subscriber
	discovery *exchange.DexScreenerDiscovery
}

func (d discoveringSubscriber) Subscribe(ctx context.Context, symbols []string, interval time.Duration) (<-chan exchange.Update, error) {
	updates, err := d.Subscriber.Subscribe(ctx, symbols, interval)
	if err == nil {
		d.discovery.Start(ctx)
	}
	return updates, err
}

// Check forwards the inner liveness probe; subscribers without one are assumed live.
func (d discoveringSubscriber) Check(ctx context.Context) error {
	if hc, ok := d.Subscriber.(interface{ Check(context.Context) error }); ok {
		return hc.Check(ctx)
	}
	return nil
}

// Pause forwards to subscribers that can stop fetching a suspended symbol.
func (d discoveringSubscriber) Pause(symbol string) {
	if p, ok := d.Subscriber.(interface{ Pause(string) }); ok {
		p.Pause(symbol)
	}
}

// Resume forwards to subscribers that can stop fetching a suspended symbol.
func (d discoveringSubscriber) Resume(symbol string) {
	if p, ok := d.Subscriber.(interface{ Resume(string) }); ok {
		p.Resume(symbol)
	}
}
