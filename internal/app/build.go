package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/config"
	dex "github.com/denniswon/modular-trading-agent/internal/dex/solana"
	"github.com/denniswon/modular-trading-agent/internal/engine"
	"github.com/denniswon/modular-trading-agent/internal/exchange"
	"github.com/denniswon/modular-trading-agent/internal/execution"
	"github.com/denniswon/modular-trading-agent/internal/filter"
	"github.com/denniswon/modular-trading-agent/internal/paper"
	"github.com/denniswon/modular-trading-agent/internal/risk"
	"github.com/denniswon/modular-trading-agent/internal/state"
	"github.com/denniswon/modular-trading-agent/internal/strategy"
)

const (
	binanceTestnetREST   = "https://testnet.binance.vision"
	binanceTestnetStream = "wss://stream.testnet.binance.vision/stream"
)

// sources bundles the provider-specific pieces the engine can consume.
type sources struct {
	producer   engine.Producer
	subscriber engine.Subscriber
	sink       exchange.SymbolSink
}

func buildPacer(cfg config.Pacer) *exchange.Pacer {
	return exchange.NewPacer(exchange.PacerConfig{
		Spacing:     config.Millis(cfg.SpacingMs),
		Jitter:      config.Millis(cfg.JitterMs),
		BackoffBase: config.Millis(cfg.BackoffBaseMs),
		BackoffCap:  config.Millis(cfg.BackoffCapMs),
		Factor:      cfg.BackoffFactor,
	})
}

// buildSources wires the configured provider for both scheduling modes.
func buildSources(cfg *config.Config, health *state.Health, pacer *exchange.Pacer, log zerolog.Logger) (sources, error) {
	var (
		source exchange.Source
		ticks  exchange.TickSource
		prober exchange.Prober
		stream exchange.Streamer
	)
	ex := cfg.Exchange
	switch strings.ToLower(ex.Name) {
	case exchange.ProviderStub:
		syn := exchange.NewSynthetic(100, 0.05, time.Second).WithWave(1.5, 40)
		source, ticks, prober = syn, syn, syn
	case exchange.ProviderBinance:
		rest, ws := ex.RestURL, ex.StreamURL
		if ex.Testnet {
			rest = firstSet(rest, binanceTestnetREST)
			ws = firstSet(ws, binanceTestnetStream)
		}
		klines := exchange.NewBinanceKlines(ex.APIKey, ex.APISecret, rest, ex.KlineInterval, ex.KlineLimit)
		source, prober = klines, klines
		stream = exchange.NewBinanceTrades(ws, log)
	case exchange.ProviderDexScreener:
		ds := dexScreener(cfg)
		source, ticks = exchange.FromTicks(ds), ds
		if cfg.Dex.RpcURL != "" {
			prober = exchange.NewSolanaProbe(cfg.Dex.RpcURL, cfg.Dex.Commitment)
		}
	default:
		return sources{}, fmt.Errorf("unsupported exchange %q", ex.Name)
	}

	timeout := config.Millis(cfg.Engine.FetchTimeoutMs)
	out := sources{
		producer: exchange.NewAdapter(source, health, log,
			exchange.WithPacer(pacer),
			exchange.WithProber(prober),
			exchange.WithFetchTimeout(timeout),
		),
	}
	switch {
	case stream != nil:
		out.subscriber, out.sink = stream, stream
	case ticks != nil:
		st := exchange.NewStream(ticks, health, log,
			exchange.WithStreamPacer(pacer),
			exchange.WithStreamProber(prober),
			exchange.WithStreamTimeout(timeout),
		)
		out.subscriber, out.sink = st, st
	}
	return out, nil
}

func buildStrategy(cfg config.Strategy) (strategy.Strategy, error) {
	p := cfg.Params
	return strategy.Build(cfg.Mode, strategy.Params{
		FastWindow:        p.FastWindow,
		SlowWindow:        p.SlowWindow,
		RSIPeriod:         p.RSIPeriod,
		RSIOversold:       p.RSIOversold,
		RSIOverbought:     p.RSIOverbought,
		MomentumLookback:  p.MomentumLookback,
		MomentumBuy:       p.MomentumBuy,
		MomentumSell:      p.MomentumSell,
		OBIThreshold:      p.OBIThreshold,
		OBIWindow:         p.OBIWindow,
		TrendThreshold:    p.TrendThreshold,
		TrendWindow:       p.TrendWindow,
		TrendMinVolumeUSD: p.TrendMinVolumeUSD,
		ComboMembers:      p.ComboMembers,
		ComboWeights:      p.ComboWeights,
	})
}

// buildFilters assembles the chain in a fixed order; zero-valued knobs leave their filter out.
func buildFilters(cfg config.Filters) []filter.Filter {
	var chain []filter.Filter
	if cfg.MinConfidence > 0 {
		chain = append(chain, filter.NewConfidence(cfg.MinConfidence))
	}
	if cfg.MinVolatility > 0 {
		chain = append(chain, filter.NewVolatility(cfg.MinVolatility, cfg.VolatilityLookback))
	}
	if cfg.TrendWindow > 0 {
		chain = append(chain, filter.NewTrend(cfg.TrendWindow, cfg.TrendThreshold))
	}
	if cfg.TradingHours {
		chain = append(chain, filter.NewTradingHours(cfg.TradingStartHour, cfg.TradingEndHour, nil))
	}
	if cfg.MinPriceMove > 0 {
		chain = append(chain, filter.NewPriceMove(cfg.MinPriceMove))
	}
	return chain
}

// executorSet is the configured gateway plus the paper state exposed on /status.
type executorSet struct {
	exec    execution.Executor
	account *paper.Account
	ledger  *paper.Ledger
	release func() error
}

const recentFills = 50

// buildExecutor returns the configured gateway wrapped with logging and metrics.
// "multi" builds each listed member and routes through them in order.
func buildExecutor(cfg *config.Config, log zerolog.Logger) (executorSet, error) {
	set := executorSet{release: func() error { return nil }}
	var (
		exec execution.Executor
		err  error
	)
	if strings.EqualFold(cfg.Engine.Executor, "multi") {
		members := make([]execution.Executor, 0, len(cfg.Engine.Executors))
		for _, name := range cfg.Engine.Executors {
			m, err := buildGateway(strings.ToLower(strings.TrimSpace(name)), cfg, log, &set)
			if err != nil {
				_ = set.release()
				return executorSet{}, err
			}
			members = append(members, m)
		}
		exec, err = execution.NewMulti(log, members,
			execution.WithHealthInterval(config.Millis(cfg.Engine.ExecutorHealthIntervalMs)))
	} else {
		exec, err = buildGateway(strings.ToLower(cfg.Engine.Executor), cfg, log, &set)
	}
	if err != nil {
		_ = set.release()
		return executorSet{}, err
	}
	set.exec = execution.Instrument(exec, log)
	return set, nil
}

// buildGateway builds one named executor; the paper gateway also fills set's account, ledger and release.
func buildGateway(name string, cfg *config.Config, log zerolog.Logger, set *executorSet) (execution.Executor, error) {
	switch name {
	case "paper":
		set.account = paper.NewAccount(cfg.Paper.StartingCash, cfg.Paper.MaxPositionPerSymbol)
		set.ledger = paper.NewLedger(recentFills)
		opts := []paper.Option{
			paper.WithAccount(set.account),
			paper.WithRecorder(set.ledger),
			paper.WithSlippageBps(cfg.Paper.SlippageBps),
		}
		if cfg.Paper.FillsPath != "" {
			rec, err := paper.OpenFillLog(cfg.Paper.FillsPath, log)
			if err != nil {
				return nil, fmt.Errorf("open fills log: %w", err)
			}
			opts = append(opts, paper.WithRecorder(rec))
			set.release = rec.Close
		}
		return paper.NewExecutor(opts...), nil
	case "log":
		return execution.NewLogExecutor(log), nil
	case "jupiter":
		key, err := dex.LoadPrivateKey(cfg.Wallet.PrivateKeyBase58)
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		client := dex.NewJupiterClient(cfg.Dex.RpcURL, cfg.Dex.JupiterBase, key, cfg.Dex.Commitment)
		tokens := make(map[string]dex.Token, len(cfg.Dex.Tokens))
		for sym, tok := range cfg.Dex.Tokens {
			tokens[strings.TrimSpace(sym)] = dex.Token{Mint: tok.Mint, Decimals: tok.Decimals}
		}
		quote := dex.Token{Mint: cfg.Dex.QuoteMint, Decimals: cfg.Dex.QuoteDecimals}
		return dex.NewExecutor(client, quote, tokens, cfg.Dex.SlippageBps, log), nil
	default:
		return nil, fmt.Errorf("unsupported executor %q", name)
	}
}

func engineConfig(cfg *config.Config, symbols []string) engine.Config {
	e := cfg.Engine
	return engine.Config{
		Symbols:          symbols,
		Mode:             e.Mode,
		Interval:         config.Millis(e.IntervalMs),
		Iterations:       e.Iterations,
		Duration:         time.Duration(e.DurationSecs) * time.Second,
		Equity:           cfg.Risk.Equity,
		RiskFraction:     cfg.Risk.RiskFraction,
		StopPct:          cfg.Risk.StopPct,
		OrderType:        execution.OrderType(strings.ToLower(e.OrderType)),
		LimitOffsetPct:   e.LimitOffsetPct,
		FailureThreshold: e.FailureThreshold,
		UseStaleData:     e.UseStaleData,
		MaxStaleness:     config.Millis(e.MaxStalenessMs),
		ExecuteTimeout:   config.Millis(e.ExecuteTimeoutMs),
		WindowSize:       e.WindowSize,
		Limits: risk.Limits{
			MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade,
			KillSwitchDrawdown:  cfg.Risk.KillSwitchDrawdown,
		},
	}
}

// collector captures one discovery pass when no manual symbols are configured.
type collector struct{ symbols []string }

func (c *collector) SetSymbols(symbols []string) { c.symbols = append([]string(nil), symbols...) }

// seedSymbols returns the configured symbols, or the result of one synchronous discovery pass.
func seedSymbols(ctx context.Context, cfg *config.Config, pacer *exchange.Pacer, log zerolog.Logger) ([]string, error) {
	if len(cfg.Exchange.Symbols) > 0 {
		return normalize(cfg.Exchange.Symbols), nil
	}
	c := &collector{}
	d := exchange.NewDexScreenerDiscovery(log, c, nil, dexScreener(cfg), cfg.Exchange.Discovery, pacer)
	if d == nil {
		return nil, errors.New("no symbols configured and discovery disabled")
	}
	if err := d.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial discovery: %w", err)
	}
	if len(c.symbols) == 0 {
		return nil, errors.New("initial discovery found no symbols")
	}
	return c.symbols, nil
}

func dexScreener(cfg *config.Config) *exchange.DexScreener {
	return exchange.NewDexScreener(cfg.Exchange.DexScreener.BaseURL, cfg.Exchange.DexScreener.DefaultChain, nil)
}

func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
