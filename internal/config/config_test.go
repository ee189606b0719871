package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "agent-test" || cfg.App.LogLevel != "debug" {
		t.Fatalf("unexpected App: %+v", cfg.App)
	}
	if cfg.App.LogFormat != "json" {
		t.Fatalf("expected default json log format, got %s", cfg.App.LogFormat)
	}
	if len(cfg.Exchange.Symbols) != 1 || cfg.Exchange.Symbols[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT symbol, got %+v", cfg.Exchange.Symbols)
	}
	if cfg.Exchange.Name != "binance" || cfg.Exchange.KlineInterval != "1m" || cfg.Exchange.KlineLimit != 200 {
		t.Fatalf("unexpected exchange: %+v", cfg.Exchange)
	}
	if cfg.Exchange.DexScreener.PollInterval != 750 {
		t.Fatalf("unexpected DexScreener.PollInterval: %d", cfg.Exchange.DexScreener.PollInterval)
	}
	if !cfg.Exchange.Discovery.Enabled || cfg.Exchange.Discovery.Keywords[0] != "pepe" {
		t.Fatalf("unexpected discovery: %+v", cfg.Exchange.Discovery)
	}
	if cfg.Exchange.Discovery.MaxPairs != 5 || cfg.Exchange.Discovery.RefreshInterval != 20000 {
		t.Fatalf("unexpected discovery limits: %+v", cfg.Exchange.Discovery)
	}
	if cfg.Engine.Mode != "stream" || cfg.Engine.Executor != "paper" || cfg.Engine.OrderType != "market" {
		t.Fatalf("unexpected engine: %+v", cfg.Engine)
	}
	if cfg.Engine.Iterations != 30 || cfg.Engine.FailureThreshold != 4 || !cfg.Engine.UseStaleData {
		t.Fatalf("unexpected engine knobs: %+v", cfg.Engine)
	}
	if Millis(cfg.Engine.MaxStalenessMs).Seconds() != 15 {
		t.Fatalf("unexpected max staleness: %d", cfg.Engine.MaxStalenessMs)
	}
	if cfg.Pacer.SpacingMs != 100 || cfg.Pacer.BackoffFactor != 1.5 {
		t.Fatalf("unexpected pacer: %+v", cfg.Pacer)
	}
	if cfg.Risk.Equity != 5000 || cfg.Risk.RiskFraction != 0.02 || cfg.Risk.StopPct != 0.03 {
		t.Fatalf("unexpected risk: %+v", cfg.Risk)
	}
	if cfg.Risk.MaxNotionalPerTrade != 100 || cfg.Risk.KillSwitchDrawdown != 0.25 {
		t.Fatalf("unexpected risk limits: %+v", cfg.Risk)
	}
	if !cfg.Filters.TradingHours || cfg.Filters.TradingStartHour != 22 || cfg.Filters.TradingEndHour != 4 {
		t.Fatalf("unexpected filters: %+v", cfg.Filters)
	}
	if cfg.Strategy.Mode != "combo" || len(cfg.Strategy.Params.ComboMembers) != 2 || cfg.Strategy.Params.ComboWeights[0] != 0.7 {
		t.Fatalf("unexpected strategy: %+v", cfg.Strategy)
	}
	if cfg.Strategy.Params.TrendWindow != 90 || cfg.Strategy.Params.TrendMinVolumeUSD != 1000 {
		t.Fatalf("unexpected trend params: %+v", cfg.Strategy.Params)
	}
	if cfg.Dex.Commitment != "processed" || cfg.Dex.QuoteMint != USDCMint || cfg.Dex.QuoteDecimals != 6 {
		t.Fatalf("unexpected dex: %+v", cfg.Dex)
	}
	if tok := cfg.Dex.Tokens["WIFUSDT"]; tok.Decimals != 6 || tok.Mint == "" {
		t.Fatalf("unexpected dex token: %+v", tok)
	}
	if cfg.Paper.StartingCash != 5000 || cfg.Paper.SlippageBps != 3 {
		t.Fatalf("unexpected paper: %+v", cfg.Paper)
	}
	if !cfg.NATS.Enabled || cfg.NATS.Subject != "trading.outcomes" {
		t.Fatalf("unexpected nats: %+v", cfg.NATS)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := Load("config.yaml")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("shipped config invalid: %v", err)
	}
}

func TestApplyDefaultsEquityFollowsStartingCash(t *testing.T) {
	cfg := &Config{Paper: Paper{StartingCash: 750}}
	cfg.ApplyDefaults()
	if cfg.Risk.Equity != 750 {
		t.Fatalf("expected equity 750, got %.2f", cfg.Risk.Equity)
	}
	if cfg.Engine.Mode != "pull" || cfg.Exchange.Name != "stub" || cfg.Strategy.Mode != "sma" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Engine, cfg.Exchange)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Engine.Mode = "batch"
	cfg.Engine.Executor = "jupiter"
	cfg.Risk.RiskFraction = 1.5
	cfg.NATS.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"exchange.symbols", "engine.mode", "dex.rpc_url", "risk_fraction", "nats.url"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := &Config{Exchange: Exchange{Symbols: []string{"ETHUSDT"}}}
	cfg.ApplyDefaults()
	cfg.Risk.KillSwitchDrawdown = 0.3
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Risk.KillSwitchDrawdown != 0.3 || loaded.Exchange.Symbols[0] != "ETHUSDT" {
		t.Fatalf("unexpected round trip: %+v", loaded)
	}
	if err := Save(path, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestValidateMultiExecutor(t *testing.T) {
	cases := []struct {
		name      string
		executors []string
		want      string
	}{
		{"no members", nil, "engine.executors"},
		{"unknown member", []string{"paper", "photon"}, `"photon"`},
		{"duplicate member", []string{"log", "LOG"}, "twice"},
		{"jupiter without rpc", []string{"jupiter", "paper"}, "dex.rpc_url"},
	}
	for _, tc := range cases {
		cfg := &Config{Exchange: Exchange{Symbols: []string{"WIFUSDT"}}}
		cfg.ApplyDefaults()
		cfg.Engine.Executor = "multi"
		cfg.Engine.Executors = tc.executors
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q in %v", tc.name, tc.want, err)
		}
	}

	cfg := &Config{Exchange: Exchange{Symbols: []string{"WIFUSDT"}}}
	cfg.ApplyDefaults()
	cfg.Engine.Executor = "multi"
	cfg.Engine.Executors = []string{"jupiter", "paper"}
	cfg.Dex.RpcURL = "https://rpc.example"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid multi config, got %v", err)
	}
}
