// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, endpoints, and logging.
type App struct {
	Name         string `yaml:"name"`
	Env          string `yaml:"env"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // json|console
	MetricsAddr  string `yaml:"metrics_addr"`
	GRPCAddr     string `yaml:"grpc_addr"`
	ProfilerAddr string `yaml:"profiler_addr"`
}

// Exchange describes the market data provider and the symbols it should serve.
type Exchange struct {
	Name          string      `yaml:"name"` // stub|binance|dexscreener
	Symbols       []string    `yaml:"symbols"`
	APIKey        string      `yaml:"api_key"`
	APISecret     string      `yaml:"api_secret"`
	Testnet       bool        `yaml:"testnet"`
	RestURL       string      `yaml:"rest_url"`
	StreamURL     string      `yaml:"stream_url"`
	KlineInterval string      `yaml:"kline_interval"`
	KlineLimit    int         `yaml:"kline_limit"`
	DexScreener   DexScreener `yaml:"dexscreener"`
	Discovery     Discovery   `yaml:"discovery"`
}

// DexScreener configures the HTTP polling feed targeting Dexscreener pairs.
type DexScreener struct {
	BaseURL      string `yaml:"base_url"`
	DefaultChain string `yaml:"default_chain"`
	PollInterval int    `yaml:"poll_interval_ms"`
}

// Discovery configures automatic symbol discovery.
type Discovery struct {
	Enabled            bool     `yaml:"enabled"`
	Keywords           []string `yaml:"keywords"`
	Chains             []string `yaml:"chains"`
	MaxPairs           int      `yaml:"max_pairs"`
	RefreshInterval    int      `yaml:"refresh_interval_ms"`
	MinLiquidityUSD    float64  `yaml:"min_liquidity_usd"`
	MinVolumeUSD       float64  `yaml:"min_volume_usd"`
	MaxPairsPerKeyword int      `yaml:"max_pairs_per_keyword"`
}

// Engine controls the orchestration loop.
type Engine struct {
	Mode                     string   `yaml:"mode"`     // pull|stream
	Executor                 string   `yaml:"executor"` // paper|log|jupiter|multi
	IntervalMs               int      `yaml:"interval_ms"`
	Iterations               int      `yaml:"iterations"`
	DurationSecs             int      `yaml:"duration_secs"`
	FailureThreshold         int      `yaml:"failure_threshold"`
	UseStaleData             bool     `yaml:"use_stale_data"`
	MaxStalenessMs           int      `yaml:"max_staleness_ms"`
	FetchTimeoutMs           int      `yaml:"fetch_timeout_ms"`
	ExecuteTimeoutMs         int      `yaml:"execute_timeout_ms"`
	WindowSize               int      `yaml:"window_size"`
	OrderType                string   `yaml:"order_type"` // market|limit
	LimitOffsetPct           float64  `yaml:"limit_offset_pct"`
	Executors                []string `yaml:"executors"` // multi members in fallback order
	ExecutorHealthIntervalMs int      `yaml:"executor_health_interval_ms"`
}

// Pacer tunes request spacing and retry backoff against the data provider.
type Pacer struct {
	SpacingMs     int     `yaml:"spacing_ms"`
	JitterMs      int     `yaml:"jitter_ms"`
	BackoffBaseMs int     `yaml:"backoff_base_ms"`
	BackoffCapMs  int     `yaml:"backoff_cap_ms"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	Equity              float64 `yaml:"equity"`
	RiskFraction        float64 `yaml:"risk_fraction"`
	StopPct             float64 `yaml:"stop_pct"`
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	KillSwitchDrawdown  float64 `yaml:"kill_switch_drawdown"`
}

// Filters lists the pre-trade filters; zero values leave a filter out of the chain.
type Filters struct {
	MinConfidence      float64 `yaml:"min_confidence"`
	MinVolatility      float64 `yaml:"min_volatility"`
	VolatilityLookback int     `yaml:"volatility_lookback"`
	TrendWindow        int     `yaml:"trend_window"`
	TrendThreshold     float64 `yaml:"trend_threshold"`
	TradingHours       bool    `yaml:"trading_hours"`
	TradingStartHour   int     `yaml:"trading_start_hour"`
	TradingEndHour     int     `yaml:"trading_end_hour"`
	MinPriceMove       float64 `yaml:"min_price_move"`
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	FastWindow        int       `yaml:"fast_window"`
	SlowWindow        int       `yaml:"slow_window"`
	RSIPeriod         int       `yaml:"rsi_period"`
	RSIOversold       float64   `yaml:"rsi_oversold"`
	RSIOverbought     float64   `yaml:"rsi_overbought"`
	MomentumLookback  int       `yaml:"momentum_lookback"`
	MomentumBuy       float64   `yaml:"momentum_buy"`
	MomentumSell      float64   `yaml:"momentum_sell"`
	OBIThreshold      float64   `yaml:"obi_threshold"`
	OBIWindow         int       `yaml:"obi_window"`
	TrendThreshold    float64   `yaml:"trend_threshold"`
	TrendWindow       int       `yaml:"trend_window"`
	TrendMinVolumeUSD float64   `yaml:"trend_min_volume_usd"`
	ComboMembers      []string  `yaml:"combo_members"`
	ComboWeights      []float64 `yaml:"combo_weights"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Paper captures paper-trading account settings such as starting cash, per-symbol caps, and execution tuning.
type Paper struct {
	StartingCash         float64 `yaml:"starting_cash"`
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	SlippageBps          float64 `yaml:"slippage_bps"`
	FillsPath            string  `yaml:"fills_path"`
}

// NATS configures the optional outcome publisher.
type NATS struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Subject       string `yaml:"subject"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Engine   Engine   `yaml:"engine"`
	Pacer    Pacer    `yaml:"pacer"`
	Risk     Risk     `yaml:"risk"`
	Filters  Filters  `yaml:"filters"`
	Strategy Strategy `yaml:"strategy"`
	Dex      Dex      `yaml:"dex"`
	Wallet   Wallet   `yaml:"wallet"`
	Paper    Paper    `yaml:"paper"`
	NATS     NATS     `yaml:"nats"`
}

// Load reads a YAML file from disk, hydrates a Config struct and fills defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset knobs with working values.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "modular-trading-agent"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "stub"
	}
	if c.Exchange.KlineInterval == "" {
		c.Exchange.KlineInterval = "1m"
	}
	if c.Exchange.KlineLimit <= 0 {
		c.Exchange.KlineLimit = 200
	}
	if c.Exchange.DexScreener.BaseURL == "" {
		c.Exchange.DexScreener.BaseURL = "https://api.dexscreener.com"
	}
	if c.Exchange.DexScreener.DefaultChain == "" {
		c.Exchange.DexScreener.DefaultChain = "solana"
	}
	if c.Engine.Mode == "" {
		c.Engine.Mode = "pull"
	}
	if c.Engine.Executor == "" {
		c.Engine.Executor = "paper"
	}
	if c.Engine.IntervalMs <= 0 {
		c.Engine.IntervalMs = 5000
	}
	if c.Engine.FailureThreshold <= 0 {
		c.Engine.FailureThreshold = 3
	}
	if c.Engine.OrderType == "" {
		c.Engine.OrderType = "market"
	}
	if c.Paper.StartingCash <= 0 {
		c.Paper.StartingCash = 10_000
	}
	if c.Risk.Equity <= 0 {
		c.Risk.Equity = c.Paper.StartingCash
	}
	if c.Risk.RiskFraction <= 0 {
		c.Risk.RiskFraction = 0.01
	}
	if c.Risk.StopPct <= 0 {
		c.Risk.StopPct = 0.02
	}
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = "sma"
	}
	if c.Dex.Commitment == "" {
		c.Dex.Commitment = "processed"
	}
	if c.Dex.JupiterBase == "" {
		c.Dex.JupiterBase = "https://quote-api.jup.ag"
	}
	if c.Dex.SlippageBps <= 0 {
		c.Dex.SlippageBps = 100
	}
	if c.Dex.QuoteMint == "" {
		c.Dex.QuoteMint = USDCMint
		c.Dex.QuoteDecimals = 6
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "trading.outcomes"
	}
}

func (c *Config) validateGateway(field, name string) []error {
	switch name {
	case "paper", "log":
	case "jupiter":
		if c.Dex.RpcURL == "" {
			return []error{fmt.Errorf("%s jupiter requires dex.rpc_url", field)}
		}
	default:
		return []error{fmt.Errorf("%s %q must be paper, log or jupiter", field, name)}
	}
	return nil
}

// Validate reports every invalid knob at once; any error is fatal at startup.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Exchange.Name) {
	case "stub", "binance", "dexscreener":
	default:
		errs = append(errs, fmt.Errorf("exchange.name %q is not supported", c.Exchange.Name))
	}
	if len(c.Exchange.Symbols) == 0 && !c.Exchange.Discovery.Enabled {
		errs = append(errs, errors.New("exchange.symbols is empty and discovery is disabled"))
	}
	switch strings.ToLower(c.Engine.Mode) {
	case "pull", "stream":
	default:
		errs = append(errs, fmt.Errorf("engine.mode %q must be pull or stream", c.Engine.Mode))
	}
	if strings.EqualFold(c.Engine.Executor, "multi") {
		if len(c.Engine.Executors) == 0 {
			errs = append(errs, errors.New("engine.executor multi requires engine.executors"))
		}
		seen := make(map[string]bool, len(c.Engine.Executors))
		for _, name := range c.Engine.Executors {
			name = strings.ToLower(strings.TrimSpace(name))
			if seen[name] {
				errs = append(errs, fmt.Errorf("engine.executors lists %q twice", name))
			}
			seen[name] = true
			errs = append(errs, c.validateGateway("engine.executors", name)...)
		}
	} else {
		errs = append(errs, c.validateGateway("engine.executor", strings.ToLower(c.Engine.Executor))...)
	}
	switch strings.ToLower(c.Engine.OrderType) {
	case "market", "limit":
	default:
		errs = append(errs, fmt.Errorf("engine.order_type %q must be market or limit", c.Engine.OrderType))
	}
	if c.Risk.Equity <= 0 {
		errs = append(errs, errors.New("risk.equity must be positive"))
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		errs = append(errs, fmt.Errorf("risk.risk_fraction %.4f must be in (0, 1]", c.Risk.RiskFraction))
	}
	if c.Risk.StopPct <= 0 || c.Risk.StopPct >= 1 {
		errs = append(errs, fmt.Errorf("risk.stop_pct %.4f must be in (0, 1)", c.Risk.StopPct))
	}
	if c.Risk.KillSwitchDrawdown < 0 || c.Risk.KillSwitchDrawdown >= 1 {
		errs = append(errs, fmt.Errorf("risk.kill_switch_drawdown %.4f must be in [0, 1)", c.Risk.KillSwitchDrawdown))
	}
	if c.Filters.TradingHours && !validHour(c.Filters.TradingStartHour, c.Filters.TradingEndHour) {
		errs = append(errs, errors.New("filters trading hours must be within 0-23"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	return errors.Join(errs...)
}

func validHour(hours ...int) bool {
	for _, h := range hours {
		if h < 0 || h > 23 {
			return false
		}
	}
	return true
}

// Millis converts a millisecond knob into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
