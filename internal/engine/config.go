package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/execution"
	"github.com/denniswon/modular-trading-agent/internal/risk"
)

// Scheduling modes.
const (
	ModePull   = "pull"
	ModeStream = "stream"
)

const (
	defaultInterval         = 5 * time.Second
	defaultFailureThreshold = 3
	defaultStopPct          = 0.02
	defaultExecuteTimeout   = 10 * time.Second
)

// Config is the immutable run configuration handed to the orchestrator.
type Config struct {
	Symbols          []string
	Mode             string
	Interval         time.Duration
	Iterations       int           // pull mode budget, 0 = unbounded
	Duration         time.Duration // 0 = until the context ends
	Equity           float64
	RiskFraction     float64
	StopPct          float64
	OrderType        execution.OrderType
	LimitOffsetPct   float64
	FailureThreshold int
	UseStaleData     bool
	MaxStaleness     time.Duration // 0 disables the age check
	ExecuteTimeout   time.Duration
	WindowSize       int
	Limits           risk.Limits
}

// WithDefaults fills unset tunables.
func (c Config) WithDefaults() Config {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModePull
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.StopPct <= 0 {
		c.StopPct = defaultStopPct
	}
	if c.OrderType == "" {
		c.OrderType = execution.Market
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = defaultExecuteTimeout
	}
	c.Symbols = append([]string(nil), c.Symbols...)
	return c
}

// Validate reports configuration errors that must abort startup.
func (c Config) Validate() error {
	var errs []error
	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol is required"))
	}
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("symbols must not be blank"))
			break
		}
	}
	if c.Mode != ModePull && c.Mode != ModeStream {
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if !(c.Equity > 0) {
		errs = append(errs, fmt.Errorf("equity must be positive, got %g", c.Equity))
	}
	if !(c.RiskFraction > 0) || c.RiskFraction > 1 {
		errs = append(errs, fmt.Errorf("risk fraction must be in (0, 1], got %g", c.RiskFraction))
	}
	if c.StopPct >= 1 {
		errs = append(errs, fmt.Errorf("stop pct must be below 1, got %g", c.StopPct))
	}
	if c.OrderType != execution.Market && c.OrderType != execution.Limit {
		errs = append(errs, fmt.Errorf("unknown order type %q", c.OrderType))
	}
	if c.Iterations < 0 {
		errs = append(errs, errors.New("iterations must not be negative"))
	}
	if c.Limits.KillSwitchDrawdown < 0 || c.Limits.KillSwitchDrawdown > 1 {
		errs = append(errs, fmt.Errorf("kill switch drawdown must be in [0, 1], got %g", c.Limits.KillSwitchDrawdown))
	}
	return errors.Join(errs...)
}
