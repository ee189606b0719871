// Package filter gates actionable signals before they reach risk sizing.
package filter

import (
	"math"
	"time"

	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

// Filter decides whether an actionable signal may proceed. Flat signals always pass.
type Filter interface {
	Name() string
	Allow(snap sig.Snapshot, s sig.Signal) bool
}

// Chain applies filters in order and stops at the first rejection.
type Chain []Filter

// Allow reports whether every filter accepts the signal; blockedBy names the first filter that did not.
func (c Chain) Allow(snap sig.Snapshot, s sig.Signal) (ok bool, blockedBy string) {
	if !s.Actionable() {
		return true, ""
	}
	for _, f := range c {
		if f == nil {
			continue
		}
		if !f.Allow(snap, s) {
			return false, f.Name()
		}
	}
	return true, ""
}

// Names lists the filters in evaluation order.
func (c Chain) Names() []string {
	out := make([]string, 0, len(c))
	for _, f := range c {
		if f != nil {
			out = append(out, f.Name())
		}
	}
	return out
}

// Confidence rejects signals below a minimum confidence.
type Confidence struct {
	Min float64
}

// DefaultMinConfidence is the confidence floor used when none is configured.
const DefaultMinConfidence = 0.6

func NewConfidence(floor float64) Confidence {
	if floor <= 0 {
		floor = DefaultMinConfidence
	}
	return Confidence{Min: floor}
}

func (f Confidence) Name() string { return "confidence" }

func (f Confidence) Allow(_ sig.Snapshot, s sig.Signal) bool {
	if !s.Actionable() {
		return true
	}
	return s.Confidence >= f.Min
}

// Volatility requires the population standard deviation of recent close-to-close
// returns to reach Min.
type Volatility struct {
	Min      float64
	Lookback int
}

func NewVolatility(floor float64, lookback int) Volatility {
	if lookback < 2 {
		lookback = 20
	}
	return Volatility{Min: math.Max(0, floor), Lookback: lookback}
}

func (f Volatility) Name() string { return "volatility" }

func (f Volatility) Allow(snap sig.Snapshot, s sig.Signal) bool {
	if !s.Actionable() {
		return true
	}
	return realizedVolatility(snap.Tail(f.Lookback).Closes()) >= f.Min
}

func realizedVolatility(closes []float64) float64 {
	returns := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	if len(returns) == 0 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	avg := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - avg) * (r - avg)
	}
	return math.Sqrt(variance / float64(len(returns)))
}

// Trend blocks counter-trend signals. The trend is the change between the
// latest close and the close Window candles back; within ±Threshold it is
// neutral and everything passes.
type Trend struct {
	Window    int
	Threshold float64
}

func NewTrend(window int, threshold float64) Trend {
	if window < 2 {
		window = 50
	}
	if threshold <= 0 {
		threshold = 0.02
	}
	return Trend{Window: window, Threshold: threshold}
}

func (f Trend) Name() string { return "trend" }

func (f Trend) Allow(snap sig.Snapshot, s sig.Signal) bool {
	if !s.Actionable() || snap.Len() < f.Window {
		return true
	}
	closes := snap.Tail(f.Window).Closes()
	past := closes[0]
	if past <= 0 {
		return true
	}
	change := (closes[len(closes)-1] - past) / past
	switch {
	case change > f.Threshold:
		return s.Side == sig.Buy
	case change < -f.Threshold:
		return s.Side == sig.Sell
	default:
		return true
	}
}

// TradingHours admits signals only within [Start, End) UTC hours.
type TradingHours struct {
	Start int
	End   int
	Now   func() time.Time
}

func NewTradingHours(start, end int, clock func() time.Time) TradingHours {
	if clock == nil {
		clock = time.Now
	}
	return TradingHours{Start: start, End: end, Now: clock}
}

func (f TradingHours) Name() string { return "trading_hours" }

func (f TradingHours) Allow(_ sig.Snapshot, s sig.Signal) bool {
	if !s.Actionable() {
		return true
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	hour := now().UTC().Hour()
	if f.Start <= f.End {
		return f.Start <= hour && hour < f.End
	}
	// window wraps midnight, e.g. 22 -> 6
	return hour >= f.Start || hour < f.End
}

// PriceMove suppresses signals when the last candle barely moved from the one before.
type PriceMove struct {
	MinChange float64
}

func NewPriceMove(minChange float64) PriceMove {
	return PriceMove{MinChange: math.Max(0, minChange)}
}

func (f PriceMove) Name() string { return "price_move" }

func (f PriceMove) Allow(snap sig.Snapshot, s sig.Signal) bool {
	if !s.Actionable() || snap.Len() < 2 {
		return true
	}
	closes := snap.Tail(2).Closes()
	if closes[0] <= 0 {
		return true
	}
	return math.Abs(closes[1]-closes[0])/closes[0] >= f.MinChange
}
