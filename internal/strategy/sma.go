package strategy

import (
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

const (
	defaultFastWindow = 5
	defaultSlowWindow = 20
)

// SMACrossover emits a directional signal on the candle where the fast moving
// average crosses the slow one and stays flat otherwise.
type SMACrossover struct {
	fast int
	slow int
}

// NewSMACrossover builds the crossover strategy; non-positive windows fall back to 5/20.
func NewSMACrossover(fast, slow int) *SMACrossover {
	if fast <= 0 {
		fast = defaultFastWindow
	}
	if slow <= 0 {
		slow = defaultSlowWindow
	}
	if fast > slow {
		fast, slow = slow, fast
	}
	if fast == slow {
		slow++
	}
	return &SMACrossover{fast: fast, slow: slow}
}

// Name returns the identifier for logging.
func (s *SMACrossover) Name() string { return "SMACrossover" }

// Lookback is the slow window plus the previous candle needed to detect a cross.
func (s *SMACrossover) Lookback() int { return s.slow + 1 }

// Generate compares the averages on the last two candles.
func (s *SMACrossover) Generate(snap sig.Snapshot) sig.Signal {
	if snap.Len() < s.Lookback() {
		return insufficient(snap, s.Lookback())
	}
	closes := snap.Tail(s.Lookback()).Closes()
	prev, curr := closes[:len(closes)-1], closes[1:]

	prevFast, prevSlow := mean(prev[len(prev)-s.fast:]), mean(prev)
	fast, slow := mean(curr[len(curr)-s.fast:]), mean(curr)

	meta := map[string]any{"fast_ma": fast, "slow_ma": slow}
	ts := lastTs(snap)
	if slow <= 0 {
		return sig.FlatSignal(snap.Symbol, 0, ts, meta)
	}
	separation := abs(fast-slow) / slow
	meta["separation"] = separation
	conf := min(0.95, 0.6+separation*10)

	switch {
	case prevFast <= prevSlow && fast > slow:
		meta["reason"] = "bullish crossover"
		return sig.NewSignal(snap.Symbol, sig.Buy, conf, ts, meta)
	case prevFast >= prevSlow && fast < slow:
		meta["reason"] = "bearish crossover"
		return sig.NewSignal(snap.Symbol, sig.Sell, conf, ts, meta)
	default:
		meta["reason"] = "no crossover"
		return sig.FlatSignal(snap.Symbol, 0.6, ts, meta)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
