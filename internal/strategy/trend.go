package strategy

import (
	"fmt"
	"math"

	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

// TrendFollower emits signals when price change over a lookback window exceeds a threshold alongside minimum traded notional.
type TrendFollower struct {
	threshold float64
	window    int
	minVolume float64
}

// NewTrendFollower builds a trend-following strategy using percent change and volume filters.
func NewTrendFollower(threshold float64, window int, minVolumeUSD float64) *TrendFollower {
	if threshold <= 0 {
		threshold = 0.05
	}
	if window <= 0 {
		window = 10
	}
	return &TrendFollower{
		threshold: threshold,
		window:    window,
		minVolume: math.Max(0, minVolumeUSD),
	}
}

// Name returns the configured identifier for logging.
func (t *TrendFollower) Name() string { return "TrendFollower" }

func (t *TrendFollower) Lookback() int { return t.window + 1 }

// Generate evaluates momentum and volume to decide whether to emit a signal.
func (t *TrendFollower) Generate(snap sig.Snapshot) sig.Signal {
	if snap.Len() < t.Lookback() {
		return insufficient(snap, t.Lookback())
	}
	candles := snap.Tail(t.Lookback()).Candles()
	oldest, latest := candles[0], candles[len(candles)-1]
	ts := lastTs(snap)
	if oldest.Close <= 0 {
		return sig.FlatSignal(snap.Symbol, 0, ts, map[string]any{"reason": "non-positive anchor price"})
	}

	var notional float64
	for _, c := range candles[1:] {
		notional += math.Abs(c.Close * c.Volume)
	}
	change := (latest.Close - oldest.Close) / oldest.Close
	meta := map[string]any{
		"change":   change,
		"notional": notional,
		"reason":   fmt.Sprintf("Δ=%.2f%% volume=%.0f", change*100, notional),
	}
	if math.Abs(change) < t.threshold {
		return sig.FlatSignal(snap.Symbol, 0.5, ts, meta)
	}
	if t.minVolume > 0 && notional < t.minVolume {
		return sig.FlatSignal(snap.Symbol, 0.3, ts, meta)
	}
	side := sig.Buy
	if change < 0 {
		side = sig.Sell
	}
	return sig.NewSignal(snap.Symbol, side, min(0.9, 0.5+math.Abs(change)*2), ts, meta)
}
