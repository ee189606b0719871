// Package strategy turns candle snapshots into trading signals.
package strategy

import (
	"fmt"
	"math"

	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

// OBIMomentum models a candle-direction volume imbalance plus price momentum heuristic over a sliding window.
type OBIMomentum struct {
	threshold float64
	window    int
}

// Name returns the identifier for the strategy implementation.
func (s *OBIMomentum) Name() string { return "OBIMomentum" }

// NewOBIMomentum builds an OBIMomentum instance using threshold and look-back window in candles.
func NewOBIMomentum(threshold float64, window int) *OBIMomentum {
	if threshold <= 0 {
		threshold = 0.25
	}
	if window <= 1 {
		window = 20
	}
	return &OBIMomentum{threshold: threshold, window: window}
}

func (s *OBIMomentum) Lookback() int { return s.window }

// Generate combines the volume imbalance of up versus down candles with tanh-scaled momentum.
func (s *OBIMomentum) Generate(snap sig.Snapshot) sig.Signal {
	if snap.Len() < s.window {
		return insufficient(snap, s.window)
	}
	candles := snap.Tail(s.window).Candles()
	obi, momentum := imbalanceFeatures(candles)
	score := 0.6*obi + 0.4*momentum
	meta := map[string]any{
		"obi":      obi,
		"momentum": momentum,
		"score":    score,
		"reason":   fmt.Sprintf("obi=%.2f momentum=%.2f", obi, momentum),
	}
	ts := lastTs(snap)
	if math.Abs(score) < s.threshold {
		return sig.FlatSignal(snap.Symbol, 0.5, ts, meta)
	}
	side := sig.Buy
	if score < 0 {
		side = sig.Sell
	}
	return sig.NewSignal(snap.Symbol, side, min(0.95, 0.5+math.Abs(score)/2), ts, meta)
}

func imbalanceFeatures(candles []sig.Candle) (float64, float64) {
	if len(candles) == 0 {
		return 0, 0
	}

	var buyVol, sellVol float64
	for i, c := range candles {
		vol := math.Abs(c.Volume)
		up := c.Close > c.Open
		if c.Close == c.Open && i > 0 {
			// single-price candles carry direction relative to the previous close
			up = c.Close >= candles[i-1].Close
		} else if c.Close == c.Open {
			up = true
		}
		if up {
			buyVol += vol
		} else {
			sellVol += vol
		}
	}

	total := buyVol + sellVol
	var obi float64
	if total > 0 {
		obi = clamp((buyVol-sellVol)/total, -1, 1)
	}

	anchor := candles[0].Close
	momentum := 0.0
	if anchor > 0 {
		raw := (candles[len(candles)-1].Close - anchor) / anchor
		momentum = clamp(math.Tanh(raw*3), -1, 1)
	}

	return obi, momentum
}
