// Package signal standardizes payloads shared between data ingestion and strategy layers.
package signal

import (
	"math"
	"strings"
	"time"
)

// Side is the directional bias carried by a Signal.
type Side string

const (
	// Buy requests a long entry.
	Buy Side = "buy"
	// Sell requests a short entry or an exit.
	Sell Side = "sell"
	// Flat means no action.
	Flat Side = "flat"
)

// ParseSide normalizes loose side strings; anything unknown becomes Flat.
func ParseSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return Buy
	case "sell", "short":
		return Sell
	default:
		return Flat
	}
}

// Signal expresses a trading bias produced by a strategy implementation.
type Signal struct {
	Symbol     string
	Side       Side
	Confidence float64        // always within [0, 1]
	Metadata   map[string]any // diagnostics only
	Ts         time.Time
}

// NewSignal builds a Signal with confidence clamped into [0, 1] and unknown sides coerced to Flat.
func NewSignal(symbol string, side Side, confidence float64, ts time.Time, metadata map[string]any) Signal {
	switch side {
	case Buy, Sell, Flat:
	default:
		side = Flat
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Signal{
		Symbol:     symbol,
		Side:       side,
		Confidence: ClampConfidence(confidence),
		Metadata:   metadata,
		Ts:         ts,
	}
}

// FlatSignal is shorthand for a no-action signal.
func FlatSignal(symbol string, confidence float64, ts time.Time, metadata map[string]any) Signal {
	return NewSignal(symbol, Flat, confidence, ts, metadata)
}

// Actionable reports whether the signal asks for a trade.
func (s Signal) Actionable() bool {
	return s.Side == Buy || s.Side == Sell
}

// ClampConfidence forces v into [0, 1]; NaN maps to 0.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
