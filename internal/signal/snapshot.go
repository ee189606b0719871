package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnordered is returned when candles are not strictly ascending by timestamp.
var ErrUnordered = errors.New("candles not in ascending timestamp order")

// ErrEmptySnapshot is returned when a snapshot has no candles.
var ErrEmptySnapshot = errors.New("snapshot has no candles")

// Candle is a single OHLCV bar. Treat as immutable once produced.
type Candle struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Snapshot is the normalized oldest-to-newest candle history for one symbol.
type Snapshot struct {
	Symbol  string
	candles []Candle
}

// NewSnapshot copies candles into a Snapshot after checking their order.
func NewSnapshot(symbol string, candles []Candle) (Snapshot, error) {
	if len(candles) == 0 {
		return Snapshot{}, fmt.Errorf("%s: %w", symbol, ErrEmptySnapshot)
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].Ts.After(candles[i-1].Ts) {
			return Snapshot{}, fmt.Errorf("%s: candle %d: %w", symbol, i, ErrUnordered)
		}
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return Snapshot{Symbol: symbol, candles: out}, nil
}

// MustSnapshot panics on invalid input; intended for fixtures.
func MustSnapshot(symbol string, candles []Candle) Snapshot {
	snap, err := NewSnapshot(symbol, candles)
	if err != nil {
		panic(err)
	}
	return snap
}

// Len returns the number of candles.
func (s Snapshot) Len() int { return len(s.candles) }

// Candles returns a copy of the history.
func (s Snapshot) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Last returns the newest candle.
func (s Snapshot) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// LastClose returns the newest close, or 0 for an empty snapshot.
func (s Snapshot) LastClose() float64 {
	c, _ := s.Last()
	return c.Close
}

// Closes returns the close series.
func (s Snapshot) Closes() []float64 {
	out := make([]float64, len(s.candles))
	for i, c := range s.candles {
		out[i] = c.Close
	}
	return out
}

// Tail returns a snapshot over the newest n candles (or all of them when n exceeds Len).
func (s Snapshot) Tail(n int) Snapshot {
	if n <= 0 {
		return Snapshot{Symbol: s.Symbol}
	}
	if n >= len(s.candles) {
		return s
	}
	return Snapshot{Symbol: s.Symbol, candles: s.candles[len(s.candles)-n:]}
}

// Age reports how old the newest candle is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	c, ok := s.Last()
	if !ok {
		return 0
	}
	return now.Sub(c.Ts)
}
