package strategy

import (
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

// Momentum compares the latest close with the close lookback candles earlier.
type Momentum struct {
	lookback int
	buy      float64
	sell     float64
}

// NewMomentum builds a momentum strategy. buy is a positive fractional change,
// sell a negative one; zero values fall back to +2% / -1.5%.
func NewMomentum(lookback int, buy, sell float64) *Momentum {
	if lookback <= 0 {
		lookback = 1
	}
	if buy <= 0 {
		buy = 0.02
	}
	if sell >= 0 {
		sell = -0.015
	}
	return &Momentum{lookback: lookback, buy: buy, sell: sell}
}

func (m *Momentum) Name() string { return "Momentum" }

func (m *Momentum) Lookback() int { return m.lookback + 1 }

func (m *Momentum) Generate(snap sig.Snapshot) sig.Signal {
	if snap.Len() < m.Lookback() {
		return insufficient(snap, m.Lookback())
	}
	closes := snap.Tail(m.Lookback()).Closes()
	anchor, last := closes[0], closes[len(closes)-1]
	ts := lastTs(snap)
	if anchor <= 0 {
		return sig.FlatSignal(snap.Symbol, 0, ts, map[string]any{"reason": "non-positive anchor price"})
	}
	change := (last - anchor) / anchor
	meta := map[string]any{"change": change}
	conf := min(0.9, 0.5+abs(change)*2)

	switch {
	case change >= m.buy:
		meta["reason"] = "upward momentum"
		return sig.NewSignal(snap.Symbol, sig.Buy, conf, ts, meta)
	case change <= m.sell:
		meta["reason"] = "downward momentum"
		return sig.NewSignal(snap.Symbol, sig.Sell, conf, ts, meta)
	default:
		meta["reason"] = "within band"
		return sig.FlatSignal(snap.Symbol, 0.7, ts, meta)
	}
}
