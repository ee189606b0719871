package strategy

import (
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

const (
	defaultRSIPeriod     = 14
	defaultRSIOversold   = 30.0
	defaultRSIOverbought = 70.0
)

// RSI buys oversold and sells overbought readings of the relative strength index.
type RSI struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSI builds the strategy; zero values fall back to 14/30/70.
func NewRSI(period int, oversold, overbought float64) *RSI {
	if period <= 0 {
		period = defaultRSIPeriod
	}
	if oversold <= 0 || oversold >= 100 {
		oversold = defaultRSIOversold
	}
	if overbought <= oversold || overbought >= 100 {
		overbought = defaultRSIOverbought
	}
	if overbought <= oversold {
		oversold, overbought = defaultRSIOversold, defaultRSIOverbought
	}
	return &RSI{period: period, oversold: oversold, overbought: overbought}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Lookback() int { return r.period + 1 }

func (r *RSI) Generate(snap sig.Snapshot) sig.Signal {
	if snap.Len() < r.Lookback() {
		return insufficient(snap, r.Lookback())
	}
	value := relativeStrength(snap.Tail(r.Lookback()).Closes())
	meta := map[string]any{"rsi": value}
	ts := lastTs(snap)

	switch {
	case value <= r.oversold:
		meta["reason"] = "oversold"
		conf := min(0.9, 0.5+(r.oversold-value)/r.oversold)
		return sig.NewSignal(snap.Symbol, sig.Buy, conf, ts, meta)
	case value >= r.overbought:
		meta["reason"] = "overbought"
		conf := min(0.9, 0.5+(value-r.overbought)/(100-r.overbought))
		return sig.NewSignal(snap.Symbol, sig.Sell, conf, ts, meta)
	default:
		meta["reason"] = "neutral"
		return sig.FlatSignal(snap.Symbol, 0.6, ts, meta)
	}
}

// relativeStrength computes a simple-average RSI over consecutive deltas.
func relativeStrength(closes []float64) float64 {
	if len(closes) < 2 {
		return 50
	}
	var gains, losses float64
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	n := float64(len(closes) - 1)
	avgGain, avgLoss := gains/n, losses/n
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
