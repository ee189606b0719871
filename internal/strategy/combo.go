package strategy

import (
	"errors"
	"fmt"

	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

var defaultComboWeights = []float64{0.6, 0.4}

// Weighted pairs a member strategy with its vote weight.
type Weighted struct {
	Strategy Strategy
	Weight   float64
}

// Combo merges member signals with a tie-break that does not depend on member order:
//
//   - every member on the same side: that side at min(0.95, 1.2*w)
//   - one actionable side mixed with flat members: flat at 0.8*w
//   - buy and sell both present: flat at 0.4
//
// where w is the weight-normalised mean member confidence.
type Combo struct {
	members  []Weighted
	lookback int
}

// NewCombo validates members and weights.
func NewCombo(members ...Weighted) (*Combo, error) {
	if len(members) == 0 {
		return nil, errors.New("combo requires at least one member")
	}
	lookback := 0
	for i, m := range members {
		if m.Strategy == nil {
			return nil, fmt.Errorf("combo member %d is nil", i)
		}
		if m.Weight <= 0 {
			return nil, fmt.Errorf("combo member %s: weight must be positive", m.Strategy.Name())
		}
		lookback = max(lookback, m.Strategy.Lookback())
	}
	return &Combo{members: append([]Weighted(nil), members...), lookback: lookback}, nil
}

func (c *Combo) Name() string { return "Combo" }

func (c *Combo) Lookback() int { return c.lookback }

func (c *Combo) Generate(snap sig.Snapshot) sig.Signal {
	if snap.Len() < c.lookback {
		return insufficient(snap, c.lookback)
	}
	var (
		weighted, total float64
		buys, sells     int
		votes           = make(map[string]any, len(c.members))
	)
	for _, m := range c.members {
		s := m.Strategy.Generate(snap)
		votes[m.Strategy.Name()] = fmt.Sprintf("%s@%.2f", s.Side, s.Confidence)
		weighted += m.Weight * s.Confidence
		total += m.Weight
		switch s.Side {
		case sig.Buy:
			buys++
		case sig.Sell:
			sells++
		}
	}
	w := weighted / total
	meta := map[string]any{"votes": votes, "weighted_confidence": w}
	ts := lastTs(snap)
	n := len(c.members)

	switch {
	case buys > 0 && sells > 0:
		meta["reason"] = "conflict"
		return sig.FlatSignal(snap.Symbol, 0.4, ts, meta)
	case buys == n:
		meta["reason"] = "consensus"
		return sig.NewSignal(snap.Symbol, sig.Buy, min(0.95, 1.2*w), ts, meta)
	case sells == n:
		meta["reason"] = "consensus"
		return sig.NewSignal(snap.Symbol, sig.Sell, min(0.95, 1.2*w), ts, meta)
	case buys == 0 && sells == 0:
		meta["reason"] = "consensus"
		return sig.FlatSignal(snap.Symbol, min(0.95, 1.2*w), ts, meta)
	default:
		meta["reason"] = "partial agreement"
		return sig.FlatSignal(snap.Symbol, 0.8*w, ts, meta)
	}
}
