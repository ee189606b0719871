package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

// ErrInsufficientHistory is reported in signal metadata when a snapshot is shorter than the lookback.
var ErrInsufficientHistory = errors.New("insufficient history")

// insufficientCeiling caps the confidence of a flat signal produced for lack of data.
const insufficientCeiling = 0.2

// Strategy turns a snapshot into a signal. Implementations are pure: the
// result depends only on the snapshot and construction-time parameters.
type Strategy interface {
	Name() string
	Lookback() int
	Generate(s sig.Snapshot) sig.Signal
}

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	FastWindow        int
	SlowWindow        int
	RSIPeriod         int
	RSIOversold       float64
	RSIOverbought     float64
	MomentumLookback  int
	MomentumBuy       float64
	MomentumSell      float64
	OBIThreshold      float64
	OBIWindow         int
	TrendThreshold    float64
	TrendWindow       int
	TrendMinVolumeUSD float64
	ComboMembers      []string
	ComboWeights      []float64
}

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params) (Strategy, error) {
	switch normalizeMode(mode) {
	case "", "sma", "sma_crossover", "ma_crossover":
		return NewSMACrossover(params.FastWindow, params.SlowWindow), nil
	case "rsi":
		return NewRSI(params.RSIPeriod, params.RSIOversold, params.RSIOverbought), nil
	case "momentum", "simple":
		return NewMomentum(params.MomentumLookback, params.MomentumBuy, params.MomentumSell), nil
	case "obi", "obi_momentum":
		return NewOBIMomentum(params.OBIThreshold, params.OBIWindow), nil
	case "trend", "trend_follow", "trend_follower":
		return NewTrendFollower(params.TrendThreshold, params.TrendWindow, params.TrendMinVolumeUSD), nil
	case "combo", "combined":
		members := params.ComboMembers
		if len(members) == 0 {
			members = []string{"sma", "rsi"}
		}
		weighted := make([]Weighted, 0, len(members))
		for i, name := range members {
			if normalizeMode(name) == "combo" || normalizeMode(name) == "combined" {
				return nil, fmt.Errorf("combo cannot nest itself")
			}
			member, err := Build(name, params)
			if err != nil {
				return nil, err
			}
			w := 1.0
			if i < len(params.ComboWeights) {
				w = params.ComboWeights[i]
			} else if len(params.ComboMembers) == 0 && i < len(defaultComboWeights) {
				w = defaultComboWeights[i]
			}
			weighted = append(weighted, Weighted{Strategy: member, Weight: w})
		}
		return NewCombo(weighted...)
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}

func normalizeMode(mode string) string {
	return strings.ToLower(strings.TrimSpace(mode))
}

// insufficient returns the flat signal used when fewer than need candles are available.
func insufficient(s sig.Snapshot, need int) sig.Signal {
	have := s.Len()
	conf := 0.0
	if need > 0 {
		conf = insufficientCeiling * float64(have) / float64(need)
	}
	if conf > insufficientCeiling {
		conf = insufficientCeiling
	}
	return sig.FlatSignal(s.Symbol, conf, lastTs(s), map[string]any{
		"reason": ErrInsufficientHistory.Error(),
		"have":   have,
		"need":   need,
	})
}

func lastTs(s sig.Snapshot) time.Time {
	if c, ok := s.Last(); ok {
		return c.Ts
	}
	return time.Time{}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
