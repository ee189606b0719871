// Package pipeline runs a strategy and its pre-trade filter chain over a snapshot.
package pipeline

import (
	"errors"

	"github.com/denniswon/modular-trading-agent/internal/filter"
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
	"github.com/denniswon/modular-trading-agent/internal/strategy"
)

// Decision is the outcome of one evaluation. A blocked signal is a skip, not an error.
type Decision struct {
	Signal    sig.Signal
	Allowed   bool
	BlockedBy string
}

// Tradeable reports whether the decision should proceed to sizing.
func (d Decision) Tradeable() bool {
	return d.Allowed && d.Signal.Actionable()
}

// Pipeline couples one strategy with an ordered filter chain.
type Pipeline struct {
	strategy strategy.Strategy
	filters  filter.Chain
}

// New builds a pipeline. Filters run in the given order.
func New(s strategy.Strategy, filters ...filter.Filter) (*Pipeline, error) {
	if s == nil {
		return nil, errors.New("pipeline requires a strategy")
	}
	return &Pipeline{strategy: s, filters: filter.Chain(filters)}, nil
}

// Strategy exposes the configured strategy.
func (p *Pipeline) Strategy() strategy.Strategy { return p.strategy }

// Filters exposes the configured chain.
func (p *Pipeline) Filters() filter.Chain { return p.filters }

// Lookback is the history the strategy needs to leave the insufficient-data path.
func (p *Pipeline) Lookback() int { return p.strategy.Lookback() }

// Evaluate generates a signal and runs it through the filters.
func (p *Pipeline) Evaluate(snap sig.Snapshot) Decision {
	return p.Filter(snap, p.Signal(snap))
}

// Signal runs only the strategy stage.
func (p *Pipeline) Signal(snap sig.Snapshot) sig.Signal {
	return p.strategy.Generate(snap)
}

// Filter runs only the filter stage for an already generated signal.
func (p *Pipeline) Filter(snap sig.Snapshot, s sig.Signal) Decision {
	ok, blockedBy := p.filters.Allow(snap, s)
	return Decision{Signal: s, Allowed: ok, BlockedBy: blockedBy}
}
