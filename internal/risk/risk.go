// Package risk converts signals into bounded position sizes and enforces account-level limits.
package risk

import (
	"errors"
	"fmt"
	"math"

	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

var (
	// ErrInvalidStopDistance is returned when entry and stop coincide.
	ErrInvalidStopDistance = errors.New("invalid stop distance")
	// ErrFlatSignal is returned when a flat signal reaches the sizer.
	ErrFlatSignal = errors.New("flat signal cannot be sized")
)

// PositionSize risks equity*riskFraction over the distance between entry and stop.
func PositionSize(s sig.Signal, entry, stop, equity, riskFraction float64) (float64, error) {
	if !s.Actionable() {
		return 0, ErrFlatSignal
	}
	distance := math.Abs(entry - stop)
	if distance == 0 || math.IsNaN(distance) {
		return 0, fmt.Errorf("%w: entry=%g stop=%g", ErrInvalidStopDistance, entry, stop)
	}
	if equity <= 0 || riskFraction <= 0 {
		return 0, nil
	}
	return (equity * riskFraction) / distance, nil
}

// StopPrice places a protective stop pct away from entry on the losing side of the trade.
func StopPrice(side sig.Side, entry, pct float64) float64 {
	switch side {
	case sig.Buy:
		return entry * (1 - pct)
	case sig.Sell:
		return entry * (1 + pct)
	default:
		return entry
	}
}

// Limits caps exposure per order and halts trading past a drawdown.
// Zero values disable the corresponding check.
type Limits struct {
	MaxNotionalPerTrade float64
	KillSwitchDrawdown  float64
}

// Allow reports whether an order notional fits under the per-trade cap.
func (l Limits) Allow(notional float64) bool {
	if l.MaxNotionalPerTrade <= 0 {
		return true
	}
	return notional <= l.MaxNotionalPerTrade
}

// Clamp shrinks size so that size*price stays within the per-trade cap.
func (l Limits) Clamp(size, price float64) float64 {
	if size <= 0 {
		return 0
	}
	if l.MaxNotionalPerTrade <= 0 || price <= 0 {
		return size
	}
	return math.Min(size, l.MaxNotionalPerTrade/price)
}

// Halted reports whether equity has fallen from start by at least the kill-switch fraction.
func (l Limits) Halted(start, equity float64) bool {
	if l.KillSwitchDrawdown <= 0 || start <= 0 {
		return false
	}
	return (start-equity)/start >= l.KillSwitchDrawdown
}
