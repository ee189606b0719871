package paper

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/denniswon/modular-trading-agent/internal/execution"
)

// FillRecorder receives every booked paper fill.
type FillRecorder interface {
	Record(execution.Fill)
}

var (
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrPositionLimit        = errors.New("per-symbol position cap reached")
	ErrInsufficientPosition = fmt.Errorf("%w to sell", execution.ErrNoPosition)
	ErrUnknownSide          = errors.New("unknown order side")
)

const epsilon = 1e-9

type lot struct {
	qty     float64
	avgCost float64
}

// Account is a long-only virtual book: cash, average-cost lots per symbol,
// realised PnL and closed-trade win counts.
type Account struct {
	mu           sync.Mutex
	startingCash float64
	cash         float64
	realized     float64
	maxPerSymbol float64
	closed       int
	wins         int
	lots         map[string]*lot
}

// PositionSnapshot is one symbol's lot marked at a price.
type PositionSnapshot struct {
	Qty         float64 `json:"qty"`
	AvgCost     float64 `json:"avg_cost"`
	Mark        float64 `json:"mark"`
	MarketValue float64 `json:"market_value"`
	Unrealized  float64 `json:"unrealized_pnl"`
}

// Snapshot is a point-in-time copy of the account.
type Snapshot struct {
	Cash         float64                     `json:"cash"`
	RealizedPnL  float64                     `json:"realized_pnl"`
	Equity       float64                     `json:"equity"`
	ReturnPct    float64                     `json:"return_pct"`
	ClosedTrades int                         `json:"closed_trades"`
	Wins         int                         `json:"wins"`
	Positions    map[string]PositionSnapshot `json:"positions"`
}

// NewAccount funds an account with startingCash. maxPerSymbol caps the held
// quantity of any one symbol; zero disables the cap.
func NewAccount(startingCash, maxPerSymbol float64) *Account {
	return &Account{
		startingCash: startingCash,
		cash:         startingCash,
		maxPerSymbol: maxPerSymbol,
		lots:         make(map[string]*lot),
	}
}

// Book applies a fill of qty at price and returns the booked quantity and its
// realised PnL. Buys must fit in cash and the per-symbol cap. Sells are
// reduce-only: they are clipped to the held quantity and fail without a position.
func (a *Account) Book(symbol string, side execution.Side, qty, price float64) (float64, float64, error) {
	switch {
	case qty <= 0:
		return 0, 0, ErrInvalidQuantity
	case price <= 0:
		return 0, 0, ErrInvalidPrice
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	l := a.lots[symbol]
	switch side {
	case execution.Buy:
		cost := qty * price
		if cost > a.cash+epsilon {
			return 0, 0, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, cost, a.cash)
		}
		held := 0.0
		if l != nil {
			held = l.qty
		}
		if a.maxPerSymbol > 0 && held+qty > a.maxPerSymbol+epsilon {
			return 0, 0, fmt.Errorf("%w: %s would hold %.6f", ErrPositionLimit, symbol, held+qty)
		}
		if l == nil {
			l = &lot{}
			a.lots[symbol] = l
		}
		l.avgCost = (l.avgCost*l.qty + cost) / (l.qty + qty)
		l.qty += qty
		a.cash -= cost
		return qty, 0, nil

	case execution.Sell:
		if l == nil || l.qty <= epsilon {
			return 0, 0, ErrInsufficientPosition
		}
		qty = math.Min(qty, l.qty)
		pnl := (price - l.avgCost) * qty
		a.cash += qty * price
		a.realized += pnl
		a.closed++
		if pnl > 0 {
			a.wins++
		}
		if l.qty -= qty; l.qty <= epsilon {
			delete(a.lots, symbol)
		}
		return qty, pnl, nil
	}
	return 0, 0, fmt.Errorf("%w %q", ErrUnknownSide, side)
}

// Snapshot marks every lot at marks[symbol]. Lots without a mark are valued at cost.
func (a *Account) Snapshot(marks map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Cash:         a.cash,
		RealizedPnL:  a.realized,
		Equity:       a.cash,
		ClosedTrades: a.closed,
		Wins:         a.wins,
		Positions:    make(map[string]PositionSnapshot, len(a.lots)),
	}
	for sym, l := range a.lots {
		mark, ok := marks[sym]
		if !ok || mark <= 0 {
			mark = l.avgCost
		}
		pos := PositionSnapshot{
			Qty:         l.qty,
			AvgCost:     l.avgCost,
			Mark:        mark,
			MarketValue: l.qty * mark,
			Unrealized:  (mark - l.avgCost) * l.qty,
		}
		snap.Positions[sym] = pos
		snap.Equity += pos.MarketValue
	}
	if a.startingCash > 0 {
		snap.ReturnPct = (snap.Equity - a.startingCash) / a.startingCash * 100
	}
	return snap
}

// Position returns the held quantity of symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l := a.lots[symbol]; l != nil {
		return l.qty
	}
	return 0
}

// RealizedPnL returns closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realized
}
