// Package paper simulates order fills against a virtual account.
package paper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/denniswon/modular-trading-agent/internal/execution"
)

// ErrLimitNotMarketable is returned when a limit order would fill worse than its limit.
var ErrLimitNotMarketable = errors.New("limit price not marketable")

// pricePlaces bounds fill-price precision; meme-token quotes go well below 1e-8.
const pricePlaces = 12

// Executor fills orders at the last known close, optionally adjusted by adverse
// slippage, and books them against an optional Account. Safe for concurrent use.
type Executor struct {
	account     *Account
	recorders   []FillRecorder
	slippageBps decimal.Decimal
	now         func() time.Time
}

// Option customises the paper executor.
type Option func(*Executor)

// WithAccount books fills against account; sells are clipped to the open position.
func WithAccount(account *Account) Option {
	return func(e *Executor) { e.account = account }
}

// WithRecorder appends a fill recorder (ledger, JSONL file).
func WithRecorder(r FillRecorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorders = append(e.recorders, r)
		}
	}
}

// WithSlippageBps applies adverse slippage in basis points to every fill.
func WithSlippageBps(bps float64) Option {
	return func(e *Executor) {
		if bps > 0 {
			e.slippageBps = decimal.NewFromFloat(bps)
		}
	}
}

// WithClock overrides the fill timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor builds a paper executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{slippageBps: decimal.Zero, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Name() string { return "paper" }

// Account exposes the backing account, if any.
func (e *Executor) Account() *Account { return e.account }

// Place simulates a fill. Market orders fill at RefPrice; a limit buy fills only
// when RefPrice <= LimitPrice and a limit sell only when RefPrice >= LimitPrice,
// never past the limit.
func (e *Executor) Place(ctx context.Context, req execution.OrderRequest) execution.OrderResult {
	if err := ctx.Err(); err != nil {
		return execution.Failed(err)
	}
	if err := req.Validate(); err != nil {
		return execution.Failed(err)
	}
	price, err := e.fillPrice(req)
	if err != nil {
		return execution.Failed(err)
	}

	qty, realized := req.Size, 0.0
	if e.account != nil {
		qty, realized, err = e.account.Book(req.Symbol, req.Side, req.Size, price)
		if err != nil {
			return execution.Failed(fmt.Errorf("%s %s: %w", req.Side, req.Symbol, err))
		}
	}

	fill := execution.Fill{
		OrderID:  execution.NewOrderID(),
		ClientID: req.ClientID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Qty:      qty,
		Price:    price,
		PnL:      realized,
		Ts:       e.now(),
	}
	for _, r := range e.recorders {
		r.Record(fill)
	}
	return execution.Filled(fill.OrderID, price, qty, realized)
}

func (e *Executor) fillPrice(req execution.OrderRequest) (float64, error) {
	if req.RefPrice <= 0 {
		return 0, fmt.Errorf("%w: missing reference price", ErrInvalidPrice)
	}
	ref := decimal.NewFromFloat(req.RefPrice)
	slip := e.slippageBps.Div(decimal.NewFromInt(10_000))

	var px decimal.Decimal
	if req.Side == execution.Buy {
		px = ref.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		px = ref.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	if req.Type == execution.Limit {
		limit := decimal.NewFromFloat(req.LimitPrice)
		switch req.Side {
		case execution.Buy:
			if ref.GreaterThan(limit) {
				return 0, fmt.Errorf("%w: buy ref %s above limit %s", ErrLimitNotMarketable, ref, limit)
			}
			px = decimal.Min(px, limit)
		case execution.Sell:
			if ref.LessThan(limit) {
				return 0, fmt.Errorf("%w: sell ref %s below limit %s", ErrLimitNotMarketable, ref, limit)
			}
			px = decimal.Max(px, limit)
		}
	}
	return px.Round(pricePlaces).InexactFloat64(), nil
}
