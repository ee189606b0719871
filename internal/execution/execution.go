// Package execution handles order requests, results and the executors that place them.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

var (
	// ErrExecutionFailed wraps every error carried by a failed OrderResult.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrInvalidOrder is returned when an order request cannot be built.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrNoPosition marks a reduce order against a symbol the venue holds nothing of.
	ErrNoPosition = errors.New("no open position")
)

// SideFromSignal maps an actionable signal side onto an order side.
func SideFromSignal(s sig.Side) (Side, error) {
	switch s {
	case sig.Buy:
		return Buy, nil
	case sig.Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("%w: %s signal has no order side", ErrInvalidOrder, s)
	}
}

// OrderRequest is a sized instruction built from an actionable signal.
type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       Side
	Size       float64
	Type       OrderType
	LimitPrice float64 // only for limit orders
	RefPrice   float64 // last known close
}

// NewOrderRequest builds a request; flat signals and non-positive sizes are refused.
func NewOrderRequest(s sig.Signal, size float64, typ OrderType, limitPrice, refPrice float64) (OrderRequest, error) {
	side, err := SideFromSignal(s.Side)
	if err != nil {
		return OrderRequest{}, err
	}
	if typ == "" {
		typ = Market
	}
	req := OrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     s.Symbol,
		Side:       side,
		Size:       size,
		Type:       typ,
		LimitPrice: limitPrice,
		RefPrice:   refPrice,
	}
	if err := req.Validate(); err != nil {
		return OrderRequest{}, err
	}
	return req, nil
}

// Validate checks the request invariants.
func (r OrderRequest) Validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	case r.Side != Buy && r.Side != Sell:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, r.Side)
	case !(r.Size > 0) || math.IsInf(r.Size, 0):
		return fmt.Errorf("%w: size must be positive, got %g", ErrInvalidOrder, r.Size)
	case r.Type != Market && r.Type != Limit:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, r.Type)
	case r.Type == Limit && r.LimitPrice <= 0:
		return fmt.Errorf("%w: limit order requires a positive limit price", ErrInvalidOrder)
	}
	return nil
}

// OrderResult reports a fill or a failure. OrderID is set iff OK; Err is set iff !OK.
type OrderResult struct {
	OK          bool
	OrderID     string
	FilledPrice float64
	FilledSize  float64
	RealizedPnL float64
	Err         error
}

// Filled builds a successful result.
func Filled(orderID string, price, size, realized float64) OrderResult {
	return OrderResult{OK: true, OrderID: orderID, FilledPrice: price, FilledSize: size, RealizedPnL: realized}
}

// Failed builds a failed result whose error matches ErrExecutionFailed.
func Failed(err error) OrderResult {
	if err == nil {
		err = ErrExecutionFailed
	} else if !errors.Is(err, ErrExecutionFailed) {
		err = fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	return OrderResult{Err: err}
}

// Notional is the filled value in quote currency.
func (r OrderResult) Notional() float64 { return r.FilledPrice * r.FilledSize }

// Executor places orders. Implementations never retry internally.
type Executor interface {
	Name() string
	Place(ctx context.Context, req OrderRequest) OrderResult
}

// Fill is a persisted record of an executed order.
type Fill struct {
	OrderID  string    `json:"order_id"`
	ClientID string    `json:"client_id,omitempty"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	PnL      float64   `json:"realized_pnl"`
	Ts       time.Time `json:"ts"`
}

// NewOrderID returns a fresh venue-side identifier.
func NewOrderID() string { return uuid.NewString() }
