package solana

import (
	"context"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/denniswon/modular-trading-agent/internal/execution"
)

// ErrSlippageExceeded is returned when a quote prices worse than the order's limit.
var ErrSlippageExceeded = errors.New("quote exceeds limit price")

// Swapper quotes and submits swaps; *JupiterClient is the production implementation.
type Swapper interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error)
	BuildAndSendSwap(ctx context.Context, quote *Quote) (solana.Signature, error)
}

// Token identifies an SPL mint and its decimals.
type Token struct {
	Mint     string
	Decimals int32
}

// Executor places orders as Jupiter swaps against a quote token (USDC by default).
// Buys spend quote for the symbol's token; sells spend the token for quote.
type Executor struct {
	swapper     Swapper
	quote       Token
	tokens      map[string]Token
	slippageBps int
	log         zerolog.Logger
}

// NewExecutor maps symbols onto mints; symbols without an entry are refused at Place.
func NewExecutor(swapper Swapper, quote Token, tokens map[string]Token, slippageBps int, log zerolog.Logger) *Executor {
	return &Executor{
		swapper:     swapper,
		quote:       quote,
		tokens:      tokens,
		slippageBps: slippageBps,
		log:         log.With().Str("executor", "jupiter").Logger(),
	}
}

func (e *Executor) Name() string { return "jupiter" }

// HealthCheck reports the swapper's node health; swappers without a check count as healthy.
func (e *Executor) HealthCheck(ctx context.Context) error {
	if hc, ok := e.swapper.(execution.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Place quotes, checks the limit and submits one swap. A submitted swap is reported as filled at the quoted price.
func (e *Executor) Place(ctx context.Context, req execution.OrderRequest) execution.OrderResult {
	if err := req.Validate(); err != nil {
		return execution.Failed(err)
	}
	token, ok := e.tokens[req.Symbol]
	if !ok || token.Mint == "" {
		return execution.Failed(fmt.Errorf("%w: no mint configured for %s", execution.ErrInvalidOrder, req.Symbol))
	}

	size := decimal.NewFromFloat(req.Size)
	in, out := e.quote, token
	var units decimal.Decimal
	switch req.Side {
	case execution.Buy:
		price := req.RefPrice
		if req.Type == execution.Limit {
			price = req.LimitPrice
		}
		if price <= 0 {
			return execution.Failed(fmt.Errorf("%w: buy needs a reference price", execution.ErrInvalidOrder))
		}
		units = size.Mul(decimal.NewFromFloat(price)).Shift(e.quote.Decimals)
	case execution.Sell:
		in, out = token, e.quote
		units = size.Shift(token.Decimals)
	}
	units = units.Floor()
	if !units.IsPositive() {
		return execution.Failed(fmt.Errorf("%w: %s amount rounds to zero", execution.ErrInvalidOrder, req.Symbol))
	}

	quote, err := e.swapper.GetQuote(ctx, in.Mint, out.Mint, units.BigInt().Uint64(), e.slippageBps)
	if err != nil {
		return execution.Failed(err)
	}
	price, filled, err := quotedFill(req.Side, quote, token, e.quote)
	if err != nil {
		return execution.Failed(err)
	}
	if req.Type == execution.Limit {
		limit := decimal.NewFromFloat(req.LimitPrice)
		if (req.Side == execution.Buy && price.GreaterThan(limit)) || (req.Side == execution.Sell && price.LessThan(limit)) {
			return execution.Failed(fmt.Errorf("%w: quoted %s vs limit %s", ErrSlippageExceeded, price, limit))
		}
	}
	if err := ctx.Err(); err != nil {
		return execution.Failed(err)
	}

	signature, err := e.swapper.BuildAndSendSwap(ctx, quote)
	if err != nil {
		return execution.Failed(err)
	}
	e.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("signature", signature.String()).
		Str("price", price.String()).
		Msg("swap submitted")
	return execution.Filled(signature.String(), price.InexactFloat64(), filled.InexactFloat64(), 0)
}

// quotedFill derives the token-per-quote price and token quantity implied by a quote.
func quotedFill(side execution.Side, q *Quote, token, quote Token) (price, qty decimal.Decimal, err error) {
	inAmt, err := decimal.NewFromString(q.InAmount)
	if err != nil {
		return price, qty, fmt.Errorf("quote inAmount: %w", err)
	}
	outAmt, err := decimal.NewFromString(q.OutAmount)
	if err != nil {
		return price, qty, fmt.Errorf("quote outAmount: %w", err)
	}
	var quoteAmt decimal.Decimal
	if side == execution.Buy {
		quoteAmt, qty = inAmt.Shift(-quote.Decimals), outAmt.Shift(-token.Decimals)
	} else {
		qty, quoteAmt = inAmt.Shift(-token.Decimals), outAmt.Shift(-quote.Decimals)
	}
	if !qty.IsPositive() {
		return price, qty, errors.New("quote returns no tokens")
	}
	return quoteAmt.DivRound(qty, 12), qty, nil
}
