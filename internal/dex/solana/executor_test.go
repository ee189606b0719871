package solana

import (
	"context"
	"errors"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/execution"
)

type fakeSwapper struct {
	quote    *Quote
	quoteErr error
	calls    []uint64
	inMints  []string
	sent     int
}

func (f *fakeSwapper) GetQuote(_ context.Context, inputMint, _ string, amount uint64, _ int) (*Quote, error) {
	f.calls = append(f.calls, amount)
	f.inMints = append(f.inMints, inputMint)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.quote, nil
}

func (f *fakeSwapper) BuildAndSendSwap(context.Context, *Quote) (solana.Signature, error) {
	f.sent++
	return solana.Signature{1, 2, 3}, nil
}

var (
	usdc = Token{Mint: "USDC", Decimals: 6}
	wif  = Token{Mint: "WIF", Decimals: 6}
)

func newTestExecutor(s Swapper) *Executor {
	return NewExecutor(s, usdc, map[string]Token{"WIFUSDT": wif}, 100, zerolog.Nop())
}

func TestExecutorBuySpendsQuoteUnits(t *testing.T) {
	swapper := &fakeSwapper{quote: &Quote{InAmount: "25000000", OutAmount: "10000000"}}
	exec := newTestExecutor(swapper)

	res := exec.Place(context.Background(), execution.OrderRequest{
		Symbol: "WIFUSDT", Side: execution.Buy, Size: 10, Type: execution.Market, RefPrice: 2.5,
	})
	if !res.OK {
		t.Fatalf("expected fill, got %v", res.Err)
	}
	if swapper.calls[0] != 25_000_000 || swapper.inMints[0] != "USDC" {
		t.Fatalf("unexpected quote request amount=%d mint=%s", swapper.calls[0], swapper.inMints[0])
	}
	if res.FilledPrice != 2.5 || res.FilledSize != 10 {
		t.Fatalf("unexpected fill %+v", res)
	}
	if res.OrderID == "" || swapper.sent != 1 {
		t.Fatalf("expected submitted swap, got %+v", res)
	}
}

func TestExecutorSellSpendsTokenUnits(t *testing.T) {
	swapper := &fakeSwapper{quote: &Quote{InAmount: "4000000", OutAmount: "9000000"}}
	res := newTestExecutor(swapper).Place(context.Background(), execution.OrderRequest{
		Symbol: "WIFUSDT", Side: execution.Sell, Size: 4, Type: execution.Market, RefPrice: 2.3,
	})
	if !res.OK {
		t.Fatalf("expected fill, got %v", res.Err)
	}
	if swapper.calls[0] != 4_000_000 || swapper.inMints[0] != "WIF" {
		t.Fatalf("unexpected quote request amount=%d mint=%s", swapper.calls[0], swapper.inMints[0])
	}
	if res.FilledPrice != 2.25 {
		t.Fatalf("expected 2.25, got %v", res.FilledPrice)
	}
}

func TestExecutorRejectsWorseThanLimit(t *testing.T) {
	swapper := &fakeSwapper{quote: &Quote{InAmount: "30000000", OutAmount: "10000000"}}
	res := newTestExecutor(swapper).Place(context.Background(), execution.OrderRequest{
		Symbol: "WIFUSDT", Side: execution.Buy, Size: 10, Type: execution.Limit, LimitPrice: 2.5, RefPrice: 2.5,
	})
	if res.OK || !errors.Is(res.Err, ErrSlippageExceeded) || !errors.Is(res.Err, execution.ErrExecutionFailed) {
		t.Fatalf("expected slippage failure, got %+v", res)
	}
	if swapper.sent != 0 {
		t.Fatalf("swap should not be submitted")
	}
}

func TestExecutorUnknownSymbolAndQuoteErrors(t *testing.T) {
	swapper := &fakeSwapper{quoteErr: errors.New("no route")}
	exec := newTestExecutor(swapper)

	res := exec.Place(context.Background(), execution.OrderRequest{
		Symbol: "BONKUSDT", Side: execution.Buy, Size: 1, Type: execution.Market, RefPrice: 1,
	})
	if res.OK || !errors.Is(res.Err, execution.ErrInvalidOrder) {
		t.Fatalf("expected invalid order for unmapped symbol, got %+v", res)
	}

	res = exec.Place(context.Background(), execution.OrderRequest{
		Symbol: "WIFUSDT", Side: execution.Buy, Size: 1, Type: execution.Market, RefPrice: 1,
	})
	if res.OK || !errors.Is(res.Err, execution.ErrExecutionFailed) {
		t.Fatalf("expected quote error to fail the order, got %+v", res)
	}
	if len(swapper.calls) != 1 {
		t.Fatalf("executor must not retry, saw %d quotes", len(swapper.calls))
	}
}
