package paper

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/execution"
)

func marketOrder(side execution.Side, size, ref float64) execution.OrderRequest {
	return execution.OrderRequest{ClientID: "c1", Symbol: "BTCUSDT", Side: side, Size: size, Type: execution.Market, RefPrice: ref}
}

func TestMarketOrderFillsAtLastClose(t *testing.T) {
	ledger := NewLedger(1)
	exec := NewExecutor(WithRecorder(ledger))
	res := exec.Place(context.Background(), marketOrder(execution.Buy, 2.5, 100.37))
	if !res.OK {
		t.Fatalf("expected fill, got %v", res.Err)
	}
	if res.FilledPrice != 100.37 || res.FilledSize != 2.5 || res.OrderID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	fills := ledger.Snapshot()
	if len(fills) != 1 || fills[0].OrderID != res.OrderID || fills[0].ClientID != "c1" {
		t.Fatalf("unexpected ledger %+v", fills)
	}
}

func TestSlippageIsAdverse(t *testing.T) {
	exec := NewExecutor(WithSlippageBps(10))
	buy := exec.Place(context.Background(), marketOrder(execution.Buy, 1, 100))
	sell := exec.Place(context.Background(), marketOrder(execution.Sell, 1, 100))
	if math.Abs(buy.FilledPrice-100.1) > 1e-9 {
		t.Fatalf("expected buy at 100.1, got %v", buy.FilledPrice)
	}
	if math.Abs(sell.FilledPrice-99.9) > 1e-9 {
		t.Fatalf("expected sell at 99.9, got %v", sell.FilledPrice)
	}
}

func TestLimitOrdersNeverFillWorseThanLimit(t *testing.T) {
	exec := NewExecutor(WithSlippageBps(50))
	cases := []struct {
		name   string
		side   execution.Side
		ref    float64
		limit  float64
		fills  bool
		bounds func(px float64) bool
	}{
		{"buy below limit", execution.Buy, 99, 100, true, func(px float64) bool { return px <= 100 }},
		{"buy slippage capped", execution.Buy, 99.9, 100, true, func(px float64) bool { return px == 100 }},
		{"buy above limit", execution.Buy, 101, 100, false, nil},
		{"sell above limit", execution.Sell, 101, 100, true, func(px float64) bool { return px >= 100 }},
		{"sell slippage floored", execution.Sell, 100.1, 100, true, func(px float64) bool { return px == 100 }},
		{"sell below limit", execution.Sell, 99, 100, false, nil},
	}
	for _, tc := range cases {
		req := marketOrder(tc.side, 1, tc.ref)
		req.Type = execution.Limit
		req.LimitPrice = tc.limit
		res := exec.Place(context.Background(), req)
		if res.OK != tc.fills {
			t.Fatalf("%s: expected fills=%v got %+v", tc.name, tc.fills, res)
		}
		if !tc.fills {
			if !errors.Is(res.Err, ErrLimitNotMarketable) || !errors.Is(res.Err, execution.ErrExecutionFailed) {
				t.Fatalf("%s: unexpected error %v", tc.name, res.Err)
			}
			continue
		}
		if !tc.bounds(res.FilledPrice) {
			t.Fatalf("%s: fill price %v violates limit %v", tc.name, res.FilledPrice, tc.limit)
		}
	}
}

func TestExecutorBooksAccountAndReportsPnL(t *testing.T) {
	account := NewAccount(10_000, 0)
	exec := NewExecutor(WithAccount(account), WithClock(func() time.Time { return time.Unix(0, 0) }))
	if res := exec.Place(context.Background(), marketOrder(execution.Buy, 10, 100)); !res.OK {
		t.Fatalf("buy failed: %v", res.Err)
	}
	res := exec.Place(context.Background(), marketOrder(execution.Sell, 25, 110))
	if !res.OK {
		t.Fatalf("sell failed: %v", res.Err)
	}
	if res.FilledSize != 10 {
		t.Fatalf("expected sell reduced to held 10, got %v", res.FilledSize)
	}
	if math.Abs(res.RealizedPnL-100) > 1e-9 {
		t.Fatalf("expected pnl 100, got %v", res.RealizedPnL)
	}
	if res := exec.Place(context.Background(), marketOrder(execution.Sell, 1, 110)); res.OK {
		t.Fatalf("expected sell without position to fail")
	}
}

func TestExecutorConcurrentFills(t *testing.T) {
	ledger := NewLedger(100)
	account := NewAccount(1_000_000, 0)
	exec := NewExecutor(WithAccount(account), WithRecorder(ledger))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := exec.Place(context.Background(), marketOrder(execution.Buy, 1, 100)); !res.OK {
				t.Errorf("fill failed: %v", res.Err)
			}
		}()
	}
	wg.Wait()

	if got := len(ledger.Snapshot()); got != 100 {
		t.Fatalf("expected 100 fills, got %d", got)
	}
	if got := account.Position("BTCUSDT"); math.Abs(got-100) > 1e-9 {
		t.Fatalf("expected position 100, got %v", got)
	}
}

func TestExecutorRejectsMissingReference(t *testing.T) {
	res := NewExecutor().Place(context.Background(), marketOrder(execution.Buy, 1, 0))
	if res.OK || !errors.Is(res.Err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price failure, got %+v", res)
	}
}
