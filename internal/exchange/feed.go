// Package exchange hosts connectors for market data sources and the pacing/health plumbing around them.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic candles (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance pulls klines over REST and streams trades over websockets.
	ProviderBinance = "binance"
	// ProviderDexScreener polls the Dexscreener HTTP API for on-chain meme coin pairs.
	ProviderDexScreener = "dexscreener"
)

var (
	// ErrDataUnavailable marks a fetch that produced no fresh data.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrHealthCheckFailed marks a failed liveness probe.
	ErrHealthCheckFailed = errors.New("health check failed")
	// ErrAlreadySubscribed is returned by a second Subscribe on the same stream.
	ErrAlreadySubscribed = errors.New("stream already subscribed")
	// ErrRateLimited is returned when the upstream answers 429.
	ErrRateLimited = errors.New("upstream rate limited")
)

// Source produces candle snapshots on demand (pull mode).
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (signal.Snapshot, error)
}

// TickSource fetches the latest tick for one symbol.
type TickSource interface {
	Name() string
	FetchTick(ctx context.Context, symbol string) (signal.TokenTick, error)
}

// Prober is a cheap liveness probe, distinct from data fetches. It may report a chain slot.
type Prober interface {
	Check(ctx context.Context) (uint64, error)
}

// Update is one item of a stream subscription. Err is set for symbol-level failures.
// Paused marks a heartbeat from a poller that stopped fetching; it carries no data.
type Update struct {
	Symbol string
	Tick   signal.TokenTick
	Err    error
	Paused bool
}

// Streamer pushes ticks for a set of symbols until ctx ends.
type Streamer interface {
	Name() string
	Subscribe(ctx context.Context, symbols []string, interval time.Duration) (<-chan Update, error)
	SetSymbols(symbols []string)
}

// DataUnavailableError carries the last good snapshot, if any, alongside the fetch failure.
type DataUnavailableError struct {
	Symbol   string
	LastGood *signal.Snapshot
	Err      error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Symbol, ErrDataUnavailable, e.Err)
}

func (e *DataUnavailableError) Unwrap() []error { return []error{ErrDataUnavailable, e.Err} }

// LastGoodSnapshot extracts the cached snapshot carried by err, if any.
func LastGoodSnapshot(err error) (signal.Snapshot, bool) {
	var du *DataUnavailableError
	if errors.As(err, &du) && du.LastGood != nil {
		return *du.LastGood, true
	}
	return signal.Snapshot{}, false
}

// tickSource adapts a TickSource into a pull-mode Source returning single-candle snapshots.
type tickSource struct{ TickSource }

// FromTicks exposes a TickSource as a Source.
func FromTicks(ts TickSource) Source { return tickSource{ts} }

func (s tickSource) Fetch(ctx context.Context, symbol string) (signal.Snapshot, error) {
	tick, err := s.FetchTick(ctx, symbol)
	if err != nil {
		return signal.Snapshot{}, err
	}
	if tick.PriceUSD <= 0 {
		return signal.Snapshot{}, fmt.Errorf("%s: non-positive price", symbol)
	}
	return tick.Snapshot(symbol), nil
}
