package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/signal"
)

var errInjected = errors.New("synthetic failure")

// Synthetic emits a deterministic price path per symbol: a linear drift plus a
// sine wave, one bar per call. Failures can be injected for tests and drills.
type Synthetic struct {
	base      float64
	drift     float64
	amplitude float64
	period    float64
	step      time.Duration
	start     time.Time

	mu       sync.Mutex
	counters map[string]int
	failures map[string]int
	probeErr error
}

// NewSynthetic returns a generator starting at base that rises by drift per bar.
func NewSynthetic(base, drift float64, step time.Duration) *Synthetic {
	if base <= 0 {
		base = 100
	}
	if step <= 0 {
		step = time.Second
	}
	return &Synthetic{
		base:     base,
		drift:    drift,
		period:   20,
		step:     step,
		start:    time.Unix(1_700_000_000, 0).UTC(),
		counters: make(map[string]int),
		failures: make(map[string]int),
	}
}

// WithWave adds a sine component of the given amplitude and period (in bars).
func (s *Synthetic) WithWave(amplitude, period float64) *Synthetic {
	s.amplitude = amplitude
	if period > 0 {
		s.period = period
	}
	return s
}

// FailNext makes the next n fetches for symbol fail.
func (s *Synthetic) FailNext(symbol string, n int) {
	s.mu.Lock()
	s.failures[symbol] += n
	s.mu.Unlock()
}

// SetProbeError makes Check fail with err (nil restores success).
func (s *Synthetic) SetProbeError(err error) {
	s.mu.Lock()
	s.probeErr = err
	s.mu.Unlock()
}

// Name implements Source and TickSource.
func (s *Synthetic) Name() string { return ProviderStub }

// Fetch implements Source.
func (s *Synthetic) Fetch(ctx context.Context, symbol string) (signal.Snapshot, error) {
	c, err := s.next(ctx, symbol)
	if err != nil {
		return signal.Snapshot{}, err
	}
	return signal.NewSnapshot(symbol, []signal.Candle{c})
}

// FetchTick implements TickSource.
func (s *Synthetic) FetchTick(ctx context.Context, symbol string) (signal.TokenTick, error) {
	c, err := s.next(ctx, symbol)
	if err != nil {
		return signal.TokenTick{}, err
	}
	return signal.TokenTick{
		Source:       ProviderStub,
		Chain:        "synthetic",
		Token:        symbol,
		PriceUSD:     c.Close,
		Volume24hUSD: c.Volume,
		LiquidityUSD: c.Close * 1e4,
		RPCHealthy:   true,
		Ts:           c.Ts,
	}, nil
}

// Check implements Prober.
func (s *Synthetic) Check(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probeErr != nil {
		return 0, s.probeErr
	}
	var slot int
	for _, n := range s.counters {
		slot += n
	}
	return uint64(slot), nil
}

func (s *Synthetic) next(ctx context.Context, symbol string) (signal.Candle, error) {
	if err := ctx.Err(); err != nil {
		return signal.Candle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[symbol] > 0 {
		s.failures[symbol]--
		return signal.Candle{}, errInjected
	}
	n := s.counters[symbol]
	s.counters[symbol] = n + 1

	px := s.base + s.drift*float64(n)
	if s.amplitude != 0 {
		px += s.amplitude * math.Sin(2*math.Pi*float64(n)/s.period)
	}
	if px <= 0 {
		px = 1e-9
	}
	return signal.Candle{
		Ts:     s.start.Add(time.Duration(n) * s.step),
		Open:   px,
		High:   px,
		Low:    px,
		Close:  px,
		Volume: 1,
	}, nil
}
