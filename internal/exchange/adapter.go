package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/metrics"
	"github.com/denniswon/modular-trading-agent/internal/signal"
	"github.com/denniswon/modular-trading-agent/internal/state"
)

const defaultFetchTimeout = 10 * time.Second

// Adapter wraps a Source with pacing, per-call timeouts, a last-good cache and health accounting.
type Adapter struct {
	source  Source
	prober  Prober
	pacer   *Pacer
	timeout time.Duration
	health  *state.Health
	log     zerolog.Logger

	mu       sync.Mutex
	lastGood map[string]signal.Snapshot
}

// AdapterOption configures Adapter construction parameters.
type AdapterOption func(*Adapter)

// WithPacer shares an existing pacer with the adapter.
func WithPacer(p *Pacer) AdapterOption {
	return func(a *Adapter) {
		if p != nil {
			a.pacer = p
		}
	}
}

// WithProber attaches a liveness probe.
func WithProber(p Prober) AdapterOption {
	return func(a *Adapter) { a.prober = p }
}

// WithFetchTimeout bounds each upstream call.
func WithFetchTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAdapter builds an Adapter; a nil health creates one named after the source.
func NewAdapter(source Source, health *state.Health, log zerolog.Logger, opts ...AdapterOption) *Adapter {
	if health == nil {
		health = state.NewHealth(source.Name())
	}
	a := &Adapter{
		source:   source,
		timeout:  defaultFetchTimeout,
		health:   health,
		log:      log.With().Str("source", source.Name()).Logger(),
		lastGood: make(map[string]signal.Snapshot),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pacer == nil {
		a.pacer = NewPacer(PacerConfig{})
	}
	return a
}

// Name identifies the wrapped source.
func (a *Adapter) Name() string { return a.source.Name() }

// Health returns the adapter's health state.
func (a *Adapter) Health() *state.Health { return a.health }

// Produce fetches a fresh snapshot. Upstream failures come back as *DataUnavailableError;
// only cancellation of ctx is returned bare.
func (a *Adapter) Produce(ctx context.Context, symbol string) (signal.Snapshot, error) {
	if err := a.pacer.Wait(ctx, a.health.ConsecutiveFailures()); err != nil {
		return signal.Snapshot{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	snap, err := a.source.Fetch(fetchCtx, symbol)
	cancel()
	if ctx.Err() != nil {
		return signal.Snapshot{}, ctx.Err()
	}
	if err == nil && snap.Len() == 0 {
		err = fmt.Errorf("empty snapshot: %w", signal.ErrEmptySnapshot)
	}
	if err != nil {
		failures := a.health.RecordFailure()
		a.log.Debug().Err(err).Str("symbol", symbol).Int("consecutive_failures", failures).Msg("fetch failed")
		du := &DataUnavailableError{Symbol: symbol, Err: err}
		if last, ok := a.cached(symbol); ok {
			du.LastGood = &last
		}
		return signal.Snapshot{}, du
	}

	a.health.RecordSuccess()
	a.mu.Lock()
	a.lastGood[symbol] = snap
	a.mu.Unlock()
	metrics.TicksTotal.WithLabelValues(symbol).Inc()
	return snap, nil
}

// Check runs the liveness probe. Without a prober the source is assumed live.
func (a *Adapter) Check(ctx context.Context) error {
	return runProbe(ctx, a.prober, a.timeout, a.health)
}

func (a *Adapter) cached(symbol string) (signal.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.lastGood[symbol]
	return snap, ok
}

func runProbe(ctx context.Context, prober Prober, timeout time.Duration, health *state.Health) error {
	if prober == nil {
		health.RecordProbe(true, 0)
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	slot, err := prober.Check(probeCtx)
	if err != nil {
		health.RecordProbe(false, 0)
		return fmt.Errorf("%w: %v", ErrHealthCheckFailed, err)
	}
	health.RecordProbe(true, slot)
	return nil
}
