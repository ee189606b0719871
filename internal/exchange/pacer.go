package exchange

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

const (
	defaultSpacing     = 250 * time.Millisecond
	defaultJitter      = 150 * time.Millisecond
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 2 * time.Second
	defaultFactor      = 2.0
)

// Backoff computes jittered exponential retry delays.
// The delay after n consecutive failures is drawn uniformly from
// [ceiling(n-1), ceiling(n)] where ceiling(k) = min(base*factor^k, cap),
// so delays never shrink as n grows and always stay within [base, cap].
type Backoff struct {
	curve backoff.Backoff
	rnd   func() float64
}

// NewBackoff returns a Backoff; zero values fall back to package defaults.
func NewBackoff(base, ceiling time.Duration, factor float64) *Backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = defaultBackoffCap
	}
	if ceiling < base {
		ceiling = base
	}
	if factor <= 1 {
		factor = defaultFactor
	}
	return &Backoff{
		curve: backoff.Backoff{Min: base, Max: ceiling, Factor: factor, Jitter: false},
		rnd:   rand.Float64,
	}
}

// Base returns the smallest delay.
func (b *Backoff) Base() time.Duration { return b.curve.Min }

// Cap returns the largest delay.
func (b *Backoff) Cap() time.Duration { return b.curve.Max }

// Ceiling returns the upper bound of the delay after n failures.
func (b *Backoff) Ceiling(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return b.curve.ForAttempt(float64(n))
}

// Delay returns the wait before the retry following n consecutive failures; 0 when n <= 0.
func (b *Backoff) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	lo := b.Ceiling(n - 1)
	hi := b.Ceiling(n)
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(b.rnd()*float64(hi-lo))
}

// Pacer spaces upstream calls: a minimum inter-call interval, random jitter,
// and the backoff delay while failures are outstanding. One Pacer may be
// shared by many goroutines hitting the same upstream.
type Pacer struct {
	limiter *rate.Limiter
	jitter  time.Duration
	backoff *Backoff
	rnd     func() float64
}

// PacerConfig tunes a Pacer. Zero fields use defaults; negative Spacing or Jitter disables them.
type PacerConfig struct {
	Spacing     time.Duration
	Jitter      time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Factor      float64
}

// NewPacer builds a Pacer from cfg.
func NewPacer(cfg PacerConfig) *Pacer {
	spacing := cfg.Spacing
	if spacing == 0 {
		spacing = defaultSpacing
	}
	jitter := cfg.Jitter
	if jitter == 0 {
		jitter = defaultJitter
	}
	if jitter < 0 {
		jitter = 0
	}
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		jitter:  jitter,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffCap, cfg.Factor),
		rnd:     rand.Float64,
	}
}

// Backoff exposes the retry curve.
func (p *Pacer) Backoff() *Backoff { return p.backoff }

// Wait blocks until the caller may issue its next request given its current failure run.
func (p *Pacer) Wait(ctx context.Context, failures int) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	var d time.Duration
	if p.jitter > 0 {
		d += time.Duration(p.rnd() * float64(p.jitter))
	}
	d += p.backoff.Delay(failures)
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
