package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultHealthInterval = time.Minute

// ErrNoHealthyExecutor is returned when every member of a Multi is marked unhealthy.
var ErrNoHealthyExecutor = errors.New("no healthy executor")

// HealthChecker is implemented by executors that can report venue health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Multi routes each order through its members in order and returns the first
// fill. Members that implement HealthChecker are re-checked at most once per
// interval and skipped while unhealthy. A member's failed order does not
// change its health.
type Multi struct {
	members  []*member
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

type member struct {
	exec    Executor
	checker HealthChecker

	mu      sync.Mutex
	checked time.Time
	healthy bool
}

// MultiOption customises a Multi.
type MultiOption func(*Multi)

// WithHealthInterval sets how long a member health check result is trusted.
func WithHealthInterval(d time.Duration) MultiOption {
	return func(m *Multi) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMultiClock overrides the time source used to age health checks.
func WithMultiClock(now func() time.Time) MultiOption {
	return func(m *Multi) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMulti builds a first-success router over members, tried in the given order.
func NewMulti(log zerolog.Logger, members []Executor, opts ...MultiOption) (*Multi, error) {
	if len(members) == 0 {
		return nil, errors.New("multi executor needs at least one member")
	}
	m := &Multi{
		interval: defaultHealthInterval,
		now:      time.Now,
		log:      log.With().Str("executor", "multi").Logger(),
	}
	for i, e := range members {
		if e == nil {
			return nil, fmt.Errorf("multi executor member %d is nil", i)
		}
		mb := &member{exec: e, healthy: true}
		if hc, ok := e.(HealthChecker); ok {
			mb.checker = hc
		}
		m.members = append(m.members, mb)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Multi) Name() string { return "multi" }

// Members lists member names in routing order.
func (m *Multi) Members() []string {
	out := make([]string, len(m.members))
	for i, mb := range m.members {
		out[i] = mb.exec.Name()
	}
	return out
}

// Place tries healthy members until one fills. The failed result joins every
// member error, so sentinels such as ErrNoPosition stay matchable.
func (m *Multi) Place(ctx context.Context, req OrderRequest) OrderResult {
	var errs []error
	tried := 0
	for _, mb := range m.members {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !mb.usable(ctx, m.now(), m.interval, m.log) {
			continue
		}
		tried++
		res := mb.exec.Place(ctx, req)
		if res.OK {
			if tried > 1 {
				m.log.Info().Str("sym", req.Symbol).Str("via", mb.exec.Name()).Int("attempt", tried).Msg("order filled by fallback")
			}
			return res
		}
		err := res.Err
		if err == nil {
			err = ErrExecutionFailed
		}
		m.log.Warn().Err(err).Str("sym", req.Symbol).Str("member", mb.exec.Name()).Msg("member failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", mb.exec.Name(), err))
	}
	if tried == 0 && len(errs) == 0 {
		return Failed(ErrNoHealthyExecutor)
	}
	return Failed(errors.Join(errs...))
}

// usable reports the member's health, re-running its check once the last one is older than every.
func (mb *member) usable(ctx context.Context, now time.Time, every time.Duration, log zerolog.Logger) bool {
	if mb.checker == nil {
		return true
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if !mb.checked.IsZero() && now.Sub(mb.checked) < every {
		return mb.healthy
	}
	err := mb.checker.HealthCheck(ctx)
	mb.checked = now
	if was := mb.healthy; was != (err == nil) {
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("member", mb.exec.Name()).Bool("healthy", err == nil).Msg("executor health changed")
	}
	mb.healthy = err == nil
	return mb.healthy
}
