package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/metrics"
	"github.com/denniswon/modular-trading-agent/internal/state"
)

const defaultStreamBuffer = 64

// Stream polls a TickSource per symbol and fans the results into one channel.
// Each symbol runs in its own goroutine with its own failure run; all of them
// share the pacer so the upstream sees a bounded request rate. With a prober
// attached, the probe runs once per poll interval and its slot is stamped
// onto every tick.
type Stream struct {
	source  TickSource
	prober  Prober
	pacer   *Pacer
	timeout time.Duration
	health  *state.Health
	log     zerolog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	ctx      context.Context
	interval time.Duration
	out      chan Update
	workers  map[string]context.CancelFunc
	paused   map[string]bool
	wg       sync.WaitGroup
}

// StreamOption configures Stream construction parameters.
type StreamOption func(*Stream)

// WithStreamPacer shares a pacer with the stream.
func WithStreamPacer(p *Pacer) StreamOption {
	return func(s *Stream) {
		if p != nil {
			s.pacer = p
		}
	}
}

// WithStreamProber attaches a liveness probe whose slot is stamped onto ticks.
func WithStreamProber(p Prober) StreamOption {
	return func(s *Stream) { s.prober = p }
}

// WithStreamTimeout bounds each upstream call.
func WithStreamTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewStream wraps source; a nil health creates one named after the source.
func NewStream(source TickSource, health *state.Health, log zerolog.Logger, opts ...StreamOption) *Stream {
	if health == nil {
		health = state.NewHealth(source.Name())
	}
	s := &Stream{
		source:  source,
		timeout: defaultFetchTimeout,
		health:  health,
		log:     log.With().Str("source", source.Name()).Logger(),
		workers: make(map[string]context.CancelFunc),
		paused:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pacer == nil {
		s.pacer = NewPacer(PacerConfig{})
	}
	return s
}

// Name identifies the wrapped source.
func (s *Stream) Name() string { return s.source.Name() }

// Health returns the stream's health state.
func (s *Stream) Health() *state.Health { return s.health }

// Check runs the liveness probe. Without a prober the source is assumed live.
func (s *Stream) Check(ctx context.Context) error {
	return runProbe(ctx, s.prober, s.timeout, s.health)
}

// Subscribe starts one poller per symbol. The returned channel closes once ctx
// is done and every poller has exited. A Stream can be subscribed only once.
func (s *Stream) Subscribe(ctx context.Context, symbols []string, interval time.Duration) (<-chan Update, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	s.started = true
	s.ctx = ctx
	s.interval = interval
	s.out = make(chan Update, defaultStreamBuffer)
	s.mu.Unlock()

	if s.prober != nil {
		s.probe(ctx)
		s.wg.Add(1)
		go s.watch(ctx)
	}
	s.SetSymbols(symbols)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closed = true
		for sym, cancel := range s.workers {
			cancel()
			delete(s.workers, sym)
		}
		s.mu.Unlock()
		s.wg.Wait()
		close(s.out)
	}()
	return s.out, nil
}

// SetSymbols replaces the polled symbol set, starting and stopping pollers as needed.
// Before Subscribe it is a no-op.
func (s *Stream) SetSymbols(symbols []string) {
	want := normalizeSymbols(symbols)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return
	}
	keep := make(map[string]struct{}, len(want))
	for _, sym := range want {
		keep[sym] = struct{}{}
		if _, running := s.workers[sym]; running {
			continue
		}
		wctx, cancel := context.WithCancel(s.ctx)
		s.workers[sym] = cancel
		s.wg.Add(1)
		go s.poll(wctx, sym)
	}
	for sym, cancel := range s.workers {
		if _, ok := keep[sym]; !ok {
			cancel()
			delete(s.workers, sym)
		}
	}
}

// Pause stops upstream fetches for symbol. Its poller keeps emitting Paused
// heartbeats every interval so the consumer can decide when to Resume.
func (s *Stream) Pause(symbol string) {
	s.mu.Lock()
	s.paused[symbol] = true
	s.mu.Unlock()
}

// Resume restarts upstream fetches for symbol.
func (s *Stream) Resume(symbol string) {
	s.mu.Lock()
	delete(s.paused, symbol)
	s.mu.Unlock()
}

func (s *Stream) isPaused(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[symbol]
}

// Symbols lists the symbols currently polled.
func (s *Stream) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for sym := range s.workers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Stream) poll(ctx context.Context, symbol string) {
	defer s.wg.Done()
	failures := 0
	for {
		if s.isPaused(symbol) {
			if !s.send(ctx, Update{Symbol: symbol, Paused: true}) || sleepCtx(ctx, s.interval) != nil {
				return
			}
			continue
		}
		if err := s.pacer.Wait(ctx, failures); err != nil {
			return
		}
		fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		tick, err := s.source.FetchTick(fetchCtx, symbol)
		cancel()
		if ctx.Err() != nil {
			return
		}

		upd := Update{Symbol: symbol}
		if err != nil {
			failures++
			s.health.RecordFailure()
			s.log.Debug().Err(err).Str("symbol", symbol).Int("consecutive_failures", failures).Msg("tick fetch failed")
			upd.Err = &DataUnavailableError{Symbol: symbol, Err: err}
		} else {
			failures = 0
			s.health.RecordSuccess()
			if hs := s.health.Snapshot(); hs.RPCSlot > tick.Slot {
				tick.Slot = hs.RPCSlot
				tick.RPCHealthy = hs.LastProbeOK
			}
			if tick.Ts.IsZero() {
				tick.Ts = time.Now().UTC()
			}
			upd.Tick = tick
			metrics.TicksTotal.WithLabelValues(symbol).Inc()
		}

		if !s.send(ctx, upd) {
			return
		}
		if err := sleepCtx(ctx, s.interval); err != nil {
			return
		}
	}
}

func (s *Stream) send(ctx context.Context, upd Update) bool {
	select {
	case s.out <- upd:
		return true
	case <-ctx.Done():
		return false
	}
}

// watch probes the source once per poll interval until ctx ends.
func (s *Stream) watch(ctx context.Context) {
	defer s.wg.Done()
	every := s.interval
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *Stream) probe(ctx context.Context) {
	if err := runProbe(ctx, s.prober, s.timeout, s.health); err != nil && ctx.Err() == nil {
		s.log.Debug().Err(err).Int("probe_failure_run", s.health.ProbeFailureRun()).Msg("health probe failed")
	}
}

func normalizeSymbols(symbols []string) []string {
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		if sym = strings.TrimSpace(sym); sym != "" {
			unique[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(unique))
	for sym := range unique {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
