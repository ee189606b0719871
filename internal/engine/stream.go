package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/exchange"
	sig "github.com/denniswon/modular-trading-agent/internal/signal"
)

// Subscriber is a stream-mode data source (exchange.Stream, exchange.BinanceTrades).
type Subscriber interface {
	Name() string
	Subscribe(ctx context.Context, symbols []string, interval time.Duration) (<-chan exchange.Update, error)
}

// healthChecker is implemented by subscribers with a liveness probe.
type healthChecker interface {
	Check(ctx context.Context) error
}

// symbolPauser is implemented by subscribers that can stop fetching one symbol
// (exchange.Stream). Paused symbols keep sending heartbeat updates.
type symbolPauser interface {
	Pause(symbol string)
	Resume(symbol string)
}

// worker owns the cycle goroutine of one streamed symbol. It holds at most one
// pending update outcome: the latest update wins, so an error is cleared by a
// later good tick and a later error hides ticks already merged into the window.
type worker struct {
	symbol string
	kickc  chan struct{}

	mu      sync.Mutex
	pending error
}

func newWorker(symbol string) *worker {
	return &worker{symbol: symbol, kickc: make(chan struct{}, 1)}
}

// kick requests a cycle; kicks arriving while one is queued coalesce.
func (w *worker) kick() {
	select {
	case w.kickc <- struct{}{}:
	default:
	}
}

func (w *worker) setErr(err error) {
	w.mu.Lock()
	w.pending = err
	w.mu.Unlock()
}

func (w *worker) takeErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.pending
	w.pending = nil
	return err
}

// RunStream consumes sub until ctx ends. Each update is merged into the rolling
// window and wakes that symbol's worker; symbols run concurrently while each
// symbol's cycles stay sequential. Symbols first seen mid-stream (discovery)
// get their own worker.
func (o *Orchestrator) RunStream(ctx context.Context, sub Subscriber) error {
	if sub == nil {
		return errors.New("stream mode requires a subscriber")
	}
	ctx, cancel := o.bound(ctx)
	defer cancel()

	updates, err := sub.Subscribe(ctx, o.cfg.Symbols, o.cfg.Interval)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", sub.Name(), err)
	}
	var check checkFunc
	if hc, ok := sub.(healthChecker); ok {
		check = hc.Check
	}
	if p, ok := sub.(symbolPauser); ok {
		o.pauser = p
	}
	o.log.Info().Str("source", sub.Name()).Strs("symbols", o.cfg.Symbols).Msg("stream loop started")

	var (
		wg      sync.WaitGroup
		workers = make(map[string]*worker)
	)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-updates:
			if !ok {
				break loop
			}
			if upd.Symbol == "" {
				continue
			}
			w, running := workers[upd.Symbol]
			if !running {
				w = newWorker(upd.Symbol)
				workers[upd.Symbol] = w
				o.lineage(upd.Symbol)
				wg.Add(1)
				go func() {
					defer wg.Done()
					o.work(ctx, w, check)
				}()
			}
			switch {
			case upd.Paused:
			case upd.Err != nil:
				w.setErr(upd.Err)
			default:
				o.window.Append(upd.Symbol, upd.Tick.Candle())
				w.setErr(nil)
			}
			w.kick()
		}
	}

	reason := stopReason(ctx, "stream closed")
	cancel()
	wg.Wait()
	o.stop(reason)
	perf := o.perf.Snapshot()
	o.log.Info().
		Str("reason", reason).
		Int("cycles", perf.Cycles).
		Int("trades", perf.TradeCount).
		Int("failures", perf.Failures).
		Float64("equity", perf.Equity).
		Msg("stream loop stopped")
	return nil
}

func (o *Orchestrator) work(ctx context.Context, w *worker, check checkFunc) {
	fetch := o.streamFetch(w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kickc:
			o.runCycle(ctx, w.symbol, fetch, check)
		}
	}
}

// streamFetch reads the window; a pending stream error fails the fetch unless stale data is allowed.
func (o *Orchestrator) streamFetch(w *worker) fetchFunc {
	return func(ctx context.Context) (sig.Snapshot, bool, error) {
		err := w.takeErr()
		snap, ok := o.window.Snapshot(w.symbol)
		if err != nil {
			if !ok || !o.cfg.UseStaleData {
				return sig.Snapshot{}, false, err
			}
			return o.checkAge(snap, true)
		}
		if !ok {
			return sig.Snapshot{}, false, fmt.Errorf("%w: no ticks for %s yet", exchange.ErrDataUnavailable, w.symbol)
		}
		return o.checkAge(snap, false)
	}
}
