package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/denniswon/modular-trading-agent/internal/state"
)

// countingProber reports a fixed slot, or err when set.
type countingProber struct {
	mu    sync.Mutex
	slot  uint64
	err   error
	calls int
}

func (p *countingProber) Check(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.slot, nil
}

func (p *countingProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestStreamIsolatesSymbolFailures(t *testing.T) {
	src := NewSynthetic(10, 0.5, time.Second)
	src.FailNext("BAD", 1_000_000)
	stream := NewStream(src, nil, zerolog.Nop(), WithStreamPacer(quietPacer()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := stream.Subscribe(ctx, []string{"GOOD", "BAD"}, time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	good, bad := 0, 0
	deadline := time.After(3 * time.Second)
	for good < 3 || bad < 2 {
		select {
		case upd := <-updates:
			switch upd.Symbol {
			case "GOOD":
				if upd.Err != nil {
					t.Fatalf("unexpected error for GOOD: %v", upd.Err)
				}
				if upd.Tick.PriceUSD <= 0 {
					t.Fatalf("expected positive price")
				}
				good++
			case "BAD":
				if !errors.Is(upd.Err, ErrDataUnavailable) {
					t.Fatalf("expected data unavailable for BAD, got %v", upd.Err)
				}
				bad++
			}
		case <-deadline:
			t.Fatalf("timed out: good=%d bad=%d", good, bad)
		}
	}

	if _, err := stream.Subscribe(ctx, []string{"GOOD"}, time.Millisecond); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}

	cancel()
	closed := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-closed:
			t.Fatalf("stream channel not closed after cancel")
		}
	}
}

func TestStreamSetSymbolsStartsAndStopsPollers(t *testing.T) {
	src := NewSynthetic(10, 0, time.Second)
	stream := NewStream(src, nil, zerolog.Nop(), WithStreamPacer(quietPacer()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := stream.Subscribe(ctx, []string{"A"}, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	stream.SetSymbols([]string{"B", " B ", ""})
	if got := stream.Symbols(); len(got) != 1 || got[0] != "B" {
		t.Fatalf("unexpected symbols %v", got)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case upd := <-updates:
			if upd.Symbol == "B" {
				return
			}
		case <-deadline:
			t.Fatalf("no update for newly added symbol")
		}
	}
}

func TestStreamChecksHealthWhileFetchingAndStampsSlot(t *testing.T) {
	src := NewSynthetic(10, 0, time.Second)
	prober := &countingProber{slot: 4242}
	health := state.NewHealth("stub")
	stream := NewStream(src, health, zerolog.Nop(), WithStreamPacer(quietPacer()), WithStreamProber(prober))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := stream.Subscribe(ctx, []string{"A"}, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	deadline := time.After(2 * time.Second)
	ticks := 0
	for ticks < 3 {
		select {
		case upd := <-updates:
			if upd.Err != nil {
				t.Fatalf("unexpected error: %v", upd.Err)
			}
			if upd.Tick.Slot != 4242 || !upd.Tick.RPCHealthy {
				t.Fatalf("tick missing probe slot: %+v", upd.Tick)
			}
			ticks++
		case <-deadline:
			t.Fatalf("timed out after %d ticks", ticks)
		}
	}
	if prober.count() == 0 {
		t.Fatalf("expected the probe to run during a healthy stream")
	}
	if got := health.Snapshot().RPCSlot; got != 4242 {
		t.Fatalf("expected health slot 4242, got %d", got)
	}
}

func TestStreamRecordsFailedHealthChecksWhileFetchesSucceed(t *testing.T) {
	src := NewSynthetic(10, 0, time.Second)
	prober := &countingProber{err: errors.New("node behind")}
	health := state.NewHealth("stub")
	stream := NewStream(src, health, zerolog.Nop(), WithStreamPacer(quietPacer()), WithStreamProber(prober))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := stream.Subscribe(ctx, []string{"A"}, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for health.ProbeFailureRun() < 3 {
		select {
		case upd := <-updates:
			if upd.Err != nil {
				t.Fatalf("fetches should keep succeeding: %v", upd.Err)
			}
		case <-deadline:
			t.Fatalf("probe failures not recorded, run=%d", health.ProbeFailureRun())
		}
	}
	snap := health.Snapshot()
	if snap.LastProbeOK || snap.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected health %+v", snap)
	}
}

func TestStreamPauseStopsFetchingAndSendsHeartbeats(t *testing.T) {
	src := NewSynthetic(10, 0, time.Second)
	stream := NewStream(src, nil, zerolog.Nop(), WithStreamPacer(quietPacer()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream.Pause("A")
	updates, err := stream.Subscribe(ctx, []string{"A"}, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for beats := 0; beats < 3; {
		select {
		case upd := <-updates:
			if !upd.Paused || upd.Tick.PriceUSD != 0 {
				t.Fatalf("expected heartbeat while paused, got %+v", upd)
			}
			beats++
		case <-deadline:
			t.Fatalf("no heartbeats while paused")
		}
	}

	stream.Resume("A")
	for {
		select {
		case upd := <-updates:
			if !upd.Paused {
				if upd.Tick.PriceUSD <= 0 {
					t.Fatalf("expected a real tick after resume, got %+v", upd)
				}
				return
			}
		case <-deadline:
			t.Fatalf("fetching did not restart after Resume")
		}
	}
}
