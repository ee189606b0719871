package signal

import (
	"sort"
	"sync"
)

// DefaultWindowSize bounds per-symbol history when no size is configured.
const DefaultWindowSize = 200

// Window accumulates a bounded rolling candle history per symbol.
type Window struct {
	size int
	mu   sync.Mutex
	hist map[string][]Candle
}

// NewWindow returns a Window keeping at most size candles per symbol.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, hist: make(map[string][]Candle)}
}

// Size reports the per-symbol bound.
func (w *Window) Size() int { return w.size }

// Append adds one candle and returns the resulting snapshot.
// A candle whose timestamp is not newer than the last one replaces it.
func (w *Window) Append(symbol string, c Candle) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	hist := w.hist[symbol]
	if n := len(hist); n > 0 && !c.Ts.After(hist[n-1].Ts) {
		if c.Ts.Equal(hist[n-1].Ts) {
			hist[n-1] = c
		}
	} else {
		hist = append(hist, c)
	}
	hist = w.trim(hist)
	w.hist[symbol] = hist
	return w.snapshotLocked(symbol, hist)
}

// Merge folds a pulled snapshot into the history, deduplicating by timestamp.
func (w *Window) Merge(snap Snapshot) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	byTs := make(map[int64]Candle, len(w.hist[snap.Symbol])+snap.Len())
	for _, c := range w.hist[snap.Symbol] {
		byTs[c.Ts.UnixNano()] = c
	}
	for _, c := range snap.candles {
		byTs[c.Ts.UnixNano()] = c
	}
	hist := make([]Candle, 0, len(byTs))
	for _, c := range byTs {
		hist = append(hist, c)
	}
	sort.Slice(hist, func(i, j int) bool { return hist[i].Ts.Before(hist[j].Ts) })
	hist = w.trim(hist)
	w.hist[snap.Symbol] = hist
	return w.snapshotLocked(snap.Symbol, hist)
}

// Snapshot returns the current history for symbol.
func (w *Window) Snapshot(symbol string) (Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	hist, ok := w.hist[symbol]
	if !ok || len(hist) == 0 {
		return Snapshot{}, false
	}
	return w.snapshotLocked(symbol, hist), true
}

// Drop forgets a symbol's history.
func (w *Window) Drop(symbol string) {
	w.mu.Lock()
	delete(w.hist, symbol)
	w.mu.Unlock()
}

func (w *Window) trim(hist []Candle) []Candle {
	if len(hist) <= w.size {
		return hist
	}
	out := make([]Candle, w.size)
	copy(out, hist[len(hist)-w.size:])
	return out
}

func (w *Window) snapshotLocked(symbol string, hist []Candle) Snapshot {
	out := make([]Candle, len(hist))
	copy(out, hist)
	return Snapshot{Symbol: symbol, candles: out}
}
