package paper

import (
	"sync"

	"github.com/denniswon/modular-trading-agent/internal/execution"
)

// Ledger is a bounded ring of the most recent fills, served on /status.
type Ledger struct {
	mu    sync.Mutex
	limit int
	ring  []execution.Fill
	next  int
	full  bool
	total int64
}

// NewLedger retains at most limit fills; limit <= 0 keeps everything.
func NewLedger(limit int) *Ledger {
	if limit <= 0 {
		return &Ledger{}
	}
	return &Ledger{limit: limit, ring: make([]execution.Fill, 0, limit)}
}

func (l *Ledger) Record(fill execution.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if !l.full {
		l.ring = append(l.ring, fill)
		l.full = l.limit > 0 && len(l.ring) == l.limit
		return
	}
	l.ring[l.next] = fill
	l.next = (l.next + 1) % l.limit
}

// Snapshot copies the retained fills, oldest first.
func (l *Ledger) Snapshot() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, 0, len(l.ring))
	if l.full {
		out = append(out, l.ring[l.next:]...)
		return append(out, l.ring[:l.next]...)
	}
	return append(out, l.ring...)
}

// Total counts every fill recorded since creation or the last Reset, evicted ones included.
func (l *Ledger) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	l.ring = l.ring[:0]
	l.next, l.full, l.total = 0, false, 0
	l.mu.Unlock()
}
