// Package state holds the mutable process-level counters the orchestrator maintains between cycles.
package state

import (
	"sync"
	"time"
)

// PerformanceSnapshot is a read-only copy of Performance.
type PerformanceSnapshot struct {
	StartingEquity float64 `json:"starting_equity"`
	Equity         float64 `json:"equity"`
	PeakEquity     float64 `json:"peak_equity"`
	TradeCount     int     `json:"trade_count"`
	WinCount       int     `json:"win_count"`
	RunningPnL     float64 `json:"running_pnl"`
	Failures       int     `json:"failures"`
	Skips          int     `json:"skips"`
	Cycles         int     `json:"cycles"`
}

// WinRate returns wins over closed trades, 0 when nothing traded.
func (s PerformanceSnapshot) WinRate() float64 {
	if s.TradeCount == 0 {
		return 0
	}
	return float64(s.WinCount) / float64(s.TradeCount)
}

// Performance aggregates trading results across cycles. Safe for concurrent use.
type Performance struct {
	mu   sync.Mutex
	snap PerformanceSnapshot
}

// NewPerformance starts tracking from the given equity.
func NewPerformance(equity float64) *Performance {
	return &Performance{snap: PerformanceSnapshot{
		StartingEquity: equity,
		Equity:         equity,
		PeakEquity:     equity,
	}}
}

// RecordFill counts a completed execution and folds its realized PnL into equity.
func (p *Performance) RecordFill(realizedPnL float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.TradeCount++
	p.snap.Cycles++
	if realizedPnL > 0 {
		p.snap.WinCount++
	}
	p.snap.RunningPnL += realizedPnL
	p.snap.Equity += realizedPnL
	if p.snap.Equity > p.snap.PeakEquity {
		p.snap.PeakEquity = p.snap.Equity
	}
}

// RecordFailure counts an abandoned cycle.
func (p *Performance) RecordFailure() {
	p.mu.Lock()
	p.snap.Failures++
	p.snap.Cycles++
	p.mu.Unlock()
}

// RecordSkip counts a cycle that ended without an order.
func (p *Performance) RecordSkip() {
	p.mu.Lock()
	p.snap.Skips++
	p.snap.Cycles++
	p.mu.Unlock()
}

// Equity returns the current equity.
func (p *Performance) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.Equity
}

// Drawdown returns the fractional decline from peak equity.
func (p *Performance) Drawdown() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.PeakEquity <= 0 {
		return 0
	}
	dd := (p.snap.PeakEquity - p.snap.Equity) / p.snap.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Snapshot returns a copy of the counters.
func (p *Performance) Snapshot() PerformanceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// HealthSnapshot is a read-only copy of Health.
type HealthSnapshot struct {
	Source              string    `json:"source"`
	LastSuccess         time.Time `json:"last_success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ProbeFailures       int       `json:"probe_failures"`
	ProbeFailureRun     int       `json:"probe_failure_run"`
	LastProbeOK         bool      `json:"last_probe_ok"`
	RPCSlot             uint64    `json:"rpc_slot,omitempty"`
}

// Health tracks liveness of one data source. Safe for concurrent use.
type Health struct {
	mu   sync.Mutex
	snap HealthSnapshot
	now  func() time.Time
}

// NewHealth returns Health for the named source.
func NewHealth(source string) *Health {
	return &Health{snap: HealthSnapshot{Source: source}, now: time.Now}
}

// RecordSuccess resets the failure run.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	h.snap.LastSuccess = h.now()
	h.snap.ConsecutiveFailures = 0
	h.mu.Unlock()
}

// RecordFailure extends the failure run and returns its new length.
func (h *Health) RecordFailure() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.ConsecutiveFailures++
	return h.snap.ConsecutiveFailures
}

// RecordProbe stores a liveness probe outcome and returns the current run of
// failed probes. slot is kept only when positive.
func (h *Health) RecordProbe(ok bool, slot uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.LastProbeOK = ok
	if !ok {
		h.snap.ProbeFailures++
		h.snap.ProbeFailureRun++
		return h.snap.ProbeFailureRun
	}
	h.snap.ProbeFailureRun = 0
	if slot > 0 {
		h.snap.RPCSlot = slot
	}
	return 0
}

// ProbeFailureRun returns how many probes in a row have failed.
func (h *Health) ProbeFailureRun() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.ProbeFailureRun
}

// ConsecutiveFailures returns the current failure run.
func (h *Health) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.ConsecutiveFailures
}

// Snapshot returns a copy of the health fields.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}
