// SPDX-License-Identifier: MIT

// Package bandwidth enforces the rolling-window byte budget. Admission is a
// pure check, never a wait: the scheduler skips rejected tasks and moves on.
package bandwidth

import (
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/metrics"
)

// DefaultWindow is the sliding accounting window.
const DefaultWindow = time.Hour

// Coarse per-engine byte estimates, used until the EWMA has observations.
var defaultEstimates = map[string]int64{
	"search":   300 << 10,  // ~300 KB
	"browse":   1536 << 10, // ~1.5 MB
	"dns":      1 << 10,    // ~1 KB
	"research": 1536 << 10,
	"tor":      1 << 20,
	"adclick":  2 << 20,
}

const ewmaAlpha = 0.2

type sample struct {
	at    time.Time
	bytes int64
}

// Governor is the rolling byte ledger plus admission control.
type Governor struct {
	mu      sync.Mutex
	window  time.Duration
	capB    int64
	samples []sample
	total   int64
	ewma    map[string]float64
	now     func() time.Time

	// reserved holds the estimates of admitted-but-unfinished tasks per
	// engine, oldest first; pending is their sum.
	reserved map[string][]int64
	pending  int64
}

// New creates a governor with the given cap in bytes over the window.
func New(capBytes int64, window time.Duration) *Governor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Governor{
		window:   window,
		capB:     capBytes,
		ewma:     make(map[string]float64),
		reserved: make(map[string][]int64),
		now:      time.Now,
	}
}

// SetClock injects a clock for tests.
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Estimate returns the expected byte cost for a task of the given engine.
func (g *Governor) Estimate(engine string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.ewma[engine]; ok && v > 0 {
		return int64(v)
	}
	if v, ok := defaultEstimates[engine]; ok {
		return v
	}
	return 512 << 10
}

// Admit reserves the estimated cost if it fits the remaining budget, so
// concurrent in-flight tasks cannot each claim the same headroom. The cap
// stays soft against estimation error only: a task whose actual bytes
// exceed its reservation may overshoot, but never by a second admission.
// Observe settles the reservation.
func (g *Governor) Admit(engine string, estimated int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.compact(g.now())
	if g.total+g.pending+estimated > g.capB {
		metrics.GovernorRejects.WithLabelValues("bandwidth").Inc()
		return false
	}
	g.pending += estimated
	g.reserved[engine] = append(g.reserved[engine], estimated)
	return true
}

// Observe settles the oldest reservation for the engine and records actual
// bytes for the ledger and the per-engine EWMA estimate. Zero-byte failures
// still release their reservation; tasks that never went through Admit
// (window restored from disk, ad-hoc accounting) simply have none to settle.
func (g *Governor) Observe(engine string, bytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if q := g.reserved[engine]; len(q) > 0 {
		g.pending -= q[0]
		if len(q) == 1 {
			delete(g.reserved, engine)
		} else {
			g.reserved[engine] = q[1:]
		}
	}
	if bytes <= 0 {
		return
	}
	now := g.now()
	g.samples = append(g.samples, sample{at: now, bytes: bytes})
	g.total += bytes
	g.compact(now)

	if prev, ok := g.ewma[engine]; ok {
		g.ewma[engine] = (1-ewmaAlpha)*prev + ewmaAlpha*float64(bytes)
	} else {
		g.ewma[engine] = float64(bytes)
	}
	metrics.BandwidthWindowBytes.Set(float64(g.total))
}

// Used returns bytes consumed within the current window.
func (g *Governor) Used() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.compact(g.now())
	return g.total
}

// Cap returns the configured byte budget.
func (g *Governor) Cap() int64 {
	return g.capB
}

// compact drops samples that slid out of the window. Caller holds g.mu.
func (g *Governor) compact(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for ; i < len(g.samples) && g.samples[i].at.Before(cutoff); i++ {
		g.total -= g.samples[i].bytes
	}
	if i > 0 {
		g.samples = append(g.samples[:0], g.samples[i:]...)
	}
	metrics.BandwidthWindowBytes.Set(float64(g.total))
}
