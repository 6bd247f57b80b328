// SPDX-License-Identifier: MIT

package persona

import (
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/rng"
)

const (
	// usageWindow bounds the rolling window over which the empirical
	// persona distribution is balanced against configured weights.
	usageWindow = 2 * time.Hour

	// overuseFactor suppresses a persona whose empirical share exceeds
	// this multiple of its weight share.
	overuseFactor = 1.5

	// mobileRatio is the soft share of sessions assigned mobile personas.
	mobileRatio = 0.30

	// matchedShare is the minimum share of sessions that use the
	// fingerprint-matched persona once one exists.
	matchedShare = 0.30
)

type usage struct {
	at   time.Time
	name string
}

// Registry hands out personas for new sessions. Assignment is sticky: the
// caller pins the returned persona for the session's whole life.
type Registry struct {
	mu      sync.Mutex
	pool    []Persona
	matched *Persona
	current string
	history []usage
	src     *rng.Source
	now     func() time.Time
}

// NewRegistry builds a registry over the given pool; an empty pool falls
// back to the built-in personas.
func NewRegistry(pool []Persona, src *rng.Source) *Registry {
	if len(pool) == 0 {
		pool = BuiltinPersonas()
	}
	return &Registry{
		pool: normalizeWeights(pool),
		src:  src,
		now:  time.Now,
	}
}

// SetClock injects a clock for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// ReplacePool swaps the persona pool (hot reload). The matched persona, if
// any, survives the swap.
func (r *Registry) ReplacePool(pool []Persona) {
	if len(pool) == 0 {
		return
	}
	r.mu.Lock()
	r.pool = normalizeWeights(pool)
	r.mu.Unlock()
}

// SetMatched permanently aligns one desktop persona with the operator's
// reported fingerprint.
func (r *Registry) SetMatched(p Persona) {
	p.Name = "matched"
	p.Mobile = false
	if p.Weight == 0 {
		p.Weight = 1
	}
	r.mu.Lock()
	r.matched = &p
	r.mu.Unlock()
	logger := log.WithComponent("persona")
	logger.Info().
		Str("event", "persona.fingerprint_matched").
		Str("user_agent", truncate(p.UserAgent, 60)).
		Int("viewport_w", p.ViewportWidth).
		Int("viewport_h", p.ViewportHeight).
		Msg("pinned persona to reported browser fingerprint")
}

// UpdateMatchedViewport refines the matched persona's viewport, e.g. from
// the dashboard's screen-metrics POST.
func (r *Registry) UpdateMatchedViewport(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.matched == nil {
		return
	}
	p := *r.matched
	p.ViewportWidth = w
	p.ViewportHeight = h
	r.matched = &p
}

// Matched reports whether a fingerprint-matched persona exists.
func (r *Registry) Matched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matched != nil
}

// Current returns the name of the most recently selected persona.
func (r *Registry) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Select picks a persona for a new session. The matched persona gets at
// least its guaranteed share; otherwise the draw respects the mobile ratio
// and suppresses personas over-used within the rolling window.
func (r *Registry) Select() Persona {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.compact(now)

	if r.matched != nil && r.src.Float64() < matchedShare {
		return r.record(now, *r.matched)
	}

	wantMobile := r.src.Float64() < mobileRatio
	candidates := r.candidates(wantMobile)
	if len(candidates) == 0 {
		candidates = r.candidates(!wantMobile)
	}
	if len(candidates) == 0 {
		// Everything suppressed: fall back to the full pool.
		candidates = r.pool
	}

	total := 0.0
	for _, p := range candidates {
		total += p.Weight
	}
	u := r.src.Float64() * total
	acc := 0.0
	pick := candidates[len(candidates)-1]
	for _, p := range candidates {
		acc += p.Weight
		if u < acc {
			pick = p
			break
		}
	}
	return r.record(now, pick)
}

// candidates filters the pool by device class and drops over-used personas.
// Caller holds r.mu.
func (r *Registry) candidates(mobile bool) []Persona {
	totalUse := len(r.history)
	totalWeight := 0.0
	for _, p := range r.pool {
		totalWeight += p.Weight
	}
	counts := make(map[string]int, len(r.pool))
	for _, u := range r.history {
		counts[u.name]++
	}

	var out []Persona
	for _, p := range r.pool {
		if p.Mobile != mobile {
			continue
		}
		if totalUse >= 10 && totalWeight > 0 {
			share := float64(counts[p.Name]) / float64(totalUse)
			weightShare := p.Weight / totalWeight
			if share > overuseFactor*weightShare {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func (r *Registry) record(now time.Time, p Persona) Persona {
	r.current = p.Name
	r.history = append(r.history, usage{at: now, name: p.Name})
	return p
}

func (r *Registry) compact(now time.Time) {
	cutoff := now.Add(-usageWindow)
	i := 0
	for ; i < len(r.history) && r.history[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		r.history = append(r.history[:0], r.history[i:]...)
	}
}

func normalizeWeights(pool []Persona) []Persona {
	out := make([]Persona, len(pool))
	copy(out, pool)
	for i := range out {
		if out[i].Weight <= 0 {
			out[i].Weight = 1
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
