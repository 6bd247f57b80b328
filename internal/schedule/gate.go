// SPDX-License-Identifier: MIT

// Package schedule gates activity on the operator's presence and on a
// configured active-hours mode. A closed gate means events are not fired at
// all rather than queued.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/log"
)

// Mode selects when the gate is open.
type Mode string

const (
	// ModeAlways keeps the gate open around the clock.
	ModeAlways Mode = "always"
	// ModeHomeOnly opens the gate only while the operator is present.
	ModeHomeOnly Mode = "home_only"
	// ModeAwayOnly opens the gate only while the operator is away.
	ModeAwayOnly Mode = "away_only"
	// ModeCustom opens the gate during an explicit set of local hours.
	ModeCustom Mode = "custom"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAlways, ModeHomeOnly, ModeAwayOnly, ModeCustom:
		return Mode(s), nil
	}
	return "", &ModeError{Value: s}
}

// ModeError reports an unknown schedule mode.
type ModeError struct{ Value string }

func (e *ModeError) Error() string {
	return "unknown schedule mode \"" + e.Value + "\" (want always|home_only|away_only|custom)"
}

// Gate decides whether a scheduled event may fire at a given instant.
type Gate struct {
	mu      sync.Mutex
	mode    Mode
	hours   map[int]bool
	present bool
}

// NewGate builds a gate. customHours is only consulted in ModeCustom; an
// empty set there behaves like always.
func NewGate(mode Mode, customHours []int) *Gate {
	g := &Gate{mode: mode, present: true}
	g.setHours(customHours)
	return g
}

func (g *Gate) setHours(hours []int) {
	g.hours = make(map[int]bool, len(hours))
	for _, h := range hours {
		if h >= 0 && h < 24 {
			g.hours[h] = true
		}
	}
}

// SetMode switches the active-hours mode at runtime.
func (g *Gate) SetMode(mode Mode, customHours []int) {
	g.mu.Lock()
	g.mode = mode
	if customHours != nil {
		g.setHours(customHours)
	}
	g.mu.Unlock()
	logger := log.WithComponent("schedule")
	logger.Info().
		Str("event", "schedule.mode").
		Str("mode", string(mode)).
		Msg("schedule mode changed")
}

// SetPresence records whether the operator is home.
func (g *Gate) SetPresence(present bool) {
	g.mu.Lock()
	changed := g.present != present
	g.present = present
	g.mu.Unlock()
	if changed {
		logger := log.WithComponent("schedule")
		logger.Info().
			Str("event", "schedule.presence").
			Bool("present", present).
			Msg("presence changed")
	}
}

// Mode returns the current mode.
func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Open reports whether activity may fire at t.
func (g *Gate) Open(t time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openLocked(t)
}

func (g *Gate) openLocked(t time.Time) bool {
	switch g.mode {
	case ModeHomeOnly:
		return g.present
	case ModeAwayOnly:
		return !g.present
	case ModeCustom:
		if len(g.hours) == 0 {
			return true
		}
		return g.hours[t.Hour()]
	default:
		return true
	}
}

// waitPoll bounds how stale a closed-gate decision can get: presence and
// mode changes are picked up on the next poll, custom-hour boundaries on
// the poll after the hour flips.
const waitPoll = time.Minute

// Wait blocks until the gate is open or ctx is done, polling through the
// caller's sleep so simulated-time tests can drive it. Events due while
// the gate was closed are dropped, not replayed.
func (g *Gate) Wait(ctx context.Context, now func() time.Time, sleep func(context.Context, time.Duration) error) error {
	for !g.Open(now()) {
		if err := sleep(ctx, waitPoll); err != nil {
			return err
		}
	}
	return ctx.Err()
}
