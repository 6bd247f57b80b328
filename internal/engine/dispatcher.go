// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/metrics"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// Outcome classifies a finished task for accounting.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// registration is one engine plus its runtime toggles.
type registration struct {
	engine  Engine
	enabled bool
	weight  float64
	limiter *rate.Limiter
}

// Dispatcher owns the engine roster: enable state, selection weights, and
// per-engine rate caps. Selection damps engines that fired often recently so
// traffic does not collapse onto one class.
type Dispatcher struct {
	mu    sync.Mutex
	order []string
	regs  map[string]*registration
	book  *statBook
	src   *rng.Source
	now   func() time.Time
}

// NewDispatcher builds an empty roster.
func NewDispatcher(src *rng.Source) *Dispatcher {
	return &Dispatcher{
		regs: make(map[string]*registration),
		book: newStatBook(),
		src:  src,
		now:  time.Now,
	}
}

// SetClock injects a clock for tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// Register adds an engine. maxPerHour <= 0 means no rate cap.
func (d *Dispatcher) Register(e Engine, enabled bool, weight float64, maxPerHour int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var lim *rate.Limiter
	if maxPerHour > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(maxPerHour)/3600), burstFor(maxPerHour))
	}
	if weight <= 0 {
		weight = 1
	}
	if _, seen := d.regs[e.Name()]; !seen {
		d.order = append(d.order, e.Name())
	}
	d.regs[e.Name()] = &registration{engine: e, enabled: enabled, weight: weight, limiter: lim}
}

// Rate caps stay meaningful at low limits but allow small clusters.
func burstFor(maxPerHour int) int {
	b := maxPerHour / 10
	if b < 1 {
		b = 1
	}
	if b > 5 {
		b = 5
	}
	return b
}

// Toggle flips an engine's enable state; takes effect on the next draw.
func (d *Dispatcher) Toggle(name string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.regs[name]
	if !ok {
		return fmt.Errorf("unknown engine %q", name)
	}
	if reg.enabled != enabled {
		reg.enabled = enabled
		logger := log.WithComponent("dispatcher")
		logger.Info().
			Str("event", "engine.toggled").
			Str("engine", name).
			Bool("enabled", enabled).
			Msg("engine toggled")
	}
	return nil
}

// Enabled reports an engine's current enable state.
func (d *Dispatcher) Enabled(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.regs[name]
	return ok && reg.enabled
}

// Engine returns the named engine, or nil.
func (d *Dispatcher) Engine(name string) Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reg, ok := d.regs[name]; ok {
		return reg.engine
	}
	return nil
}

// Roster lists engines in registration order with their toggle state.
func (d *Dispatcher) Roster() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.regs))
	for name, reg := range d.regs {
		out[name] = reg.enabled
	}
	return out
}

// Produce selects an engine and asks it for a task. browserSlotFree gates
// engines that need a page driver; rate-capped engines are skipped until
// their limiter admits them. Returns nil when nothing can produce.
func (d *Dispatcher) Produce(t topics.Topic, p persona.Persona, browserSlotFree bool) *Task {
	d.mu.Lock()
	now := d.now()

	type candidate struct {
		reg    *registration
		weight float64
	}
	cands := make([]candidate, 0, len(d.order))
	total := 0.0
	for _, name := range d.order {
		reg := d.regs[name]
		if !reg.enabled {
			continue
		}
		if reg.engine.RequiresBrowser() && !browserSlotFree {
			continue
		}
		if reg.limiter != nil && reg.limiter.TokensAt(now) < 1 {
			continue
		}
		w := reg.weight * (1 - d.book.recentShare(name, now))
		if w <= 0 {
			w = reg.weight * 0.05
		}
		cands = append(cands, candidate{reg: reg, weight: w})
		total += w
	}
	d.mu.Unlock()

	if len(cands) == 0 || total <= 0 {
		return nil
	}

	u := d.src.Float64() * total
	acc := 0.0
	pick := cands[len(cands)-1].reg
	for _, c := range cands {
		acc += c.weight
		if u < acc {
			pick = c.reg
			break
		}
	}

	task := pick.engine.ProduceTask(t, p, d.src)
	if task == nil {
		return nil
	}
	if pick.limiter != nil && !pick.limiter.AllowN(now, 1) {
		return nil
	}
	return task
}

// OnComplete folds a finished task into stats and metrics.
func (d *Dispatcher) OnComplete(task *Task, outcome Outcome, bytes int64) {
	if task == nil {
		return
	}
	d.mu.Lock()
	now := d.now()
	d.mu.Unlock()
	d.book.record(task.Engine, bytes, outcome == OutcomeError, now)
	metrics.TasksTotal.WithLabelValues(task.Engine, string(outcome)).Inc()
	if bytes > 0 {
		metrics.BytesTotal.WithLabelValues(task.Engine).Add(float64(bytes))
	}
}

// Stats snapshots per-engine counters.
func (d *Dispatcher) Stats() map[string]Stats {
	return d.book.snapshot()
}
