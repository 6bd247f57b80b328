// SPDX-License-Identifier: MIT

// Package session runs decoy browsing sessions. A session holds one browser
// slot, drives a page state machine through the driver, and reports bytes to
// the bandwidth governor. Slots are a hard cap; admission never blocks.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poisson-noise/poisson/internal/activity"
	"github.com/poisson-noise/poisson/internal/bandwidth"
	"github.com/poisson-noise/poisson/internal/driver"
	"github.com/poisson-noise/poisson/internal/engine"
	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/metrics"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/timing"
)

// Rejection reasons surfaced in logs and governor metrics.
const (
	RejectSlots     = "slots"
	RejectBandwidth = "bandwidth"
)

const (
	cancelGrace   = 5 * time.Second
	maxSessionCap = 3 * time.Hour
	auditInterval = time.Minute
)

// Manager admits and runs sessions against a fixed slot pool.
type Manager struct {
	factory driver.Factory
	gov     *bandwidth.Governor
	ring    *activity.Ring
	src     *rng.Source
	streams *rng.Streams

	// onComplete reports the finished task upstream (dispatcher stats).
	onComplete func(task *engine.Task, outcome engine.Outcome, bytes int64)

	slots chan struct{}

	mu     sync.Mutex
	active map[string]*running
	wg     sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type running struct {
	id       string
	task     *engine.Task
	cancel   context.CancelFunc
	started  time.Time
	done     chan struct{}
	doneOnce sync.Once
}

// Config wires a manager.
type Config struct {
	MaxSessions int
	Factory     driver.Factory
	Governor    *bandwidth.Governor
	Ring        *activity.Ring
	Src         *rng.Source
	// Streams derives the per-session page-chain stream; nil falls back
	// to Src.
	Streams    *rng.Streams
	OnComplete func(task *engine.Task, outcome engine.Outcome, bytes int64)
}

// NewManager builds a manager with cfg.MaxSessions slots (min 1).
func NewManager(cfg Config) *Manager {
	n := cfg.MaxSessions
	if n < 1 {
		n = 1
	}
	return &Manager{
		factory:    cfg.Factory,
		gov:        cfg.Governor,
		ring:       cfg.Ring,
		src:        cfg.Src,
		streams:    cfg.Streams,
		onComplete: cfg.OnComplete,
		slots:      make(chan struct{}, n),
		active:     make(map[string]*running),
		now:        time.Now,
		sleep:      realSleep,
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetClock injects clock and sleep for simulated-time tests.
func (m *Manager) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	m.mu.Lock()
	m.now = now
	if sleep != nil {
		m.sleep = sleep
	}
	m.mu.Unlock()
}

// FreeSlot reports whether a browser slot is currently available.
func (m *Manager) FreeSlot() bool {
	return len(m.slots) < cap(m.slots)
}

// ActiveCount returns the number of running sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Admit checks slot and bandwidth capacity for task without blocking. On
// success the returned id is live and Start must be called with it.
func (m *Manager) Admit(task *engine.Task) (string, string) {
	select {
	case m.slots <- struct{}{}:
	default:
		metrics.GovernorRejects.WithLabelValues(RejectSlots).Inc()
		return "", RejectSlots
	}
	if m.gov != nil && !m.gov.Admit(task.Engine, task.ExpectedBytes) {
		<-m.slots
		return "", RejectBandwidth
	}
	return uuid.NewString(), ""
}

// Start launches the admitted session. ctx bounds the whole session; the
// per-session cap is applied on top of it.
func (m *Manager) Start(ctx context.Context, id string, task *engine.Task, p persona.Persona) {
	planned := timing.SampleSessionDuration(m.src)
	capDur := time.Duration(1.5 * float64(planned))
	if capDur > maxSessionCap {
		capDur = maxSessionCap
	}

	sctx, cancel := context.WithCancel(ctx)
	r := &running{id: id, task: task, cancel: cancel, started: m.now(), done: make(chan struct{})}

	m.mu.Lock()
	m.active[id] = r
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(m.ActiveCount()))
	metrics.SessionsTotal.WithLabelValues(task.Engine).Inc()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.finish(r)
		m.run(sctx, r, task, p, capDur)
	}()
}

// finish releases the slot exactly once per session. The slot is returned
// under the lock so ActiveCount and slot occupancy never disagree.
func (m *Manager) finish(r *running) {
	m.mu.Lock()
	_, live := m.active[r.id]
	delete(m.active, r.id)
	if live {
		<-m.slots
	}
	m.mu.Unlock()
	r.cancel()
	r.doneOnce.Do(func() { close(r.done) })
	metrics.ActiveSessions.Set(float64(m.ActiveCount()))
}

func (m *Manager) run(ctx context.Context, r *running, task *engine.Task, p persona.Persona, capDur time.Duration) {
	logger := log.WithComponent("session").With().Str("session_id", r.id).Str("engine", task.Engine).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("session panicked")
			metrics.InvariantViolations.WithLabelValues("session_panic").Inc()
			m.report(task, engine.OutcomeError, 0, p, r.id, "panic")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, capDur)
	defer cancel()

	drv, err := m.factory.New(ctx, task.ViaSOCKS)
	if err != nil {
		logger.Warn().Err(err).Msg("driver unavailable")
		m.report(task, engine.OutcomeError, 0, p, r.id, "driver: "+err.Error())
		return
	}
	defer func() { _ = drv.Close() }()

	var total int64
	outcome := engine.OutcomeOK

	res := drv.Open(ctx, task.URL, p, stateTimeout(timing.StateLand))
	total += res.BytesRead
	if !res.OK {
		logger.Debug().Err(res.Err).Msg("landing page failed")
		m.report(task, engine.OutcomeError, total, p, r.id, errDetail(res.Err))
		return
	}

	chain := timing.NewChain(m.chainSource(task, p))
	queries := task.ExtraQueries
	for !chain.Done() {
		if ctx.Err() != nil {
			outcome = engine.OutcomeSkipped
			break
		}
		state := chain.Step()
		if state == timing.StateLeave {
			break
		}

		switch state {
		case timing.StateFollowLink:
			if task.FollowLinks > 0 {
				task.FollowLinks--
				res = drv.Follow(ctx, m.src.Intn(10), stateTimeout(state))
				total += res.BytesRead
			}
		case timing.StateSearchRefine:
			if len(queries) > 0 {
				next := queries[0]
				queries = queries[1:]
				res = drv.Open(ctx, next, p, stateTimeout(state))
				total += res.BytesRead
			}
		case timing.StateAdGlance:
			if task.ClickAd {
				task.ClickAd = false
				res = drv.ClickAd(ctx, stateTimeout(state))
				total += res.BytesRead
			}
		}
		if res.Err != nil && ctx.Err() != nil {
			outcome = engine.OutcomeSkipped
			break
		}

		if err := m.sleep(ctx, chain.Dwell()); err != nil {
			outcome = engine.OutcomeSkipped
			break
		}
	}

	logger.Debug().
		Int("steps", chain.Steps()).
		Int64("bytes", total).
		Str("outcome", string(outcome)).
		Msg("session finished")
	m.report(task, outcome, total, p, r.id, "")
}

// chainSource derives the page-chain stream from the persona and topic, so
// a given pairing replays the same walk run to run.
func (m *Manager) chainSource(task *engine.Task, p persona.Persona) *rng.Source {
	if m.streams == nil {
		return m.src
	}
	return m.streams.Derive("chain/" + p.Name + "/" + task.Category + "/" + task.Query)
}

// stateTimeout bounds each driver call at twice the state's median dwell,
// with a floor for the fast states.
func stateTimeout(state timing.PageState) time.Duration {
	d := 2 * timing.DwellMedian(state)
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (m *Manager) report(task *engine.Task, outcome engine.Outcome, bytes int64, p persona.Persona, id, detail string) {
	// Zero-byte failures still go through Observe so the admission
	// reservation is released.
	if m.gov != nil {
		m.gov.Observe(task.Engine, bytes)
	}
	if m.ring != nil {
		m.ring.Record(activity.Entry{
			Engine:    task.Engine,
			Detail:    detail,
			URL:       task.URL,
			Bytes:     bytes,
			Outcome:   ringOutcome(outcome),
			Persona:   p.Name,
			SessionID: id,
		})
	}
	if m.onComplete != nil {
		m.onComplete(task, outcome, bytes)
	}
}

func ringOutcome(o engine.Outcome) activity.Outcome {
	switch o {
	case engine.OutcomeOK:
		return activity.OutcomeOK
	case engine.OutcomeSkipped:
		return activity.OutcomeSkipped
	default:
		return activity.OutcomeError
	}
}

// Cancel stops one session, waiting up to the grace period for it to
// release its slot. A session still live after the grace is counted as an
// invariant violation and force-finished.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	r, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %q", id)
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-time.After(cancelGrace):
		metrics.InvariantViolations.WithLabelValues("cancel_grace_exceeded").Inc()
		m.finish(r)
		return nil
	}
}

// StopAll cancels every session and waits up to grace for them to finish.
func (m *Manager) StopAll(grace time.Duration) {
	m.mu.Lock()
	for _, r := range m.active {
		r.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger := log.WithComponent("session")
		logger.Warn().Msg("sessions still running after shutdown grace")
	}
}

// Audit runs the slot-leak check every minute until ctx is done. Slots in
// use must never exceed live sessions.
func (m *Manager) Audit(ctx context.Context) {
	ticker := time.NewTicker(auditInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			activeN := len(m.active)
			m.mu.Unlock()
			if used := len(m.slots); used > activeN {
				metrics.InvariantViolations.WithLabelValues("slot_leak").Inc()
				logger := log.WithComponent("session")
				logger.Error().
					Int("slots_used", used).
					Int("active", activeN).
					Msg("slot accounting mismatch")
			}
		}
	}
}
