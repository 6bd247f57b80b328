// SPDX-License-Identifier: MIT

// Package scheduler wires the timing kernel to the rest of the system: it
// waits for firings, gates them on the schedule, draws a topic and persona,
// asks the dispatcher for a task, and hands it to the session manager.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/activity"
	"github.com/poisson-noise/poisson/internal/bandwidth"
	"github.com/poisson-noise/poisson/internal/engine"
	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/metrics"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/schedule"
	"github.com/poisson-noise/poisson/internal/session"
	"github.com/poisson-noise/poisson/internal/timing"
	"github.com/poisson-noise/poisson/internal/topics"
)

// DNSRateScale runs the dns_tick stream hotter than page sessions;
// background resolver chatter outnumbers page loads on a real machine.
const DNSRateScale = 2.0

// Deps collects the components the scheduler drives.
type Deps struct {
	Kernel     *timing.Kernel
	DNSKernel  *timing.Kernel
	Gate       *schedule.Gate
	Topics     *topics.Model
	Personas   *persona.Registry
	Dispatcher *engine.Dispatcher
	Sessions   *session.Manager
	DNS        *engine.DNS
	Governor   *bandwidth.Governor
	Ring       *activity.Ring
	Src        *rng.Source
}

// DailyStats is the rolling per-day counter set exposed on /papi/stats.
type DailyStats struct {
	Sessions int64
	Requests int64
	Errors   int64
	Bytes    int64
}

// Scheduler runs the orchestrator and DNS tick loops.
type Scheduler struct {
	deps Deps

	mu      sync.Mutex
	nextAt  time.Time
	day     int // year*1000 + yday, for rollover detection
	daily   DailyStats
	started time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a scheduler over deps.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		deps:  deps,
		now:   time.Now,
		sleep: realSleep,
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
func (s *Scheduler) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	s.mu.Lock()
	s.now = now
	if sleep != nil {
		s.sleep = sleep
	}
	s.mu.Unlock()
}

// Run executes the session-start loop until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := log.WithComponent("scheduler")
	s.mu.Lock()
	s.started = s.now()
	s.mu.Unlock()
	logger.Info().Str("event", "scheduler.started").Msg("orchestrator loop running")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := s.clockNow()
		ev := s.deps.Kernel.NextAfter(now)

		s.mu.Lock()
		s.nextAt = ev.Time
		s.mu.Unlock()
		metrics.NextEventETA.Set(ev.Time.Sub(now).Seconds())

		if err := s.sleepUntil(ctx, ev.Time); err != nil {
			return err
		}

		// A firing due while the gate is closed is dropped, not queued, and
		// the loop parks until the gate reopens instead of burning draws.
		if !s.deps.Gate.Open(s.clockNow()) {
			if err := s.deps.Gate.Wait(ctx, s.clockNow, s.sleepFor); err != nil {
				return err
			}
			continue
		}

		s.fire(ctx)
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	s.rollover()

	topic := s.deps.Topics.Next(s.deps.Dispatcher.Enabled)
	p := s.deps.Personas.Select()
	task := s.deps.Dispatcher.Produce(topic, p, s.deps.Sessions.FreeSlot())
	if task == nil {
		return
	}

	if task.Kind == engine.KindDNS {
		s.resolveDNS(ctx, task, p)
		return
	}

	id, reason := s.deps.Sessions.Admit(task)
	if reason != "" {
		s.recordSkip(task, p, reason)
		return
	}
	s.addDaily(DailyStats{Sessions: 1})
	s.deps.Sessions.Start(ctx, id, task, p)
}

// RunDNS executes the independent dns_tick loop until ctx is done.
func (s *Scheduler) RunDNS(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev := s.deps.DNSKernel.NextAfter(s.clockNow())
		if err := s.sleepUntil(ctx, ev.Time); err != nil {
			return err
		}
		if !s.deps.Gate.Open(s.clockNow()) {
			if err := s.deps.Gate.Wait(ctx, s.clockNow, s.sleepFor); err != nil {
				return err
			}
			continue
		}
		if !s.deps.Dispatcher.Enabled("dns") {
			continue
		}
		task := s.deps.DNS.ProduceTask(topics.Topic{}, persona.Persona{}, s.deps.Src)
		s.resolveDNS(ctx, task, persona.Persona{})
	}
}

func (s *Scheduler) resolveDNS(ctx context.Context, task *engine.Task, p persona.Persona) {
	if task == nil {
		return
	}
	if s.deps.Governor != nil && !s.deps.Governor.Admit(task.Engine, task.ExpectedBytes) {
		s.recordSkip(task, p, session.RejectBandwidth)
		return
	}
	bytes, fails := s.deps.DNS.Resolve(ctx, task)
	outcome := engine.OutcomeOK
	if fails > 0 && bytes == 0 {
		outcome = engine.OutcomeError
	}
	if s.deps.Governor != nil {
		s.deps.Governor.Observe(task.Engine, bytes)
	}
	if s.deps.Ring != nil {
		s.deps.Ring.Record(activity.Entry{
			Engine:  task.Engine,
			Detail:  joinNames(task.Names),
			Bytes:   bytes,
			Outcome: ringOutcome(outcome),
		})
	}
	s.deps.Dispatcher.OnComplete(task, outcome, bytes)
	s.addDaily(DailyStats{Requests: int64(len(task.Names)), Bytes: bytes, Errors: int64(fails)})
}

func (s *Scheduler) recordSkip(task *engine.Task, p persona.Persona, reason string) {
	if s.deps.Ring != nil {
		s.deps.Ring.Record(activity.Entry{
			Engine:  task.Engine,
			Detail:  reason,
			URL:     task.URL,
			Bytes:   0,
			Outcome: activity.OutcomeSkipped,
			Persona: p.Name,
		})
	}
	s.deps.Dispatcher.OnComplete(task, engine.OutcomeSkipped, 0)
}

// OnSessionComplete is handed to the session manager so finished sessions
// land in daily stats and dispatcher counters.
func (s *Scheduler) OnSessionComplete(task *engine.Task, outcome engine.Outcome, bytes int64) {
	s.deps.Dispatcher.OnComplete(task, outcome, bytes)
	d := DailyStats{Requests: 1, Bytes: bytes}
	if outcome == engine.OutcomeError {
		d.Errors = 1
	}
	s.addDaily(d)
}

func (s *Scheduler) clockNow() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	sleep := s.sleep
	d := t.Sub(s.now())
	s.mu.Unlock()
	return sleep(ctx, d)
}

func (s *Scheduler) sleepFor(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	sleep := s.sleep
	s.mu.Unlock()
	return sleep(ctx, d)
}

// rollover resets daily counters at local midnight. Caller may race; the
// lock makes the reset idempotent.
func (s *Scheduler) rollover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := now.Year()*1000 + now.YearDay()
	if key != s.day {
		s.day = key
		s.daily = DailyStats{}
	}
}

func (s *Scheduler) addDaily(d DailyStats) {
	s.rollover()
	s.mu.Lock()
	s.daily.Sessions += d.Sessions
	s.daily.Requests += d.Requests
	s.daily.Errors += d.Errors
	s.daily.Bytes += d.Bytes
	s.mu.Unlock()
}

// Daily snapshots today's counters.
func (s *Scheduler) Daily() DailyStats {
	s.rollover()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daily
}

// NextIn returns the time until the next scheduled firing, zero before the
// first draw.
func (s *Scheduler) NextIn() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextAt.IsZero() {
		return 0
	}
	d := s.nextAt.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Uptime returns the time since Run started.
func (s *Scheduler) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return s.now().Sub(s.started)
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

func joinNames(names []string) string {
	return strings.Join(names, ",")
}
