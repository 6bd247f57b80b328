// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/poisson-noise/poisson/internal/activity"
	"github.com/poisson-noise/poisson/internal/bandwidth"
	"github.com/poisson-noise/poisson/internal/driver"
	"github.com/poisson-noise/poisson/internal/engine"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// instantSleep makes Markov dwells free so tests run in wall-clock
// milliseconds.
func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// gaugeDriver counts concurrent open drivers and remembers the high-water
// mark.
type gaugeDriver struct {
	stub    *driver.Stub
	current atomic.Int64
	peak    atomic.Int64
}

func (g *gaugeDriver) New(ctx context.Context, viaSOCKS bool) (driver.PageDriver, error) {
	cur := g.current.Add(1)
	for {
		peak := g.peak.Load()
		if cur <= peak || g.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	return &countedDriver{g: g, inner: g.stub}, nil
}

type countedDriver struct {
	g     *gaugeDriver
	inner *driver.Stub
	once  sync.Once
}

func (d *countedDriver) Open(ctx context.Context, url string, p persona.Persona, timeout time.Duration) driver.Result {
	return d.inner.Open(ctx, url, p, timeout)
}

func (d *countedDriver) Follow(ctx context.Context, i int, timeout time.Duration) driver.Result {
	return d.inner.Follow(ctx, i, timeout)
}

func (d *countedDriver) ClickAd(ctx context.Context, timeout time.Duration) driver.Result {
	return d.inner.ClickAd(ctx, timeout)
}

func (d *countedDriver) Close() error {
	d.once.Do(func() { d.g.current.Add(-1) })
	return nil
}

func newTestManager(maxSessions int, factory driver.Factory, gov *bandwidth.Governor) (*Manager, *activity.Ring, *atomic.Int64) {
	ring := activity.NewRing(activity.MinCapacity)
	var completions atomic.Int64
	m := NewManager(Config{
		MaxSessions: maxSessions,
		Factory:     factory,
		Governor:    gov,
		Ring:        ring,
		Src:         rng.NewSource(1),
		OnComplete: func(*engine.Task, engine.Outcome, int64) {
			completions.Add(1)
		},
	})
	m.SetClock(time.Now, instantSleep)
	return m, ring, &completions
}

func pageTask() *engine.Task {
	return &engine.Task{Engine: "browse", Kind: engine.KindPage, URL: "https://example.com", ExpectedBytes: 1000}
}

func drain(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool { return m.ActiveCount() == 0 },
		5*time.Second, 5*time.Millisecond)
}

func TestAdmitRejectsWhenSlotsFull(t *testing.T) {
	g := &gaugeDriver{stub: &driver.Stub{BytesPerCall: 100, Hold: 200 * time.Millisecond}}
	m, _, _ := newTestManager(1, g, nil)
	ctx := context.Background()

	id, reason := m.Admit(pageTask())
	require.Empty(t, reason)
	m.Start(ctx, id, pageTask(), persona.Persona{Name: "p"})

	_, reason = m.Admit(pageTask())
	assert.Equal(t, RejectSlots, reason)

	drain(t, m)
	_, reason = m.Admit(pageTask())
	assert.Empty(t, reason, "slot must be reusable after the session ends")
	m.StopAll(time.Second)
}

func TestAdmitRejectsBandwidthAndReleasesSlot(t *testing.T) {
	gov := bandwidth.New(500, time.Hour) // 500 bytes
	m, _, _ := newTestManager(1, &driver.StubFactory{Stub: &driver.Stub{}}, gov)

	_, reason := m.Admit(pageTask()) // estimate 1000 > 500
	assert.Equal(t, RejectBandwidth, reason)

	// The tentatively held slot must have been returned.
	assert.True(t, m.FreeSlot())
}

func TestConcurrencyNeverExceedsSlots(t *testing.T) {
	const slots = 3
	g := &gaugeDriver{stub: &driver.Stub{BytesPerCall: 10, Hold: 30 * time.Millisecond}}
	m, _, _ := newTestManager(slots, g, nil)
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 30; i++ {
		id, reason := m.Admit(pageTask())
		if reason != "" {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		admitted++
		m.Start(ctx, id, pageTask(), persona.Persona{})
	}
	drain(t, m)

	assert.Greater(t, admitted, slots)
	assert.LessOrEqual(t, g.peak.Load(), int64(slots))
	m.StopAll(time.Second)
}

func TestSessionReportsOutcome(t *testing.T) {
	stub := &driver.Stub{BytesPerCall: 2048}
	m, ring, completions := newTestManager(2, &driver.StubFactory{Stub: stub}, nil)
	ctx := context.Background()

	id, reason := m.Admit(pageTask())
	require.Empty(t, reason)
	m.Start(ctx, id, pageTask(), persona.Persona{Name: "chrome_windows"})
	drain(t, m)

	require.Eventually(t, func() bool { return completions.Load() == 1 },
		time.Second, 5*time.Millisecond)

	tail := ring.Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, "browse", tail[0].Engine)
	assert.Equal(t, activity.OutcomeOK, tail[0].Outcome)
	assert.Equal(t, "chrome_windows", tail[0].Persona)
	assert.Equal(t, id, tail[0].SessionID)
	assert.Greater(t, tail[0].Bytes, int64(0))
	m.StopAll(time.Second)
}

func TestDriverFailureIsError(t *testing.T) {
	stub := &driver.Stub{BytesPerCall: 10, FailEvery: 1} // every call fails
	m, ring, _ := newTestManager(1, &driver.StubFactory{Stub: stub}, nil)

	id, reason := m.Admit(pageTask())
	require.Empty(t, reason)
	m.Start(context.Background(), id, pageTask(), persona.Persona{})
	drain(t, m)

	tail := ring.Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, activity.OutcomeError, tail[0].Outcome)
	m.StopAll(time.Second)
}

func TestCancelStopsSession(t *testing.T) {
	g := &gaugeDriver{stub: &driver.Stub{BytesPerCall: 10, Hold: 10 * time.Second}}
	m, _, _ := newTestManager(1, g, nil)

	id, reason := m.Admit(pageTask())
	require.Empty(t, reason)
	m.Start(context.Background(), id, pageTask(), persona.Persona{})

	require.NoError(t, m.Cancel(id))
	assert.Zero(t, m.ActiveCount())
	assert.True(t, m.FreeSlot())

	assert.Error(t, m.Cancel("no-such-id"))
	m.StopAll(time.Second)
}

func TestStopAllCancelsEverything(t *testing.T) {
	g := &gaugeDriver{stub: &driver.Stub{BytesPerCall: 10, Hold: 10 * time.Second}}
	m, _, _ := newTestManager(3, g, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, reason := m.Admit(pageTask())
		require.Empty(t, reason)
		m.Start(ctx, id, pageTask(), persona.Persona{})
	}
	require.Equal(t, 3, m.ActiveCount())

	m.StopAll(2 * time.Second)
	assert.Zero(t, m.ActiveCount())
}

// uaRecorder is a driver factory that hands out itself and remembers the
// user agent of every page open.
type uaRecorder struct {
	mu     sync.Mutex
	agents []string
}

func (r *uaRecorder) New(context.Context, bool) (driver.PageDriver, error) { return r, nil }

func (r *uaRecorder) Open(_ context.Context, _ string, p persona.Persona, _ time.Duration) driver.Result {
	r.mu.Lock()
	r.agents = append(r.agents, p.UserAgent)
	r.mu.Unlock()
	return driver.Result{BytesRead: 64, OK: true}
}

func (r *uaRecorder) Follow(context.Context, int, time.Duration) driver.Result {
	return driver.Result{BytesRead: 64, OK: true}
}

func (r *uaRecorder) ClickAd(context.Context, time.Duration) driver.Result {
	return driver.Result{BytesRead: 64, OK: true}
}

func (r *uaRecorder) Close() error { return nil }

// The persona picked at admission must ride through every page load of the
// session.
func TestSessionKeepsAdmittedPersona(t *testing.T) {
	for _, name := range []string{"chrome_windows", "safari_mac", "firefox_linux"} {
		rec := &uaRecorder{}
		m := NewManager(Config{
			MaxSessions: 1,
			Factory:     rec,
			Src:         rng.NewSource(2),
			Streams:     rng.NewStreams(2),
		})
		m.SetClock(time.Now, instantSleep)

		task := &engine.Task{
			Engine:       "search",
			Kind:         engine.KindPage,
			URL:          "https://example.com",
			Query:        "q",
			Category:     "news",
			ExtraQueries: []string{"https://example.com/1", "https://example.com/2"},
		}
		id, reason := m.Admit(task)
		require.Empty(t, reason)
		m.Start(context.Background(), id, task, persona.Persona{Name: name, UserAgent: "UA " + name})
		drain(t, m)

		rec.mu.Lock()
		agents := append([]string(nil), rec.agents...)
		rec.mu.Unlock()
		require.NotEmpty(t, agents)
		for _, ua := range agents {
			assert.Equal(t, "UA "+name, ua)
		}
		m.StopAll(time.Second)
	}
}

// Page chains derive their stream from the persona and topic, so the same
// pairing replays the same walk and different pairings diverge.
func TestChainSeedDerivedFromPersonaAndTopic(t *testing.T) {
	m := NewManager(Config{Src: rng.NewSource(7), Streams: rng.NewStreams(7)})
	task := &engine.Task{Engine: "search", Category: "news", Query: "solar flares"}
	p := persona.Persona{Name: "chrome_windows"}

	draws := func(src *rng.Source) []float64 {
		out := make([]float64, 8)
		for i := range out {
			out[i] = src.Float64()
		}
		return out
	}

	assert.Equal(t, draws(m.chainSource(task, p)), draws(m.chainSource(task, p)))

	other := persona.Persona{Name: "safari_mac"}
	assert.NotEqual(t, draws(m.chainSource(task, p)), draws(m.chainSource(task, other)))

	// Without a stream registry the shared source still serves.
	bare := NewManager(Config{Src: rng.NewSource(7)})
	assert.Same(t, bare.src, bare.chainSource(task, p))
}

type panickyFactory struct{}

func (panickyFactory) New(context.Context, bool) (driver.PageDriver, error) {
	return panicDriver{}, nil
}

type panicDriver struct{}

func (panicDriver) Open(context.Context, string, persona.Persona, time.Duration) driver.Result {
	panic("driver exploded")
}
func (panicDriver) Follow(context.Context, int, time.Duration) driver.Result { return driver.Result{} }
func (panicDriver) ClickAd(context.Context, time.Duration) driver.Result    { return driver.Result{} }
func (panicDriver) Close() error                                            { return nil }

func TestPanicInSessionIsContained(t *testing.T) {
	m, ring, _ := newTestManager(1, panickyFactory{}, nil)

	id, reason := m.Admit(pageTask())
	require.Empty(t, reason)
	m.Start(context.Background(), id, pageTask(), persona.Persona{})
	drain(t, m)

	assert.True(t, m.FreeSlot(), "slot must survive a panicking driver")
	tail := ring.Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, activity.OutcomeError, tail[0].Outcome)
	m.StopAll(time.Second)
}
