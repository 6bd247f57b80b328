// SPDX-License-Identifier: MIT

package bandwidth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGovernor(capBytes int64) (*Governor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	g := New(capBytes, time.Hour)
	g.SetClock(clock.now)
	return g, clock
}

func TestAdmitEnforcesCap(t *testing.T) {
	g, _ := newTestGovernor(1 << 20) // 1 MB

	require.True(t, g.Admit("browse", 600<<10))
	g.Observe("browse", 600<<10)

	// 600 KB used, another 600 KB would exceed 1 MB.
	assert.False(t, g.Admit("browse", 600<<10))
	assert.True(t, g.Admit("browse", 300<<10))
}

func TestAdmitReservesEstimates(t *testing.T) {
	g, _ := newTestGovernor(1 << 20)

	// With two free slots the second admission must already see the first
	// task's reservation, not just observed bytes.
	require.True(t, g.Admit("browse", 900<<10))
	assert.False(t, g.Admit("browse", 900<<10))
	assert.False(t, g.Admit("search", 300<<10))

	g.Observe("browse", 900<<10)
	assert.Equal(t, int64(900<<10), g.Used())
	assert.False(t, g.Admit("browse", 900<<10))
}

func TestFailedTaskReleasesReservation(t *testing.T) {
	g, _ := newTestGovernor(1 << 20)

	require.True(t, g.Admit("browse", 900<<10))
	g.Observe("browse", 0)
	assert.Zero(t, g.Used())
	assert.True(t, g.Admit("browse", 900<<10))
}

func TestWindowSlideFreesBudget(t *testing.T) {
	g, clock := newTestGovernor(1 << 20)

	g.Observe("browse", 900<<10)
	require.False(t, g.Admit("browse", 300<<10))

	clock.advance(61 * time.Minute)
	assert.True(t, g.Admit("browse", 300<<10))
	assert.Zero(t, g.Used())
}

func TestUsedTracksRollingTotal(t *testing.T) {
	g, clock := newTestGovernor(100 << 20)

	g.Observe("search", 100)
	clock.advance(30 * time.Minute)
	g.Observe("search", 200)
	assert.Equal(t, int64(300), g.Used())

	clock.advance(31 * time.Minute)
	assert.Equal(t, int64(200), g.Used(), "first sample slid out")
}

func TestEstimateUsesEWMAAfterObservations(t *testing.T) {
	g, _ := newTestGovernor(100 << 20)

	// Before any observation the static table answers.
	assert.Equal(t, int64(300<<10), g.Estimate("search"))
	assert.Equal(t, int64(512<<10), g.Estimate("unknown"))

	g.Observe("search", 1000)
	assert.Equal(t, int64(1000), g.Estimate("search"))

	g.Observe("search", 2000)
	// EWMA with alpha 0.2: 0.8*1000 + 0.2*2000 = 1200.
	assert.Equal(t, int64(1200), g.Estimate("search"))
}

func TestAdmitNeverBlocksAndIsSoft(t *testing.T) {
	g, _ := newTestGovernor(1 << 20)

	// An in-flight task may overshoot: observe more than the cap.
	g.Observe("browse", 2<<20)
	assert.Equal(t, int64(2<<20), g.Used())
	assert.False(t, g.Admit("browse", 1))
}

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	g, clock := newTestGovernor(10 << 20)

	g.Observe("search", 111)
	g.Observe("browse", 222)
	require.NoError(t, g.Save(path))

	restored := New(10<<20, time.Hour)
	restored.SetClock(clock.now)
	require.NoError(t, restored.Load(path))

	assert.Equal(t, int64(333), restored.Used())
	assert.Equal(t, int64(111), restored.Estimate("search"))
}

func TestLoadMissingAndCorruptFiles(t *testing.T) {
	g, _ := newTestGovernor(10 << 20)
	require.NoError(t, g.Load(filepath.Join(t.TempDir(), "absent.json")))

	dir := t.TempDir()
	corrupt := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))
	require.NoError(t, g.Load(corrupt))
	assert.Zero(t, g.Used())
}
