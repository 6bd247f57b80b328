// SPDX-License-Identifier: MIT

package persona

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poisson-noise/poisson/internal/rng"
)

func TestEmptyPoolFallsBackToBuiltins(t *testing.T) {
	r := NewRegistry(nil, rng.NewSource(1))
	p := r.Select()
	assert.NotEmpty(t, p.Name)
	assert.Equal(t, p.Name, r.Current())
}

func TestMatchedPersonaGetsGuaranteedShare(t *testing.T) {
	r := NewRegistry(BuiltinPersonas(), rng.NewSource(2))
	r.SetMatched(Persona{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		ViewportWidth:  2560,
		ViewportHeight: 1440,
	})
	require.True(t, r.Matched())

	const n = 2000
	matched := 0
	for i := 0; i < n; i++ {
		if r.Select().Name == "matched" {
			matched++
		}
	}
	share := float64(matched) / n
	// Guaranteed 30% draw plus whatever the weighted pool adds.
	assert.Greater(t, share, 0.27)
}

func TestMatchedPersonaIsDesktop(t *testing.T) {
	r := NewRegistry(BuiltinPersonas(), rng.NewSource(3))
	r.SetMatched(Persona{UserAgent: "x", Mobile: true})
	r.src = rng.NewSource(3)
	for i := 0; i < 100; i++ {
		p := r.Select()
		if p.Name == "matched" {
			assert.False(t, p.Mobile)
			return
		}
	}
	t.Fatal("matched persona never selected")
}

func TestMobileRatioApproximated(t *testing.T) {
	r := NewRegistry(BuiltinPersonas(), rng.NewSource(4))
	const n = 3000
	mobile := 0
	for i := 0; i < n; i++ {
		if r.Select().Mobile {
			mobile++
		}
	}
	share := float64(mobile) / n
	assert.InDelta(t, 0.30, share, 0.06)
}

func TestOveruseSuppression(t *testing.T) {
	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	pool := []Persona{
		{Name: "a", UserAgent: "ua-a", Weight: 1},
		{Name: "b", UserAgent: "ua-b", Weight: 1},
		{Name: "c", UserAgent: "ua-c", Weight: 1},
	}
	r := NewRegistry(pool, rng.NewSource(5))
	r.SetClock(func() time.Time { return clock })

	// Saturate the window with persona a.
	for i := 0; i < 20; i++ {
		r.record(clock, pool[0])
	}

	// With a's share at 100% against a 33% weight share, it must be
	// filtered out of the candidate set. Each draw dilutes a's share, so
	// only the first few are guaranteed suppressed.
	for i := 0; i < 10; i++ {
		p := r.Select()
		assert.NotEqual(t, "a", p.Name)
	}
}

func TestUsageWindowExpires(t *testing.T) {
	clock := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	pool := []Persona{
		{Name: "a", UserAgent: "ua-a", Weight: 1},
		{Name: "b", UserAgent: "ua-b", Weight: 1},
	}
	r := NewRegistry(pool, rng.NewSource(6))
	r.SetClock(func() time.Time { return clock })

	for i := 0; i < 20; i++ {
		r.record(clock, pool[0])
	}

	// After the rolling window passes, history resets and a is electable.
	clock = clock.Add(3 * time.Hour)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[r.Select().Name] = true
	}
	assert.True(t, seen["a"])
}

func TestUpdateMatchedViewport(t *testing.T) {
	r := NewRegistry(BuiltinPersonas(), rng.NewSource(7))

	// No-op without a matched persona.
	r.UpdateMatchedViewport(800, 600)
	require.False(t, r.Matched())

	r.SetMatched(Persona{UserAgent: "x"})
	r.UpdateMatchedViewport(3840, 2160)
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 3840, r.matched.ViewportWidth)
	assert.Equal(t, 2160, r.matched.ViewportHeight)
}

func TestPlatformFromUserAgent(t *testing.T) {
	cases := map[string]string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)":              "Win32",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)":        "MacIntel",
		"Mozilla/5.0 (X11; Linux x86_64)":                        "Linux x86_64",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)": "iPhone",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8)":               "Linux armv8l",
	}
	for ua, want := range cases {
		assert.Equal(t, want, PlatformFromUserAgent(ua), ua)
	}
}
