// SPDX-License-Identifier: MIT

package timing

import (
	"math"
	"time"

	"github.com/poisson-noise/poisson/internal/rng"
)

// PageState is one step of the intra-session browsing chain.
type PageState string

const (
	StateLand         PageState = "land"
	StateSkim         PageState = "skim"
	StateRead         PageState = "read"
	StateFollowLink   PageState = "follow_link"
	StateSearchRefine PageState = "search_refine"
	StateAdGlance     PageState = "ad_glance"
	StateIdle         PageState = "idle"
	StateLeave        PageState = "leave"
)

var chainStates = []PageState{
	StateLand, StateSkim, StateRead, StateFollowLink,
	StateSearchRefine, StateAdGlance, StateIdle, StateLeave,
}

// Base transition matrix. Row order matches chainStates; rows sum to 1 and
// leave is absorbing.
var baseTransitions = [8][8]float64{
	// land
	{0.00, 0.35, 0.30, 0.15, 0.08, 0.04, 0.05, 0.03},
	// skim
	{0.00, 0.10, 0.30, 0.25, 0.10, 0.05, 0.10, 0.10},
	// read
	{0.00, 0.10, 0.15, 0.30, 0.12, 0.04, 0.14, 0.15},
	// follow_link
	{0.00, 0.25, 0.35, 0.12, 0.08, 0.05, 0.08, 0.07},
	// search_refine
	{0.00, 0.25, 0.30, 0.20, 0.05, 0.03, 0.08, 0.09},
	// ad_glance
	{0.00, 0.20, 0.30, 0.15, 0.05, 0.02, 0.13, 0.15},
	// idle
	{0.00, 0.15, 0.20, 0.10, 0.08, 0.02, 0.10, 0.35},
	// leave (absorbing)
	{0.00, 0.00, 0.00, 0.00, 0.00, 0.00, 0.00, 1.00},
}

// Median dwell seconds per state. Dwells are log-normal around these.
var dwellMedians = map[PageState]float64{
	StateLand:         3,
	StateSkim:         8,
	StateRead:         40,
	StateFollowLink:   2,
	StateSearchRefine: 10,
	StateAdGlance:     5,
	StateIdle:         30,
	StateLeave:        0,
}

const dwellSigma = 0.6

// Chain walks the page-state Markov chain for one session. Not safe for
// concurrent use; each session owns its chain.
type Chain struct {
	src     *rng.Source
	current PageState
	steps   int
}

// NewChain seeds a chain from its own source; pass a stream derived from
// the persona+topic hash for reproducible sessions.
func NewChain(src *rng.Source) *Chain {
	return &Chain{src: src, current: StateLand}
}

// Current returns the present state.
func (c *Chain) Current() PageState { return c.current }

// Done reports whether the chain has been absorbed.
func (c *Chain) Done() bool { return c.current == StateLeave }

// Steps returns the number of transitions taken.
func (c *Chain) Steps() int { return c.steps }

// Step advances the chain one transition and returns the new state.
// A fatigue term shifts probability mass toward leave as the session ages.
func (c *Chain) Step() PageState {
	if c.current == StateLeave {
		return StateLeave
	}
	row := stateIndex(c.current)

	var probs [8]float64
	copy(probs[:], baseTransitions[row][:])

	fatigue := math.Min(0.4, float64(c.steps)*0.03)
	probs[stateIndex(StateLeave)] += fatigue

	total := 0.0
	for _, p := range probs {
		total += p
	}
	u := c.src.Float64() * total
	acc := 0.0
	next := StateLeave
	for i, p := range probs {
		acc += p
		if u < acc {
			next = chainStates[i]
			break
		}
	}
	c.current = next
	c.steps++
	return next
}

// Dwell samples how long to stay in the current state.
func (c *Chain) Dwell() time.Duration {
	return SampleDwell(c.src, c.current)
}

// SampleDwell draws a log-normal dwell for a state. The distribution is
// left untruncated; runaway draws are bounded by the session-level cap, not
// here.
func SampleDwell(src *rng.Source, state PageState) time.Duration {
	median := dwellMedians[state]
	if median <= 0 {
		return 0
	}
	d := median * math.Exp(dwellSigma*src.NormFloat64())
	return time.Duration(d * float64(time.Second))
}

// DwellMedian exposes the per-state median for timeout computation.
func DwellMedian(state PageState) time.Duration {
	return time.Duration(dwellMedians[state] * float64(time.Second))
}

func stateIndex(s PageState) int {
	for i, st := range chainStates {
		if st == s {
			return i
		}
	}
	return len(chainStates) - 1
}

// Session duration model: log-normal with a fat tail, clamped between
// 30 seconds and two hours.
const (
	sessionMedianSeconds = 15 * 60
	sessionSigma         = 0.8
	sessionMinSeconds    = 30
	sessionMaxSeconds    = 2 * 60 * 60
)

// SampleSessionDuration draws a planned session duration.
func SampleSessionDuration(src *rng.Source) time.Duration {
	d := sessionMedianSeconds * math.Exp(sessionSigma*src.NormFloat64())
	if d < sessionMinSeconds {
		d = sessionMinSeconds
	}
	if d > sessionMaxSeconds {
		d = sessionMaxSeconds
	}
	return time.Duration(d * float64(time.Second))
}
