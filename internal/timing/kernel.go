// SPDX-License-Identifier: MIT

package timing

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/rng"
)

// Stream tags the logical event stream a firing belongs to.
type Stream string

const (
	StreamSessionStart     Stream = "session_start"
	StreamDNSTick          Stream = "dns_tick"
	StreamObsessionRefresh Stream = "obsession_refresh"
)

// Event is a single scheduled firing.
type Event struct {
	Time   time.Time
	Stream Stream
	Lambda float64 // events/hour sampled at the firing time, for observability
}

// Config controls the shape of lambda(t).
type Config struct {
	Intensity     Intensity
	HourlyWeights []float64 // 24 entries; nil selects the built-in curve

	// RateScale multiplies the base rate. Auxiliary streams (dns_tick)
	// run the same kernel at a scaled rate.
	RateScale float64

	// Lookahead bounds the horizon over which lambda_max is computed
	// for thinning. Minimum 15 minutes.
	Lookahead time.Duration

	// DiurnalDisabled flattens lambda(t) to the base rate. Used by tests
	// asserting the homogeneous exponential gap distribution.
	DiurnalDisabled bool
}

func (c *Config) normalize() error {
	if c.RateScale == 0 {
		c.RateScale = 1
	}
	if c.RateScale < 0 {
		return fmt.Errorf("rate scale must be positive, got %v", c.RateScale)
	}
	if c.Lookahead < 15*time.Minute {
		c.Lookahead = 15 * time.Minute
	}
	if c.HourlyWeights == nil {
		c.HourlyWeights = DefaultHourlyWeights()
	}
	if len(c.HourlyWeights) != 24 {
		return fmt.Errorf("hourly weights must have 24 entries, got %d", len(c.HourlyWeights))
	}
	return nil
}

// Kernel produces the monotonic firing sequence for one event stream using
// inhomogeneous Poisson thinning. Configuration changes take effect on the
// next candidate draw.
type Kernel struct {
	stream Stream
	src    *rng.Source

	mu  sync.RWMutex
	cfg Config
}

// NewKernel builds a kernel for the given stream.
func NewKernel(stream Stream, cfg Config, src *rng.Source) (*Kernel, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Kernel{stream: stream, src: src, cfg: cfg}, nil
}

// SetIntensity swaps the base rate. In-flight candidate draws are honored.
func (k *Kernel) SetIntensity(i Intensity) {
	k.mu.Lock()
	k.cfg.Intensity = i
	k.mu.Unlock()
}

// SetHourlyWeights swaps the diurnal curve.
func (k *Kernel) SetHourlyWeights(w []float64) error {
	if len(w) != 24 {
		return fmt.Errorf("hourly weights must have 24 entries, got %d", len(w))
	}
	k.mu.Lock()
	k.cfg.HourlyWeights = append([]float64(nil), w...)
	k.mu.Unlock()
	return nil
}

// Intensity returns the currently configured intensity.
func (k *Kernel) Intensity() Intensity {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cfg.Intensity
}

// lambdaFloor keeps the rate strictly positive so thinning terminates.
// Matches ~0.3 events/hour.
const lambdaFloor = 0.3

// Lambda returns the effective rate in events per hour at t.
func (k *Kernel) Lambda(t time.Time) float64 {
	k.mu.RLock()
	cfg := k.cfg
	k.mu.RUnlock()

	lam := cfg.Intensity.BaseLambda() * cfg.RateScale
	if cfg.DiurnalDisabled {
		return lam
	}

	hour := t.Hour()
	// Interpolate between adjacent hour weights for smooth transitions.
	frac := float64(t.Minute()) / 60.0
	weight := cfg.HourlyWeights[hour]*(1-frac) + cfg.HourlyWeights[(hour+1)%24]*frac

	weekend := 1.0
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 0.9 + 0.2*math.Sin(math.Pi*float64(hour)/12)
	}

	lam *= weight * weekend * weeklyDrift(t) * minuteJitter(t)
	return math.Max(lam, lambdaFloor)
}

// weeklyDrift rotates a small sinusoidal phase per ISO week so the schedule
// never repeats exactly week over week. Deterministic given wall-clock time.
func weeklyDrift(t time.Time) float64 {
	year, week := t.ISOWeek()
	idx := float64(year*53 + week)
	phase := 2 * math.Pi * math.Mod(idx*0.618033988749895, 1)
	return 1 + 0.15*math.Sin(phase)
}

// minuteJitter is multiplicative noise in [0.8, 1.2], stable within a minute.
// It must be deterministic: a per-call random jitter could push lambda(t)
// above the lambda_max bound used for thinning.
func minuteJitter(t time.Time) float64 {
	h := fnv.New64a()
	var buf [8]byte
	m := t.Unix() / 60
	for i := 0; i < 8; i++ {
		buf[i] = byte(m >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	u := float64(h.Sum64()%10000) / 10000 // uniform-ish in [0,1)
	return 0.8 + 0.4*u
}

// lambdaMax scans the lookahead horizon for the dominating rate.
func (k *Kernel) lambdaMax(from time.Time) float64 {
	k.mu.RLock()
	lookahead := k.cfg.Lookahead
	k.mu.RUnlock()

	max := k.Lambda(from)
	for d := time.Minute; d <= lookahead; d += time.Minute {
		if l := k.Lambda(from.Add(d)); l > max {
			max = l
		}
	}
	// Headroom for the jitter band edge between scan points.
	return max * 1.05
}

// NextAfter yields the next firing strictly after t via thinning:
// draw candidate gaps from the dominating homogeneous process at lambda_max,
// accept each candidate with probability lambda(t)/lambda_max. Candidates
// past the horizon trigger a lambda_max recompute, which is also how
// mid-day intensity changes are picked up.
func (k *Kernel) NextAfter(t time.Time) Event {
	cursor := t
	for {
		lamMax := k.lambdaMax(cursor)
		k.mu.RLock()
		horizon := cursor.Add(k.cfg.Lookahead)
		k.mu.RUnlock()

		for cursor.Before(horizon) {
			gapHours := k.src.ExpFloat64() / lamMax
			cursor = cursor.Add(time.Duration(gapHours * float64(time.Hour)))
			if !cursor.Before(horizon) {
				break // re-derive lambda_max for the next window
			}
			lam := k.Lambda(cursor)
			if k.src.Float64() < lam/lamMax {
				return Event{Time: cursor, Stream: k.stream, Lambda: lam}
			}
		}
		cursor = horizon
	}
}
