// SPDX-License-Identifier: MIT

// Package engine holds the traffic generators and the dispatcher that picks
// among them. Each engine turns a topic and persona into a concrete task;
// running the task is the session manager's job.
package engine

import (
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// Kind classifies how a task is executed.
type Kind string

const (
	// KindPage tasks run through a page driver.
	KindPage Kind = "page"
	// KindDNS tasks resolve names without loading any page.
	KindDNS Kind = "dns"
)

// Task is one unit of decoy activity handed to the session manager.
type Task struct {
	Engine        string
	Kind          Kind
	URL           string
	Query         string
	Category      string
	ExpectedBytes int64

	// FollowLinks is how many internal links to click after landing.
	FollowLinks int
	// ClickAd marks a task that should locate and click an ad element.
	ClickAd bool
	// ViaSOCKS routes the page driver through the Tor SOCKS proxy.
	ViaSOCKS bool
	// ExtraQueries carries follow-up searches for research runs.
	ExtraQueries []string
	// Names holds hostnames for DNS tasks.
	Names []string
}

// Estimator supplies the expected byte cost for one task of an engine,
// consulted on every task so estimates track observed traffic. The
// bandwidth governor implements it with a live per-engine EWMA.
type Estimator interface {
	Estimate(engine string) int64
}

// FixedEstimate is a constant Estimator for tests and wiring without a
// governor.
type FixedEstimate int64

// Estimate returns the fixed value regardless of engine.
func (f FixedEstimate) Estimate(string) int64 { return int64(f) }

func estimatorOr(est Estimator) Estimator {
	if est == nil {
		return FixedEstimate(512 << 10)
	}
	return est
}

// Engine produces tasks for one traffic class.
type Engine interface {
	Name() string
	// RequiresBrowser reports whether tasks need a page driver slot.
	RequiresBrowser() bool
	// ProduceTask builds a task for the topic, or nil when the engine has
	// nothing suitable (e.g. empty site table).
	ProduceTask(t topics.Topic, p persona.Persona, src *rng.Source) *Task
}

// Stats is a point-in-time per-engine counter snapshot.
type Stats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
	Bytes    int64 `json:"bytes"`
}

// statBook tracks per-engine counters plus a short recency window used to
// damp engines that fired repeatedly in a row.
type statBook struct {
	mu     sync.Mutex
	counts map[string]*Stats
	recent []recentPick
}

type recentPick struct {
	engine string
	at     time.Time
}

const recentWindow = 30 * time.Minute

func newStatBook() *statBook {
	return &statBook{counts: make(map[string]*Stats)}
}

func (b *statBook) record(engine string, bytes int64, failed bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.counts[engine]
	if s == nil {
		s = &Stats{}
		b.counts[engine] = s
	}
	s.Requests++
	s.Bytes += bytes
	if failed {
		s.Errors++
	}
	b.recent = append(b.recent, recentPick{engine: engine, at: now})
	b.compact(now)
}

// recentShare is the fraction of recent picks that went to engine.
func (b *statBook) recentShare(engine string, now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compact(now)
	if len(b.recent) == 0 {
		return 0
	}
	n := 0
	for _, p := range b.recent {
		if p.engine == engine {
			n++
		}
	}
	return float64(n) / float64(len(b.recent))
}

func (b *statBook) compact(now time.Time) {
	cutoff := now.Add(-recentWindow)
	i := 0
	for i < len(b.recent) && b.recent[i].at.Before(cutoff) {
		i++
	}
	b.recent = b.recent[i:]
}

func (b *statBook) snapshot() map[string]Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Stats, len(b.counts))
	for name, s := range b.counts {
		out[name] = *s
	}
	return out
}
