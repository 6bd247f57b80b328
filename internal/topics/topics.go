// SPDX-License-Identifier: MIT

// Package topics draws browsing topics per session and maintains the
// multi-day "obsession" bias that models human curiosity streaks.
package topics

import (
	"fmt"
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/rng"
)

// Category is a weighted topical bucket with its query wordlist.
type Category struct {
	Name   string
	Weight float64
	Terms  []string

	// RequiresEngine restricts the category to sessions where the named
	// engine is enabled (e.g. privacy_tools needs research).
	RequiresEngine string
}

// Topic is one session's topical assignment.
type Topic struct {
	Category string
	Query    string

	// ResearchRun carries 3-8 related queries when a multi-query
	// research session was scheduled.
	ResearchRun []string
}

// Obsession is a sustained topical bias.
type Obsession struct {
	Category  string    `json:"category"`
	ExpiresAt time.Time `json:"expires_at"`
	Strength  float64   `json:"strength"`
}

const (
	// DefaultObsessionProbability is the chance of entering obsession on
	// any given session start.
	DefaultObsessionProbability = 0.02

	obsessionMinHours = 6
	obsessionMaxHours = 72

	researchRunProbability = 0.08
)

// Related-query modifiers for obsession deep dives and research runs.
var queryModifiers = []string{
	"%s", "%s review", "%s comparison", "%s reddit", "best %s",
	"%s pros and cons", "%s alternatives", "%s guide", "%s tutorial",
	"%s cost", "%s forum", "is %s worth it", "%s vs",
}

// Model draws topics and owns the obsession lifecycle. At most one
// obsession is live at a time.
type Model struct {
	mu         sync.Mutex
	categories []Category
	obsession  *Obsession
	prob       float64
	src        *rng.Source
	now        func() time.Time
}

// NewModel builds a model over the given categories.
func NewModel(categories []Category, obsessionProbability float64, src *rng.Source) *Model {
	if obsessionProbability < 0 || obsessionProbability > 1 {
		obsessionProbability = DefaultObsessionProbability
	}
	return &Model{
		categories: normalize(categories),
		prob:       obsessionProbability,
		src:        src,
		now:        time.Now,
	}
}

// SetClock injects a clock for tests.
func (m *Model) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// ReplaceCategories swaps the category table (hot reload).
func (m *Model) ReplaceCategories(categories []Category) {
	if len(categories) == 0 {
		return
	}
	m.mu.Lock()
	m.categories = normalize(categories)
	m.mu.Unlock()
}

// Next draws the topic for a session starting now. engineEnabled filters
// categories gated on a disabled engine; nil admits everything.
func (m *Model) Next(engineEnabled func(string) bool) Topic {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeStartObsession(now)

	if o := m.liveObsession(now); o != nil && m.src.Float64() < o.Strength {
		return m.topicFor(o.Category)
	}

	active := make([]Category, 0, len(m.categories))
	total := 0.0
	for _, c := range m.categories {
		if c.RequiresEngine != "" && engineEnabled != nil && !engineEnabled(c.RequiresEngine) {
			continue
		}
		active = append(active, c)
		total += c.Weight
	}
	if len(active) == 0 || total <= 0 {
		return Topic{Category: "general", Query: "news today"}
	}

	u := m.src.Float64() * total
	acc := 0.0
	pick := active[len(active)-1]
	for _, c := range active {
		acc += c.Weight
		if u < acc {
			pick = c
			break
		}
	}
	return m.topicFor(pick.Name)
}

// Current returns the live obsession, if any.
func (m *Model) Current() *Obsession {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.liveObsession(m.now())
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// Clear drops any live obsession (control-plane testing hook).
func (m *Model) Clear() {
	m.mu.Lock()
	m.obsession = nil
	m.mu.Unlock()
}

// maybeStartObsession rolls the per-session-start dice. A new obsession
// replaces any existing one. Caller holds m.mu.
func (m *Model) maybeStartObsession(now time.Time) {
	if m.src.Float64() >= m.prob || len(m.categories) == 0 {
		return
	}
	cat := m.categories[m.src.Intn(len(m.categories))]
	hours := m.src.Uniform(obsessionMinHours, obsessionMaxHours)
	// Triangular draw keeps most strengths in the 0.4-0.8 band.
	strength := 0.2 + 0.8*(m.src.Float64()+m.src.Float64())/2
	m.obsession = &Obsession{
		Category:  cat.Name,
		ExpiresAt: now.Add(time.Duration(hours * float64(time.Hour))),
		Strength:  strength,
	}
	logger := log.WithComponent("topics")
	logger.Info().
		Str("event", "obsession.started").
		Str("category", cat.Name).
		Time("expires_at", m.obsession.ExpiresAt).
		Float64("strength", strength).
		Msg("entering obsession mode")
}

func (m *Model) liveObsession(now time.Time) *Obsession {
	if m.obsession != nil && now.After(m.obsession.ExpiresAt) {
		m.obsession = nil
	}
	return m.obsession
}

// topicFor builds a Topic for a category, occasionally scheduling a
// multi-query research run. Caller holds m.mu.
func (m *Model) topicFor(category string) Topic {
	t := Topic{Category: category, Query: m.queryFor(category)}
	if m.src.Float64() < researchRunProbability {
		t.ResearchRun = m.relatedQueries(t.Query, 3+m.src.Intn(6))
	}
	return t
}

func (m *Model) queryFor(category string) string {
	for _, c := range m.categories {
		if c.Name == category && len(c.Terms) > 0 {
			return c.Terms[m.src.Intn(len(c.Terms))]
		}
	}
	return category
}

// relatedQueries produces variations that look like someone researching a
// seed topic thoroughly.
func (m *Model) relatedQueries(seed string, count int) []string {
	if count > len(queryModifiers) {
		count = len(queryModifiers)
	}
	picked := make(map[int]bool, count)
	out := make([]string, 0, count)
	for len(out) < count {
		i := m.src.Intn(len(queryModifiers))
		if picked[i] {
			continue
		}
		picked[i] = true
		out = append(out, fmt.Sprintf(queryModifiers[i], seed))
	}
	return out
}

func normalize(categories []Category) []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	for i := range out {
		if out[i].Weight <= 0 {
			out[i].Weight = 1
		}
	}
	return out
}
