// SPDX-License-Identifier: MIT

// Package activity keeps the bounded in-memory feed of recent task records
// and mirrors every entry to stderr as a JSON line for operators.
package activity

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Outcome classifies how a task ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// Entry is one append-only activity record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Engine    string    `json:"engine"`
	Detail    string    `json:"detail"`
	URL       string    `json:"url,omitempty"`
	Bytes     int64     `json:"bytes"`
	Outcome   Outcome   `json:"outcome"`
	Persona   string    `json:"persona,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// MinCapacity is the smallest permitted ring size.
const MinCapacity = 200

// Ring is a fixed-capacity FIFO of activity entries. Writes are serialized;
// readers get consistent snapshots.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	head    int
	size    int
	feed    zerolog.Logger
	now     func() time.Time
}

// NewRing creates a ring with at least MinCapacity slots.
func NewRing(capacity int) *Ring {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Ring{
		entries: make([]Entry, capacity),
		feed:    zerolog.New(os.Stderr).With().Timestamp().Logger(),
		now:     time.Now,
	}
}

// Record appends an entry, evicting the oldest when full, and emits the
// JSON line to stderr.
func (r *Ring) Record(e Entry) {
	r.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	idx := (r.head + r.size) % len(r.entries)
	if r.size == len(r.entries) {
		r.head = (r.head + 1) % len(r.entries)
		idx = (r.head + r.size - 1) % len(r.entries)
	} else {
		r.size++
	}
	r.entries[idx] = e
	r.mu.Unlock()

	r.feed.Log().
		Time("ts", e.Timestamp).
		Str("engine", e.Engine).
		Str("url", e.URL).
		Int64("bytes", e.Bytes).
		Str("outcome", string(e.Outcome)).
		Str("persona", e.Persona).
		Str("session_id", e.SessionID).
		Msg(e.Detail)
}

// Tail returns up to n entries, newest first.
func (r *Ring) Tail(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.size - 1 - i) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// Len returns the number of live entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed ring capacity.
func (r *Ring) Capacity() int {
	return len(r.entries)
}

// ChartBucket is one histogram cell of the 24-bucket activity chart.
type ChartBucket struct {
	Hour    int            `json:"hour"`
	Engines map[string]int `json:"engines"`
}

// Chart builds a 24-bucket per-engine histogram over the retained entries.
func (r *Ring) Chart() []ChartBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	buckets := make([]ChartBucket, 24)
	for h := range buckets {
		buckets[h] = ChartBucket{Hour: h, Engines: make(map[string]int)}
	}
	for i := 0; i < r.size; i++ {
		e := r.entries[(r.head+i)%len(r.entries)]
		buckets[e.Timestamp.Hour()].Engines[e.Engine]++
	}
	return buckets
}
