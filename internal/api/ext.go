// SPDX-License-Identifier: MIT

package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/poisson-noise/poisson/internal/datafiles"
	"github.com/poisson-noise/poisson/internal/engine"
	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// The extension counts as alive while heartbeats keep arriving.
const extHeartbeatWindow = 5 * time.Minute

// ExtTask is one small unit of remote work for the extension collaborator.
type ExtTask struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	DelayMS int    `json:"delay_ms"`
}

// ExtStatus is the extension's liveness view.
type ExtStatus struct {
	Registered    bool           `json:"registered"`
	Alive         bool           `json:"alive"`
	LastHeartbeat time.Time      `json:"last_heartbeat,omitempty"`
	Counters      map[string]int `json:"counters,omitempty"`
}

// extTaskKind carries per-type selection weight and delay range.
type extTaskKind struct {
	name       string
	weight     float64
	minDelayMS int
	maxDelayMS int
}

var extTaskKinds = []extTaskKind{
	{name: "search", weight: 0.45, minDelayMS: 2000, maxDelayMS: 15000},
	{name: "browse", weight: 0.40, minDelayMS: 3000, maxDelayMS: 30000},
	{name: "ad_click", weight: 0.15, minDelayMS: 5000, maxDelayMS: 45000},
}

// ExtManager tracks the optional browser-extension collaborator. The
// extension executes tasks remotely; it is never on the daemon's critical
// path.
type ExtManager struct {
	topics *topics.Model
	tables func() *datafiles.Snapshot
	src    *rng.Source

	mu            sync.Mutex
	token         string
	registered    bool
	lastHeartbeat time.Time
	counters      map[string]int
	fingerprint   map[string]any
	now           func() time.Time
}

// NewExtManager builds an idle manager; nothing is live until Register.
func NewExtManager(model *topics.Model, tables func() *datafiles.Snapshot, src *rng.Source) *ExtManager {
	return &ExtManager{
		topics:   model,
		tables:   tables,
		src:      src,
		counters: make(map[string]int),
		now:      time.Now,
	}
}

// SetClock injects a clock for tests.
func (m *ExtManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Register mints a bearer token for the extension. Re-registering rotates
// the token and resets counters.
func (m *ExtManager) Register() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	m.mu.Lock()
	m.token = token
	m.registered = true
	m.lastHeartbeat = m.now()
	m.counters = make(map[string]int)
	m.mu.Unlock()

	logger := log.WithComponent("ext")
	logger.Info().
		Str("event", "ext.registered").
		Msg("extension collaborator registered")
	return token, nil
}

// Authorize checks a bearer token in constant time.
func (m *ExtManager) Authorize(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.registered || m.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

// Heartbeat records liveness plus the extension's own counters.
func (m *ExtManager) Heartbeat(counters map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat = m.now()
	for k, v := range counters {
		m.counters[k] = v
	}
}

// SetFingerprint stores the sanitized fingerprint dictionary reported by
// the extension. Only scalar values survive sanitization.
func (m *ExtManager) SetFingerprint(fp map[string]any) {
	clean := make(map[string]any, len(fp))
	for k, v := range fp {
		switch v.(type) {
		case string, bool, float64, int:
			clean[k] = v
		}
	}
	m.mu.Lock()
	m.fingerprint = clean
	m.mu.Unlock()
}

// Fingerprint returns the last reported fingerprint dictionary.
func (m *ExtManager) Fingerprint() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.fingerprint))
	for k, v := range m.fingerprint {
		out[k] = v
	}
	return out
}

// Status snapshots registration and liveness.
func (m *ExtManager) Status() ExtStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := ExtStatus{Registered: m.registered}
	if m.registered {
		st.LastHeartbeat = m.lastHeartbeat
		st.Alive = m.now().Sub(m.lastHeartbeat) < extHeartbeatWindow
		st.Counters = make(map[string]int, len(m.counters))
		for k, v := range m.counters {
			st.Counters[k] = v
		}
	}
	return st
}

// NextTask generates one remote task. Weighted across search, browse and
// ad_click with a per-type think delay.
func (m *ExtManager) NextTask() ExtTask {
	kind := pickExtKind(m.src)
	delay := kind.minDelayMS + m.src.Intn(kind.maxDelayMS-kind.minDelayMS+1)

	topic := m.topics.Next(nil)
	task := ExtTask{Type: kind.name, DelayMS: delay}

	switch kind.name {
	case "search":
		task.URL = engine.SearchURL(m.src, topic.Query)
	default:
		task.URL = m.pickSite(topic.Category)
		if task.URL == "" {
			task.Type = "search"
			task.URL = engine.SearchURL(m.src, topic.Query)
		}
	}
	return task
}

func (m *ExtManager) pickSite(category string) string {
	snap := m.tables()
	if snap == nil {
		return ""
	}
	sites := snap.Sites[category]
	if len(sites) == 0 {
		for _, list := range snap.Sites {
			if len(list) > 0 {
				sites = list
				break
			}
		}
	}
	if len(sites) == 0 {
		return ""
	}
	return sites[m.src.Intn(len(sites))].URL
}

func pickExtKind(src *rng.Source) extTaskKind {
	total := 0.0
	for _, k := range extTaskKinds {
		total += k.weight
	}
	u := src.Float64() * total
	acc := 0.0
	for _, k := range extTaskKinds {
		acc += k.weight
		if u < acc {
			return k
		}
	}
	return extTaskKinds[0]
}
