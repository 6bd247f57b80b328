// SPDX-License-Identifier: MIT

// Package health aggregates component probes for the public health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is a probe verdict.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check is one named probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) (Status, string)
}

// Report is the aggregated verdict.
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]Detail `json:"checks"`
}

// Detail is one probe's outcome.
type Detail struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Manager runs registered checks on demand.
type Manager struct {
	mu     sync.RWMutex
	checks []Check
}

// NewManager builds an empty registry.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a probe.
func (m *Manager) Register(c Check) {
	m.mu.Lock()
	m.checks = append(m.checks, c)
	m.mu.Unlock()
}

const probeTimeout = 2 * time.Second

// Run executes all probes. The aggregate is the worst individual status;
// degraded components do not take the endpoint down.
func (m *Manager) Run(ctx context.Context) Report {
	m.mu.RLock()
	checks := make([]Check, len(m.checks))
	copy(checks, m.checks)
	m.mu.RUnlock()

	rep := Report{Status: StatusOK, Checks: make(map[string]Detail, len(checks))}
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, probeTimeout)
		status, msg := c.Probe(cctx)
		cancel()
		rep.Checks[c.Name] = Detail{Status: status, Message: msg}
		if rank(status) > rank(rep.Status) {
			rep.Status = status
		}
	}
	return rep
}

func rank(s Status) int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
