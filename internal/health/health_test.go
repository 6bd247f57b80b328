// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(s Status, msg string) Check {
	return Check{Name: string(s), Probe: func(ctx context.Context) (Status, string) {
		return s, msg
	}}
}

func TestEmptyManagerIsOK(t *testing.T) {
	m := NewManager()
	rep := m.Run(context.Background())
	assert.Equal(t, StatusOK, rep.Status)
	assert.Empty(t, rep.Checks)
}

func TestWorstStatusWins(t *testing.T) {
	m := NewManager()
	m.Register(fixed(StatusOK, ""))
	m.Register(fixed(StatusDegraded, "tor offline"))
	rep := m.Run(context.Background())
	assert.Equal(t, StatusDegraded, rep.Status)

	m.Register(fixed(StatusDown, "scheduler stalled"))
	rep = m.Run(context.Background())
	assert.Equal(t, StatusDown, rep.Status)

	require.Len(t, rep.Checks, 3)
	assert.Equal(t, "tor offline", rep.Checks["degraded"].Message)
	assert.Equal(t, "scheduler stalled", rep.Checks["down"].Message)
}

func TestProbeGetsBoundedContext(t *testing.T) {
	m := NewManager()
	m.Register(Check{Name: "deadline", Probe: func(ctx context.Context) (Status, string) {
		if _, ok := ctx.Deadline(); !ok {
			return StatusDown, "no deadline"
		}
		return StatusOK, ""
	}})
	rep := m.Run(context.Background())
	assert.Equal(t, StatusOK, rep.Status)
}
