// SPDX-License-Identifier: MIT

package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityFloor(t *testing.T) {
	assert.Equal(t, MinCapacity, NewRing(10).Capacity())
	assert.Equal(t, 500, NewRing(500).Capacity())
}

func TestRingStaysBounded(t *testing.T) {
	r := NewRing(MinCapacity)
	for i := 0; i < 3*MinCapacity; i++ {
		r.Record(Entry{Engine: "search", Detail: fmt.Sprintf("e%d", i), Outcome: OutcomeOK})
	}
	assert.Equal(t, MinCapacity, r.Len())
}

func TestTailNewestFirstAndFIFOEviction(t *testing.T) {
	r := NewRing(MinCapacity)
	for i := 0; i < MinCapacity+5; i++ {
		r.Record(Entry{Engine: "browse", Detail: fmt.Sprintf("e%d", i), Outcome: OutcomeOK})
	}

	tail := r.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, fmt.Sprintf("e%d", MinCapacity+4), tail[0].Detail)
	assert.Equal(t, fmt.Sprintf("e%d", MinCapacity+3), tail[1].Detail)

	// The oldest retained entry is e5; e0..e4 were evicted.
	all := r.Tail(0)
	require.Len(t, all, MinCapacity)
	assert.Equal(t, "e5", all[len(all)-1].Detail)
}

func TestTailClampsCount(t *testing.T) {
	r := NewRing(MinCapacity)
	r.Record(Entry{Engine: "dns", Outcome: OutcomeOK})
	assert.Len(t, r.Tail(100), 1)
	assert.Len(t, r.Tail(-1), 1)
}

func TestChartBucketsPerEngineByHour(t *testing.T) {
	r := NewRing(MinCapacity)
	at := func(h int) time.Time {
		return time.Date(2026, 3, 2, h, 15, 0, 0, time.UTC)
	}
	r.Record(Entry{Timestamp: at(9), Engine: "search", Outcome: OutcomeOK})
	r.Record(Entry{Timestamp: at(9), Engine: "search", Outcome: OutcomeOK})
	r.Record(Entry{Timestamp: at(9), Engine: "browse", Outcome: OutcomeError})
	r.Record(Entry{Timestamp: at(21), Engine: "dns", Outcome: OutcomeOK})

	chart := r.Chart()
	require.Len(t, chart, 24)
	assert.Equal(t, 2, chart[9].Engines["search"])
	assert.Equal(t, 1, chart[9].Engines["browse"])
	assert.Equal(t, 1, chart[21].Engines["dns"])
	assert.Empty(t, chart[3].Engines)
}

func TestRecordStampsMissingTimestamp(t *testing.T) {
	r := NewRing(MinCapacity)
	r.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	r.Record(Entry{Engine: "search", Outcome: OutcomeSkipped})
	tail := r.Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, 8, tail[0].Timestamp.Hour())
}
