// SPDX-License-Identifier: MIT

package driver

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/poisson-noise/poisson/internal/persona"
)

// Stub is an in-memory page driver for tests and dry runs. Every call
// "loads" BytesPerCall bytes after Hold elapses, failing every FailEvery-th
// call when FailEvery > 0.
type Stub struct {
	BytesPerCall int64
	Hold         time.Duration
	FailEvery    int64

	calls atomic.Int64
}

// ErrStubFailure is returned by a Stub call scheduled to fail.
var ErrStubFailure = errors.New("stub driver: simulated failure")

// StubFactory hands out Stub drivers sharing one call counter.
type StubFactory struct {
	Stub *Stub
}

// New implements Factory.
func (f *StubFactory) New(_ context.Context, _ bool) (PageDriver, error) {
	return f.Stub, nil
}

// Calls returns the total number of driver calls across all sessions.
func (s *Stub) Calls() int64 {
	return s.calls.Load()
}

func (s *Stub) visit(ctx context.Context, url string, timeout time.Duration) Result {
	n := s.calls.Add(1)

	hold := s.Hold
	if timeout > 0 && hold > timeout {
		hold = timeout
	}
	if hold > 0 {
		select {
		case <-ctx.Done():
			return Result{OK: false, Err: ctx.Err()}
		case <-time.After(hold):
		}
	}

	if s.FailEvery > 0 && n%s.FailEvery == 0 {
		return Result{OK: false, Err: ErrStubFailure}
	}
	return Result{BytesRead: s.BytesPerCall, FinalURL: url, OK: true}
}

// Open implements PageDriver.
func (s *Stub) Open(ctx context.Context, url string, _ persona.Persona, timeout time.Duration) Result {
	return s.visit(ctx, url, timeout)
}

// Follow implements PageDriver.
func (s *Stub) Follow(ctx context.Context, _ int, timeout time.Duration) Result {
	return s.visit(ctx, "", timeout)
}

// ClickAd implements PageDriver.
func (s *Stub) ClickAd(ctx context.Context, timeout time.Duration) Result {
	return s.visit(ctx, "", timeout)
}

// Close implements PageDriver.
func (s *Stub) Close() error { return nil }
