// SPDX-License-Identifier: MIT

// Package driver defines the page-driver port the core dispatches browser
// work through. The headless browser itself lives outside the core; the
// session manager caps concurrent drivers at the session slot count.
package driver

import (
	"context"
	"time"

	"github.com/poisson-noise/poisson/internal/persona"
)

// Result is the completion signal for one driver operation.
type Result struct {
	BytesRead int64
	FinalURL  string
	OK        bool
	Err       error
}

// PageDriver drives one browser context. Implementations must honor the
// context and the per-call timeout; the core treats an expired timeout as a
// transient task error.
type PageDriver interface {
	// Open navigates to url with the persona applied to the context.
	Open(ctx context.Context, url string, p persona.Persona, timeout time.Duration) Result
	// Follow clicks the n-th internal link on the current page.
	Follow(ctx context.Context, linkIndex int, timeout time.Duration) Result
	// ClickAd locates and clicks a qualifying ad element.
	ClickAd(ctx context.Context, timeout time.Duration) Result
	// Close releases the browser context.
	Close() error
}

// Factory creates page drivers. One driver serves one session.
type Factory interface {
	New(ctx context.Context, viaSOCKS bool) (PageDriver, error)
}
