// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"net"
	"time"

	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// DNS emits bare lookups that mimic background resolver chatter: CDN hosts,
// telemetry endpoints, API domains. It runs outside session slots.
type DNS struct {
	tables   func() []string
	resolver Resolver
	est      Estimator
}

// Resolver is the lookup port; net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

const (
	dnsBurstProbability = 0.15
	dnsBurstMin         = 2
	dnsBurstMax         = 5
	dnsLookupTimeout    = 5 * time.Second
)

// Background hostnames a real machine resolves without anyone browsing.
var builtinDNSNames = []string{
	"www.googleapis.com", "fonts.gstatic.com", "cdn.jsdelivr.net",
	"api.github.com", "clients4.google.com", "ocsp.digicert.com",
	"update.googleapis.com", "static.cloudflareinsights.com",
	"www.gravatar.com", "cdnjs.cloudflare.com", "s3.amazonaws.com",
	"ajax.googleapis.com", "play.google.com", "graph.facebook.com",
	"api.twitter.com", "edge.microsoft.com", "telemetry.mozilla.org",
	"pool.ntp.org", "time.cloudflare.com", "dns.google",
}

// NewDNS builds the DNS engine. tables may return extra names from the data
// files; resolver nil means net.DefaultResolver.
func NewDNS(tables func() []string, resolver Resolver, est Estimator) *DNS {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if est == nil {
		est = FixedEstimate(1 << 10)
	}
	return &DNS{tables: tables, resolver: resolver, est: est}
}

func (e *DNS) Name() string          { return "dns" }
func (e *DNS) RequiresBrowser() bool { return false }

// ProduceTask draws 1 name, or a burst of 2-5 names 15% of the time.
func (e *DNS) ProduceTask(_ topics.Topic, _ persona.Persona, src *rng.Source) *Task {
	pool := builtinDNSNames
	if e.tables != nil {
		if extra := e.tables(); len(extra) > 0 {
			pool = append(append([]string{}, pool...), extra...)
		}
	}

	count := 1
	if src.Float64() < dnsBurstProbability {
		count = dnsBurstMin + src.Intn(dnsBurstMax-dnsBurstMin+1)
	}
	names := make([]string, 0, count)
	for len(names) < count {
		names = append(names, pool[src.Intn(len(pool))])
	}
	return &Task{
		Engine:        e.Name(),
		Kind:          KindDNS,
		Names:         names,
		ExpectedBytes: e.est.Estimate(e.Name()) * int64(count),
	}
}

// Resolve performs the lookups for a DNS task and returns the approximate
// wire bytes. Failures are counted but never abort the burst.
func (e *DNS) Resolve(ctx context.Context, task *Task) (bytes int64, failures int) {
	for _, name := range task.Names {
		lctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
		_, err := e.resolver.LookupHost(lctx, name)
		cancel()
		if err != nil {
			failures++
			continue
		}
		// Query plus answer is on the order of a few hundred bytes.
		bytes += int64(len(name)) + 200
	}
	return bytes, failures
}
