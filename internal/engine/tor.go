// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"

	"github.com/poisson-noise/poisson/internal/datafiles"
	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/metrics"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// TorStatus is the observed reachability of the SOCKS proxy.
type TorStatus int32

const (
	TorDisabled TorStatus = iota
	TorConnecting
	TorConnected
	TorOffline
)

func (s TorStatus) String() string {
	switch s {
	case TorDisabled:
		return "disabled"
	case TorConnecting:
		return "connecting"
	case TorConnected:
		return "connected"
	case TorOffline:
		return "offline"
	default:
		return "unknown"
	}
}

const (
	torProbeInterval = 30 * time.Second
	torProbeTimeout  = 10 * time.Second
)

// Checked against in probes; any TCP connect to the SOCKS port that
// completes a handshake counts as reachable.
var torProbeTarget = "check.torproject.org:443"

// Tor visits onion services through a local SOCKS proxy. The engine stands
// down (produces no tasks) while the proxy is unreachable.
type Tor struct {
	tables    func() *datafiles.Snapshot
	proxyAddr string
	est       Estimator
	status    atomic.Int32
	dial      func(ctx context.Context) error
}

// NewTor builds the tor engine probing proxyAddr (host:port of the SOCKS5
// listener, typically 127.0.0.1:9050).
func NewTor(tables func() *datafiles.Snapshot, proxyAddr string, est Estimator) *Tor {
	t := &Tor{tables: tables, proxyAddr: proxyAddr, est: estimatorOr(est)}
	t.dial = t.probeOnce
	t.setStatus(TorConnecting)
	return t
}

func (e *Tor) Name() string          { return "tor" }
func (e *Tor) RequiresBrowser() bool { return true }

// Status returns the last probed proxy state.
func (e *Tor) Status() TorStatus {
	return TorStatus(e.status.Load())
}

// ProxyAddr returns the configured SOCKS address.
func (e *Tor) ProxyAddr() string { return e.proxyAddr }

func (e *Tor) setStatus(s TorStatus) {
	old := TorStatus(e.status.Swap(int32(s)))
	metrics.TorStatus.Set(float64(s))
	if old != s {
		logger := log.WithComponent("engine.tor")
		logger.Info().
			Str("event", "tor.status").
			Str("from", old.String()).
			Str("to", s.String()).
			Msg("tor proxy status changed")
	}
}

// Probe re-checks proxy reachability every 30 seconds until ctx is
// canceled. Run it in its own goroutine while the engine is enabled.
func (e *Tor) Probe(ctx context.Context) {
	ticker := time.NewTicker(torProbeInterval)
	defer ticker.Stop()

	check := func() {
		if err := e.dial(ctx); err != nil {
			e.setStatus(TorOffline)
			return
		}
		e.setStatus(TorConnected)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			e.setStatus(TorDisabled)
			return
		case <-ticker.C:
			check()
		}
	}
}

func (e *Tor) probeOnce(ctx context.Context) error {
	dialer, err := proxy.SOCKS5("tcp", e.proxyAddr, nil, &net.Dialer{Timeout: torProbeTimeout})
	if err != nil {
		return err
	}
	dctx, cancel := context.WithTimeout(ctx, torProbeTimeout)
	defer cancel()

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		conn, derr := dialer.Dial("tcp", torProbeTarget)
		if derr != nil {
			return derr
		}
		return conn.Close()
	}
	conn, err := cd.DialContext(dctx, "tcp", torProbeTarget)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ProduceTask draws an onion site while the proxy is connected; otherwise
// the scheduler falls back to another engine.
func (e *Tor) ProduceTask(_ topics.Topic, _ persona.Persona, src *rng.Source) *Task {
	if e.Status() != TorConnected {
		return nil
	}
	snap := e.tables()
	if snap == nil || len(snap.OnionSites) == 0 {
		return nil
	}
	return &Task{
		Engine:        e.Name(),
		Kind:          KindPage,
		URL:           pickWeightedURL(snap.OnionSites, src),
		ExpectedBytes: e.est.Estimate(e.Name()),
		ViaSOCKS:      true,
		FollowLinks:   src.Intn(3),
	}
}
