// SPDX-License-Identifier: MIT

// Command daemon runs the Poisson decoy-traffic generator: an
// inhomogeneous-Poisson scheduler that fills a network link with plausible
// browsing noise, governed by a rolling bandwidth budget and steered over a
// small HTTP control plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poisson-noise/poisson/internal/activity"
	"github.com/poisson-noise/poisson/internal/api"
	"github.com/poisson-noise/poisson/internal/bandwidth"
	"github.com/poisson-noise/poisson/internal/config"
	"github.com/poisson-noise/poisson/internal/datafiles"
	"github.com/poisson-noise/poisson/internal/driver"
	"github.com/poisson-noise/poisson/internal/engine"
	"github.com/poisson-noise/poisson/internal/health"
	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/schedule"
	"github.com/poisson-noise/poisson/internal/scheduler"
	"github.com/poisson-noise/poisson/internal/session"
	"github.com/poisson-noise/poisson/internal/timing"
	"github.com/poisson-noise/poisson/internal/topics"
)

var version = "dev"

const (
	exitConfigError = 2
	exitDataError   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	optionsPath := flag.String("options", "/data/options.json", "path to the host platform's options.json")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	log.Configure(log.Config{Service: "poisson", Version: version})
	logger := log.WithComponent("daemon")

	cfg, err := config.Load(*optionsPath)
	if err != nil {
		logger.Error().Err(err).Msg("configuration invalid")
		return exitConfigError
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "poisson", Version: version})

	store := datafiles.NewStore(cfg.DataDir)
	if err := store.Load(); err != nil {
		var derr *datafiles.DataError
		if errors.As(err, &derr) {
			logger.Error().Err(err).Msg("data files unusable")
			return exitDataError
		}
		logger.Error().Err(err).Msg("data load failed")
		return exitDataError
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	streams := rng.NewStreams(seed)

	gov := bandwidth.New(int64(cfg.MaxBandwidthMBPerHour)<<20, bandwidth.DefaultWindow)
	if cfg.LedgerPath != "" {
		if err := gov.Load(cfg.LedgerPath); err != nil {
			logger.Warn().Err(err).Msg("could not restore bandwidth ledger")
		}
	}

	ring := activity.NewRing(500)
	snap := store.Snapshot()

	personas := persona.NewRegistry(snap.Personas, streams.For(rng.SubsystemPersonas))
	model := topics.NewModel(categoriesFrom(snap), cfg.ObsessionProbability, streams.For(rng.SubsystemTopics))

	kernel, err := timing.NewKernel(timing.StreamSessionStart, timing.Config{
		Intensity: cfg.Intensity,
	}, streams.For(rng.SubsystemTiming))
	if err != nil {
		logger.Error().Err(err).Msg("timing kernel rejected configuration")
		return exitConfigError
	}
	dnsKernel, err := timing.NewKernel(timing.StreamDNSTick, timing.Config{
		Intensity: cfg.Intensity,
		RateScale: scheduler.DNSRateScale,
	}, streams.Derive("dns_tick"))
	if err != nil {
		logger.Error().Err(err).Msg("timing kernel rejected configuration")
		return exitConfigError
	}

	gate := schedule.NewGate(cfg.ScheduleMode, cfg.CustomHours)

	dispatcher := engine.NewDispatcher(streams.For(rng.SubsystemDispatch))
	searchEng := engine.NewSearch(gov)
	browseEng := engine.NewBrowse(store.Snapshot, gov)
	dnsEng := engine.NewDNS(func() []string { return store.Snapshot().DNSNames }, nil, gov)
	researchEng := engine.NewResearch(store.Snapshot, gov)
	torEng := engine.NewTor(store.Snapshot, cfg.TorSOCKSAddr, gov)
	adclickEng := engine.NewAdClick(store.Snapshot, gov)

	dispatcher.Register(searchEng, cfg.EnableSearchNoise, 1.0, 120)
	dispatcher.Register(browseEng, cfg.EnableBrowseNoise, 1.0, 120)
	dispatcher.Register(dnsEng, cfg.EnableDNSNoise, 0.8, 600)
	dispatcher.Register(researchEng, cfg.EnableResearchNoise, 0.6, 30)
	dispatcher.Register(torEng, cfg.EnableTor, 0.3, 20)
	dispatcher.Register(adclickEng, cfg.EnableAdClicks, 0.2, 10)
	for _, name := range snap.DisabledEngines {
		_ = dispatcher.Toggle(name, false)
	}

	// Break the scheduler/session-manager cycle: the session OnComplete
	// closure resolves the scheduler at call time.
	var sched *scheduler.Scheduler
	sessions := session.NewManager(session.Config{
		MaxSessions: cfg.MaxConcurrentSessions,
		Factory:     &driver.HTTPFactory{SOCKSAddr: cfg.TorSOCKSAddr},
		Governor:    gov,
		Ring:        ring,
		Src:         streams.For(rng.SubsystemMarkov),
		Streams:     streams,
		OnComplete: func(task *engine.Task, outcome engine.Outcome, bytes int64) {
			sched.OnSessionComplete(task, outcome, bytes)
		},
	})

	sched = scheduler.New(scheduler.Deps{
		Kernel:     kernel,
		DNSKernel:  dnsKernel,
		Gate:       gate,
		Topics:     model,
		Personas:   personas,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		DNS:        dnsEng,
		Governor:   gov,
		Ring:       ring,
		Src:        streams.For(rng.SubsystemEngines),
	})

	checks := health.NewManager()
	checks.Register(health.Check{Name: "scheduler", Probe: func(context.Context) (health.Status, string) {
		if sched.Uptime() <= 0 {
			return health.StatusDegraded, "not started"
		}
		return health.StatusOK, ""
	}})
	checks.Register(health.Check{Name: "datadir", Probe: func(context.Context) (health.Status, string) {
		if _, err := os.Stat(cfg.DataDir); err != nil {
			return health.StatusDegraded, "data dir unavailable, builtin tables in effect"
		}
		return health.StatusOK, ""
	}})
	checks.Register(health.Check{Name: "tor", Probe: func(context.Context) (health.Status, string) {
		if !dispatcher.Enabled("tor") {
			return health.StatusOK, "disabled"
		}
		if st := torEng.Status(); st != engine.TorConnected {
			return health.StatusDegraded, st.String()
		}
		return health.StatusOK, ""
	}})

	var ext *api.ExtManager
	if cfg.ExtEnabled {
		ext = api.NewExtManager(model, store.Snapshot, streams.Derive("ext"))
	}

	server, err := api.NewServer(api.Deps{
		Config:     cfg,
		Kernel:     kernel,
		Gate:       gate,
		Scheduler:  sched,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Personas:   personas,
		Topics:     model,
		Ring:       ring,
		Governor:   gov,
		Tor:        torEng,
		Health:     checks,
		Ext:        ext,
		Version:    version,
	})
	if err != nil {
		logger.Error().Err(err).Msg("control plane init failed")
		return exitConfigError
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloadCh := make(chan struct{}, 1)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return sched.RunDNS(gctx) })
	g.Go(func() error {
		sessions.Audit(gctx)
		return nil
	})
	g.Go(func() error {
		return store.Watch(gctx, reloadCh, func(s *datafiles.Snapshot) {
			personas.ReplacePool(s.Personas)
			model.ReplaceCategories(categoriesFrom(s))
			for _, name := range s.DisabledEngines {
				_ = dispatcher.Toggle(name, false)
			}
		})
	})
	if cfg.EnableTor {
		g.Go(func() error {
			torEng.Probe(gctx)
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-hup:
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			}
		}
	})
	g.Go(func() error {
		logger.Info().
			Str("event", "daemon.started").
			Str("listen", cfg.Listen).
			Str("intensity", string(cfg.Intensity)).
			Msg("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	sessions.StopAll(cfg.ShutdownTimeout)
	if cfg.LedgerPath != "" {
		if serr := gov.Save(cfg.LedgerPath); serr != nil {
			logger.Warn().Err(serr).Msg("could not persist bandwidth ledger")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	logger.Info().Str("event", "daemon.stopped").Msg("clean shutdown")
	return 0
}

// categoriesFrom merges the built-in topic categories with wordlists from
// the data files; file terms replace the built-ins per category.
func categoriesFrom(snap *datafiles.Snapshot) []topics.Category {
	cats := topics.BuiltinCategories()
	for i := range cats {
		if terms, ok := snap.Terms[cats[i].Name]; ok && len(terms) > 0 {
			cats[i].Terms = terms
		}
	}
	for name, terms := range snap.Terms {
		if len(terms) == 0 {
			continue
		}
		known := false
		for _, c := range cats {
			if c.Name == name {
				known = true
				break
			}
		}
		if !known {
			cats = append(cats, topics.Category{Name: name, Weight: 0.5, Terms: terms})
		}
	}
	return cats
}
