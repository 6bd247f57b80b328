// SPDX-License-Identifier: MIT

package datafiles

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poisson-noise/poisson/internal/log"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads the store when a YAML file in the data dir changes or a
// signal arrives on reloadCh. Editors produce bursts of write events, so
// reloads are debounced. Returns when ctx is canceled.
func (s *Store) Watch(ctx context.Context, reloadCh <-chan struct{}, onReload func(*Snapshot)) error {
	logger := log.WithComponent("datafiles")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		// A missing data dir is not fatal; builtins stay in effect and
		// SIGHUP reloads still work.
		logger.Warn().Err(err).Str("dir", s.dir).Msg("cannot watch data dir")
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(reloadDebounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(reloadDebounce)
	}

	reload := func(trigger string) {
		if err := s.Load(); err != nil {
			// Never crash a running daemon on a bad edit; the previous
			// snapshot stays in effect.
			logger.Error().Err(err).Str("trigger", trigger).Msg("reload failed, keeping previous tables")
			return
		}
		logger.Info().Str("event", "datafiles.reloaded").Str("trigger", trigger).Msg("data tables reloaded")
		if onReload != nil {
			onReload(s.Snapshot())
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if filepath.Ext(ev.Name) != ".yaml" {
				continue
			}
			arm()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")
		case <-timerC:
			reload("fsnotify")
		case _, ok := <-reloadCh:
			if !ok {
				reloadCh = nil
				continue
			}
			reload("sighup")
		}
	}
}
