// SPDX-License-Identifier: MIT

package bandwidth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/poisson-noise/poisson/internal/log"
)

// ledgerSnapshot is the on-disk form of the rolling ledger. Persisting it
// means a restart does not reset the hourly budget.
type ledgerSnapshot struct {
	SavedAt time.Time          `json:"saved_at"`
	Window  time.Duration      `json:"window"`
	Samples []ledgerSample     `json:"samples"`
	EWMA    map[string]float64 `json:"ewma,omitempty"`
}

type ledgerSample struct {
	At    time.Time `json:"at"`
	Bytes int64     `json:"bytes"`
}

// Save writes the ledger atomically to path.
func (g *Governor) Save(path string) error {
	g.mu.Lock()
	snap := ledgerSnapshot{
		SavedAt: g.now(),
		Window:  g.window,
		Samples: make([]ledgerSample, 0, len(g.samples)),
		EWMA:    make(map[string]float64, len(g.ewma)),
	}
	for _, s := range g.samples {
		snap.Samples = append(snap.Samples, ledgerSample{At: s.at, Bytes: s.bytes})
	}
	for k, v := range g.ewma {
		snap.EWMA[k] = v
	}
	g.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o600)
}

// Load restores a previously saved ledger. A missing file is not an error;
// a corrupt file is logged and ignored so a bad snapshot can never block
// startup.
func (g *Governor) Load(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-controlled data dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var snap ledgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger := log.WithComponent("bandwidth")
		logger.Warn().
			Err(err).
			Str("path", path).
			Msg("discarding corrupt ledger snapshot")
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = g.samples[:0]
	g.total = 0
	for _, s := range snap.Samples {
		g.samples = append(g.samples, sample{at: s.At, bytes: s.Bytes})
		g.total += s.Bytes
	}
	for k, v := range snap.EWMA {
		g.ewma[k] = v
	}
	g.compact(g.now())
	return nil
}
