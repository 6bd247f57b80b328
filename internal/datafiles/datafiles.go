// SPDX-License-Identifier: MIT

// Package datafiles loads the read-only YAML inputs (site lists, personas,
// wordlists, onion directories) and serves them as immutable snapshots.
// Reload is snapshot-swap: a new table is built aside and the pointer is
// replaced atomically; in-flight sessions keep the snapshot they started
// under.
package datafiles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/persona"
)

// WeightedURL is one site entry in a category list.
type WeightedURL struct {
	URL    string  `yaml:"url"`
	Weight float64 `yaml:"weight"`
}

// Snapshot is one immutable view of all data tables.
type Snapshot struct {
	Sites      map[string][]WeightedURL
	Personas   []persona.Persona
	Terms      map[string][]string
	OnionSites []WeightedURL
	UserAgents []string

	// DNSNames extends the dns engine's built-in hostname pool.
	DNSNames []string

	// DisabledEngines lists engines whose required categories were
	// missing from the data files.
	DisabledEngines []string
}

// DataError marks a data-file failure that affects default-enabled engines;
// the daemon exits with code 3 on it.
type DataError struct {
	File string
	Err  error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data file %s: %v", e.File, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// Store owns the current snapshot.
type Store struct {
	dir  string
	snap atomic.Pointer[Snapshot]
}

// NewStore creates a store reading from dir. Call Load before Snapshot.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Snapshot returns the current table view, never nil after a successful Load.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Load parses all data files into a fresh snapshot and swaps it in.
// Missing files fall back to built-in tables with a warning; a malformed
// file backing a default-enabled engine returns a DataError.
func (s *Store) Load() error {
	logger := log.WithComponent("datafiles")
	snap := &Snapshot{
		Sites: make(map[string][]WeightedURL),
		Terms: make(map[string][]string),
	}

	var sitesFile struct {
		Categories map[string][]WeightedURL `yaml:"categories"`
	}
	switch err := s.readYAML("sites.yaml", &sitesFile); {
	case err == nil:
		snap.Sites = sitesFile.Categories
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn().Str("file", "sites.yaml").Msg("data file missing, using built-in site tables")
		snap.Sites = builtinSites()
	default:
		return &DataError{File: "sites.yaml", Err: err}
	}

	var personasFile struct {
		Personas []personaEntry `yaml:"personas"`
	}
	switch err := s.readYAML("personas.yaml", &personasFile); {
	case err == nil:
		for _, p := range personasFile.Personas {
			snap.Personas = append(snap.Personas, p.toPersona())
		}
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn().Str("file", "personas.yaml").Msg("data file missing, using built-in personas")
		snap.Personas = persona.BuiltinPersonas()
	default:
		return &DataError{File: "personas.yaml", Err: err}
	}

	// Wordlists merge across the three term files.
	for _, name := range []string{"search_terms.yaml", "academic_terms.yaml", "shopping_terms.yaml"} {
		var terms map[string][]string
		switch err := s.readYAML(name, &terms); {
		case err == nil:
			for cat, list := range terms {
				snap.Terms[cat] = append(snap.Terms[cat], list...)
			}
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug().Str("file", name).Msg("wordlist missing, skipping")
		case name == "search_terms.yaml":
			// Search is a default-enabled engine; a corrupt wordlist is fatal.
			return &DataError{File: name, Err: err}
		default:
			logger.Warn().Err(err).Str("file", name).Msg("ignoring malformed wordlist")
		}
	}

	var onionFile struct {
		Sites []WeightedURL `yaml:"sites"`
	}
	switch err := s.readYAML("onion_sites.yaml", &onionFile); {
	case err == nil:
		snap.OnionSites = onionFile.Sites
	case errors.Is(err, fs.ErrNotExist):
		snap.OnionSites = builtinOnionSites()
	default:
		// Opt-in engine: disable instead of failing.
		logger.Warn().Err(err).Str("file", "onion_sites.yaml").Msg("malformed onion directory, disabling tor engine")
		snap.DisabledEngines = append(snap.DisabledEngines, "tor")
	}

	var dnsFile struct {
		Hostnames []string `yaml:"hostnames"`
	}
	switch err := s.readYAML("dns_hostnames.yaml", &dnsFile); {
	case err == nil:
		snap.DNSNames = dnsFile.Hostnames
	case errors.Is(err, fs.ErrNotExist):
		// The dns engine carries its own builtin pool; this file only
		// extends it.
	default:
		logger.Warn().Err(err).Str("file", "dns_hostnames.yaml").Msg("ignoring malformed dns hostname list")
	}

	var uaFile struct {
		UserAgents []string `yaml:"user_agents"`
	}
	switch err := s.readYAML("user_agents.yaml", &uaFile); {
	case err == nil:
		snap.UserAgents = uaFile.UserAgents
	case errors.Is(err, fs.ErrNotExist):
		// Personas carry their own user agents; this file is optional.
	default:
		logger.Warn().Err(err).Str("file", "user_agents.yaml").Msg("ignoring malformed user agent list")
	}

	if len(snap.Sites) == 0 {
		snap.Sites = builtinSites()
	}

	s.snap.Store(snap)
	logger.Info().
		Str("event", "datafiles.loaded").
		Int("site_categories", len(snap.Sites)).
		Int("personas", len(snap.Personas)).
		Int("term_categories", len(snap.Terms)).
		Msg("data tables loaded")
	return nil
}

func (s *Store) readYAML(name string, out any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path) // #nosec G304 -- operator-controlled data dir
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// personaEntry matches the personas.yaml schema, which nests the viewport.
type personaEntry struct {
	Name      string   `yaml:"name"`
	UserAgent string   `yaml:"user_agent"`
	Viewport  struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"viewport"`
	Platform  string   `yaml:"platform"`
	Languages []string `yaml:"languages"`
	Timezone  string   `yaml:"timezone"`
	Weight    float64  `yaml:"weight"`
	Mobile    bool     `yaml:"mobile"`
}

func (p personaEntry) toPersona() persona.Persona {
	out := persona.Persona{
		Name:           p.Name,
		UserAgent:      p.UserAgent,
		ViewportWidth:  p.Viewport.Width,
		ViewportHeight: p.Viewport.Height,
		Platform:       p.Platform,
		Languages:      p.Languages,
		Timezone:       p.Timezone,
		Weight:         p.Weight,
		Mobile:         p.Mobile,
	}
	if out.ViewportWidth == 0 {
		out.ViewportWidth, out.ViewportHeight = 1920, 1080
	}
	if out.Platform == "" {
		out.Platform = persona.PlatformFromUserAgent(out.UserAgent)
	}
	if len(out.Languages) == 0 {
		out.Languages = []string{"en-US", "en"}
	}
	return out
}
