// SPDX-License-Identifier: MIT

// Package config loads daemon configuration in priority order: the host
// platform's options.json blob, then POISSON_* environment variables, then
// compiled defaults. Validation failures carry the offending key; the daemon
// exits with code 2 on them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/schedule"
	"github.com/poisson-noise/poisson/internal/timing"
)

// AppConfig is the resolved daemon configuration.
type AppConfig struct {
	Intensity           timing.Intensity
	EnableSearchNoise   bool
	EnableBrowseNoise   bool
	EnableDNSNoise      bool
	EnableAdClicks      bool
	EnableTor           bool
	EnableResearchNoise bool

	MaxBandwidthMBPerHour int
	MaxConcurrentSessions int
	MatchFingerprint      bool

	ScheduleMode schedule.Mode
	CustomHours  []int

	ObsessionProbability float64

	// Listen is the control-plane bind address.
	Listen string
	// DataDir holds the YAML data files.
	DataDir string
	// LedgerPath is where the bandwidth ledger snapshot is persisted.
	LedgerPath string
	// TorSOCKSAddr is the local SOCKS5 listener probed by the tor engine.
	TorSOCKSAddr string
	// ExtEnabled turns the extension collaborator endpoints on.
	ExtEnabled bool
	// Seed fixes the RNG substreams; 0 means derive from the clock.
	Seed int64

	LogLevel        string
	ShutdownTimeout time.Duration
}

// KeyError is a validation failure pointing at the offending key.
type KeyError struct {
	Key    string
	Value  string
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("config key %q: %s (got %q)", e.Key, e.Reason, e.Value)
}

// Defaults returns the compiled defaults. Opt-in engines (tor, research,
// adclick) start disabled.
func Defaults() AppConfig {
	return AppConfig{
		Intensity:             timing.IntensityMedium,
		EnableSearchNoise:     true,
		EnableBrowseNoise:     true,
		EnableDNSNoise:        true,
		EnableAdClicks:        false,
		EnableTor:             false,
		EnableResearchNoise:   false,
		MaxBandwidthMBPerHour: 50,
		MaxConcurrentSessions: 2,
		MatchFingerprint:      true,
		ScheduleMode:          schedule.ModeAlways,
		ObsessionProbability:  0.02,
		Listen:                ":8099",
		DataDir:               "/data/poisson",
		LedgerPath:            "/data/poisson/ledger.json",
		TorSOCKSAddr:          "127.0.0.1:9050",
		LogLevel:              "info",
		ShutdownTimeout:       10 * time.Second,
	}
}

// optionsBlob matches options.json. Some host platforms wrap the payload in
// {"result": "ok", "data": {...}}; both shapes are accepted.
type optionsBlob struct {
	Intensity             *string  `json:"intensity"`
	EnableSearchNoise     *bool    `json:"enable_search_noise"`
	EnableBrowseNoise     *bool    `json:"enable_browse_noise"`
	EnableDNSNoise        *bool    `json:"enable_dns_noise"`
	EnableAdClicks        *bool    `json:"enable_ad_clicks"`
	EnableTor             *bool    `json:"enable_tor"`
	EnableResearchNoise   *bool    `json:"enable_research_noise"`
	MaxBandwidthMBPerHour *int     `json:"max_bandwidth_mb_per_hour"`
	MaxConcurrentSessions *int     `json:"max_concurrent_sessions"`
	MatchFingerprint      *bool    `json:"match_browser_fingerprint"`
	ScheduleMode          *string  `json:"schedule_mode"`
	CustomHours           []int    `json:"custom_hours"`
	ObsessionProbability  *float64 `json:"obsession_probability"`
}

type wrappedOptions struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
}

// Load resolves configuration. optionsPath may be empty or missing; env
// overrides the blob, defaults fill the rest.
func Load(optionsPath string) (AppConfig, error) {
	cfg := Defaults()

	if optionsPath != "" {
		if err := applyOptionsFile(&cfg, optionsPath); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyOptionsFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger := log.WithComponent("config")
			logger.Debug().Str("path", path).Msg("no options file, using env and defaults")
			return nil
		}
		return &KeyError{Key: "options_path", Value: path, Reason: err.Error()}
	}

	// Unwrap {"result","data"} if present.
	var wrapped wrappedOptions
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 {
		raw = wrapped.Data
	}

	var blob optionsBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return &KeyError{Key: "options_path", Value: path, Reason: "malformed options.json: " + err.Error()}
	}

	if blob.Intensity != nil {
		in, err := timing.ParseIntensity(*blob.Intensity)
		if err != nil {
			return &KeyError{Key: "intensity", Value: *blob.Intensity, Reason: err.Error()}
		}
		cfg.Intensity = in
	}
	setBool(&cfg.EnableSearchNoise, blob.EnableSearchNoise)
	setBool(&cfg.EnableBrowseNoise, blob.EnableBrowseNoise)
	setBool(&cfg.EnableDNSNoise, blob.EnableDNSNoise)
	setBool(&cfg.EnableAdClicks, blob.EnableAdClicks)
	setBool(&cfg.EnableTor, blob.EnableTor)
	setBool(&cfg.EnableResearchNoise, blob.EnableResearchNoise)
	setBool(&cfg.MatchFingerprint, blob.MatchFingerprint)
	if blob.MaxBandwidthMBPerHour != nil {
		cfg.MaxBandwidthMBPerHour = *blob.MaxBandwidthMBPerHour
	}
	if blob.MaxConcurrentSessions != nil {
		cfg.MaxConcurrentSessions = *blob.MaxConcurrentSessions
	}
	if blob.ScheduleMode != nil {
		mode, err := schedule.ParseMode(*blob.ScheduleMode)
		if err != nil {
			return &KeyError{Key: "schedule_mode", Value: *blob.ScheduleMode, Reason: err.Error()}
		}
		cfg.ScheduleMode = mode
	}
	if blob.CustomHours != nil {
		cfg.CustomHours = blob.CustomHours
	}
	if blob.ObsessionProbability != nil {
		cfg.ObsessionProbability = *blob.ObsessionProbability
	}
	return nil
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyEnv(cfg *AppConfig) error {
	if v, ok := os.LookupEnv("POISSON_INTENSITY"); ok {
		in, err := timing.ParseIntensity(v)
		if err != nil {
			return &KeyError{Key: "POISSON_INTENSITY", Value: v, Reason: err.Error()}
		}
		cfg.Intensity = in
	}

	var err error
	if cfg.EnableSearchNoise, err = ParseBool("POISSON_ENABLE_SEARCH_NOISE", cfg.EnableSearchNoise); err != nil {
		return err
	}
	if cfg.EnableBrowseNoise, err = ParseBool("POISSON_ENABLE_BROWSE_NOISE", cfg.EnableBrowseNoise); err != nil {
		return err
	}
	if cfg.EnableDNSNoise, err = ParseBool("POISSON_ENABLE_DNS_NOISE", cfg.EnableDNSNoise); err != nil {
		return err
	}
	if cfg.EnableAdClicks, err = ParseBool("POISSON_ENABLE_AD_CLICKS", cfg.EnableAdClicks); err != nil {
		return err
	}
	if cfg.EnableTor, err = ParseBool("POISSON_ENABLE_TOR", cfg.EnableTor); err != nil {
		return err
	}
	if cfg.EnableResearchNoise, err = ParseBool("POISSON_ENABLE_RESEARCH_NOISE", cfg.EnableResearchNoise); err != nil {
		return err
	}
	if cfg.MatchFingerprint, err = ParseBool("POISSON_MATCH_BROWSER_FINGERPRINT", cfg.MatchFingerprint); err != nil {
		return err
	}
	if cfg.ExtEnabled, err = ParseBool("POISSON_EXT_ENABLED", cfg.ExtEnabled); err != nil {
		return err
	}
	if cfg.MaxBandwidthMBPerHour, err = ParseInt("POISSON_MAX_BANDWIDTH_MB_PER_HOUR", cfg.MaxBandwidthMBPerHour); err != nil {
		return err
	}
	if cfg.MaxConcurrentSessions, err = ParseInt("POISSON_MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("POISSON_SCHEDULE_MODE"); ok {
		mode, merr := schedule.ParseMode(v)
		if merr != nil {
			return &KeyError{Key: "POISSON_SCHEDULE_MODE", Value: v, Reason: merr.Error()}
		}
		cfg.ScheduleMode = mode
	}

	cfg.Listen = ParseString("POISSON_LISTEN", cfg.Listen)
	cfg.DataDir = ParseString("POISSON_DATA_DIR", cfg.DataDir)
	cfg.LedgerPath = ParseString("POISSON_LEDGER_PATH", cfg.LedgerPath)
	cfg.TorSOCKSAddr = ParseString("POISSON_TOR_SOCKS_ADDR", cfg.TorSOCKSAddr)
	cfg.LogLevel = ParseString("POISSON_LOG_LEVEL", cfg.LogLevel)
	if cfg.Seed, err = ParseInt64("POISSON_SEED", cfg.Seed); err != nil {
		return err
	}
	if cfg.ShutdownTimeout, err = ParseDuration("POISSON_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.MaxBandwidthMBPerHour < 1 {
		return &KeyError{
			Key:    "max_bandwidth_mb_per_hour",
			Value:  fmt.Sprintf("%d", c.MaxBandwidthMBPerHour),
			Reason: "must be >= 1",
		}
	}
	if c.MaxConcurrentSessions < 1 || c.MaxConcurrentSessions > 5 {
		return &KeyError{
			Key:    "max_concurrent_sessions",
			Value:  fmt.Sprintf("%d", c.MaxConcurrentSessions),
			Reason: "must be in 1..5",
		}
	}
	if c.ObsessionProbability < 0 || c.ObsessionProbability > 1 {
		return &KeyError{
			Key:    "obsession_probability",
			Value:  fmt.Sprintf("%g", c.ObsessionProbability),
			Reason: "must be in [0,1]",
		}
	}
	for _, h := range c.CustomHours {
		if h < 0 || h > 23 {
			return &KeyError{
				Key:    "custom_hours",
				Value:  fmt.Sprintf("%d", h),
				Reason: "hours must be in 0..23",
			}
		}
	}
	return nil
}

// Sanitized returns the config as a map safe to expose on the control
// plane: paths and secrets stripped, everything else verbatim.
func (c *AppConfig) Sanitized() map[string]any {
	return map[string]any{
		"intensity":                 string(c.Intensity),
		"enable_search_noise":       c.EnableSearchNoise,
		"enable_browse_noise":       c.EnableBrowseNoise,
		"enable_dns_noise":          c.EnableDNSNoise,
		"enable_ad_clicks":          c.EnableAdClicks,
		"enable_tor":                c.EnableTor,
		"enable_research_noise":     c.EnableResearchNoise,
		"max_bandwidth_mb_per_hour": c.MaxBandwidthMBPerHour,
		"max_concurrent_sessions":   c.MaxConcurrentSessions,
		"match_browser_fingerprint": c.MatchFingerprint,
		"schedule_mode":             string(c.ScheduleMode),
		"obsession_probability":     c.ObsessionProbability,
	}
}
