// SPDX-License-Identifier: MIT

// Package api serves the control plane. All operational endpoints live
// under /papi/ (a prefix the host platform's service worker does not
// intercept) behind an opaque API key; the health probe is public.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poisson-noise/poisson/internal/activity"
	"github.com/poisson-noise/poisson/internal/bandwidth"
	"github.com/poisson-noise/poisson/internal/config"
	"github.com/poisson-noise/poisson/internal/engine"
	"github.com/poisson-noise/poisson/internal/health"
	"github.com/poisson-noise/poisson/internal/log"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/schedule"
	"github.com/poisson-noise/poisson/internal/scheduler"
	"github.com/poisson-noise/poisson/internal/session"
	"github.com/poisson-noise/poisson/internal/timing"
	"github.com/poisson-noise/poisson/internal/topics"
)

// Deps collects everything the handlers read or poke.
type Deps struct {
	Config     config.AppConfig
	Kernel     *timing.Kernel
	Gate       *schedule.Gate
	Scheduler  *scheduler.Scheduler
	Dispatcher *engine.Dispatcher
	Sessions   *session.Manager
	Personas   *persona.Registry
	Topics     *topics.Model
	Ring       *activity.Ring
	Governor   *bandwidth.Governor
	Tor        *engine.Tor
	Health     *health.Manager
	Ext        *ExtManager
	Version    string
}

// Server is the control-plane HTTP surface.
type Server struct {
	deps   Deps
	apiKey string
	router chi.Router
}

// NewServer mints the API key and builds the router.
func NewServer(deps Deps) (*Server, error) {
	key, err := mintKey()
	if err != nil {
		return nil, err
	}
	s := &Server{deps: deps, apiKey: key}
	s.router = s.buildRouter()
	logger := log.WithComponent("api")
	logger.Info().
		Str("event", "api.key_minted").
		Msg("control-plane api key minted")
	return s, nil
}

// APIKey returns the key minted at startup, for injection into the
// dashboard.
func (s *Server) APIKey() string { return s.apiKey }

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/papi", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))

		// Extension endpoints: register is key-authed, the rest take the
		// bearer token it mints.
		r.Group(func(r chi.Router) {
			r.Use(s.requireKey)
			r.Post("/ext/register", s.handleExtRegister)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireExtToken)
			r.Post("/ext/heartbeat", s.handleExtHeartbeat)
			r.Post("/ext/fingerprint", s.handleExtFingerprint)
			r.Get("/ext/next-task", s.handleExtNextTask)
			r.Get("/ext/status", s.handleExtStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireKey)
			r.Get("/status", s.handleStatus)
			r.Get("/stats", s.handleStats)
			r.Get("/activity", s.handleActivity)
			r.Get("/activity/chart", s.handleActivityChart)
			r.Get("/engines", s.handleEngines)
			r.Post("/engines/{name}/toggle", s.handleEngineToggle)
			r.Post("/intensity", s.handleIntensity)
			r.Post("/fingerprint", s.handleFingerprint)
			r.Get("/config", s.handleConfig)
			r.Post("/obsession/clear", s.handleObsessionClear)
			r.Post("/presence", s.handlePresence)
			r.Post("/schedule", s.handleSchedule)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.deps.Health.Run(r.Context())
	status := http.StatusOK
	if rep.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	torStatus := "disabled"
	if s.deps.Tor != nil && s.deps.Dispatcher.Enabled("tor") {
		torStatus = s.deps.Tor.Status().String()
	}
	var obsession *topics.Obsession
	if s.deps.Topics != nil {
		obsession = s.deps.Topics.Current()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "running",
		"version":             s.deps.Version,
		"uptime_seconds":      int64(s.deps.Scheduler.Uptime().Seconds()),
		"current_persona":     s.deps.Personas.Current(),
		"intensity":           string(s.deps.Kernel.Intensity()),
		"fingerprint_matched": s.deps.Personas.Matched(),
		"tor_status":          torStatus,
		"schedule_mode":       string(s.deps.Gate.Mode()),
		"obsession":           obsession,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	daily := s.deps.Scheduler.Daily()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions_today":     daily.Sessions,
		"requests_today":     daily.Requests,
		"errors_today":       daily.Errors,
		"bandwidth_today_mb": float64(daily.Bytes) / (1024 * 1024),
		"bandwidth_used_mb":  float64(s.deps.Governor.Used()) / (1024 * 1024),
		"active_sessions":    s.deps.Sessions.ActiveCount(),
		"next_session_in":    s.deps.Scheduler.NextIn().Round(time.Second).Seconds(),
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	count := 50
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.deps.Ring.Tail(count)})
}

func (s *Server) handleActivityChart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"buckets": s.deps.Ring.Chart()})
}

func (s *Server) handleEngines(w http.ResponseWriter, _ *http.Request) {
	stats := s.deps.Dispatcher.Stats()
	out := make(map[string]any)
	for name, enabled := range s.deps.Dispatcher.Roster() {
		out[name] = map[string]any{
			"enabled": enabled,
			"stats":   stats[name],
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEngineToggle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	// Absent body flips the current state.
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	target := !s.deps.Dispatcher.Enabled(name)
	if body.Enabled != nil {
		target = *body.Enabled
	}

	if err := s.deps.Dispatcher.Toggle(name, target); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engine": name, "enabled": target})
}

func (s *Server) handleIntensity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Intensity string `json:"intensity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	level, err := timing.ParseIntensity(body.Intensity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.deps.Kernel.SetIntensity(level)
	writeJSON(w, http.StatusOK, map[string]any{"intensity": string(level)})
}

// handleFingerprint captures the operator's real browser traits: headers
// from the request itself plus the screen metrics posted by the dashboard.
func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScreenWidth  int `json:"screen_width"`
		ScreenHeight int `json:"screen_height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	if !s.deps.Config.MatchFingerprint {
		writeJSON(w, http.StatusOK, map[string]any{"matched": false})
		return
	}

	if !s.deps.Personas.Matched() {
		ua := r.Header.Get("User-Agent")
		p := persona.Persona{
			UserAgent:      ua,
			Platform:       persona.PlatformFromUserAgent(ua),
			Languages:      parseAcceptLanguage(r.Header.Get("Accept-Language")),
			ViewportWidth:  body.ScreenWidth,
			ViewportHeight: body.ScreenHeight,
		}
		s.deps.Personas.SetMatched(p)
	} else {
		s.deps.Personas.UpdateMatchedViewport(body.ScreenWidth, body.ScreenHeight)
	}
	writeJSON(w, http.StatusOK, map[string]any{"matched": true})
}

// parseAcceptLanguage keeps the language tags in header order, dropping
// quality weights.
func parseAcceptLanguage(header string) []string {
	if header == "" {
		return []string{"en-US", "en"}
	}
	var out []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag != "" && tag != "*" {
			out = append(out, tag)
		}
		if len(out) == 4 {
			break
		}
	}
	if len(out) == 0 {
		return []string{"en-US", "en"}
	}
	return out
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Sanitized())
}

func (s *Server) handleObsessionClear(w http.ResponseWriter, _ *http.Request) {
	s.deps.Topics.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"obsession": nil})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Present *bool `json:"present"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Present == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"present\": bool}")
		return
	}
	s.deps.Gate.SetPresence(*body.Present)
	writeJSON(w, http.StatusOK, map[string]any{"present": *body.Present})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode        string `json:"mode"`
		CustomHours []int  `json:"custom_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	mode, err := schedule.ParseMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.deps.Gate.SetMode(mode, body.CustomHours)
	writeJSON(w, http.StatusOK, map[string]any{"mode": string(mode)})
}

func (s *Server) handleExtRegister(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Ext == nil {
		writeError(w, http.StatusNotFound, "extension support disabled")
		return
	}
	token, err := s.deps.Ext.Register()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot mint token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleExtHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Counters map[string]int `json:"counters"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.deps.Ext.Heartbeat(body.Counters)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExtFingerprint(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	s.deps.Ext.SetFingerprint(body)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExtNextTask(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ext.NextTask())
}

func (s *Server) handleExtStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ext.Status())
}
