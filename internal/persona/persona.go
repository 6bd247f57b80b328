// SPDX-License-Identifier: MIT

// Package persona manages the pool of browser personas and keeps the
// outbound fingerprint mix coherent with the operator's real browser.
package persona

import (
	"strings"
)

// Persona is an immutable bundle of browser-identifying attributes.
type Persona struct {
	Name           string   `yaml:"name" json:"name"`
	UserAgent      string   `yaml:"user_agent" json:"user_agent"`
	ViewportWidth  int      `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int      `yaml:"viewport_height" json:"viewport_height"`
	Platform       string   `yaml:"platform" json:"platform"`
	Languages      []string `yaml:"languages" json:"languages"`
	Timezone       string   `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	AcceptEncoding string   `yaml:"accept_encoding,omitempty" json:"accept_encoding,omitempty"`
	Weight         float64  `yaml:"weight,omitempty" json:"weight,omitempty"`
	Mobile         bool     `yaml:"mobile,omitempty" json:"mobile,omitempty"`

	Fingerprint *FingerprintBundle `yaml:"-" json:"-"`
}

// FingerprintBundle carries deep fingerprint signals reported by the
// dashboard or extension.
type FingerprintBundle struct {
	CanvasHash    string   `json:"canvas_hash,omitempty"`
	WebGLVendor   string   `json:"webgl_vendor,omitempty"`
	WebGLRenderer string   `json:"webgl_renderer,omitempty"`
	Fonts         []string `json:"fonts,omitempty"`
	ScreenWidth   int      `json:"screen_width,omitempty"`
	ScreenHeight  int      `json:"screen_height,omitempty"`
}

// PlatformFromUserAgent infers the navigator platform string from a UA.
func PlatformFromUserAgent(ua string) string {
	// Mobile checks come first: iPhone UAs also claim "like Mac OS X".
	switch {
	case strings.Contains(ua, "iPhone"):
		return "iPhone"
	case strings.Contains(ua, "iPad"):
		return "iPad"
	case strings.Contains(ua, "Android"):
		return "Linux armv8l"
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS"):
		return "MacIntel"
	case strings.Contains(ua, "Linux"), strings.Contains(ua, "X11"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}

// builtinPersonas keeps the registry functional when personas.yaml is absent.
var builtinPersonas = []Persona{
	{
		Name:           "chrome_windows",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		ViewportWidth:  1920, ViewportHeight: 1080,
		Platform: "Win32", Languages: []string{"en-US", "en"}, Weight: 1.0,
	},
	{
		Name:           "firefox_mac",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
		ViewportWidth:  1440, ViewportHeight: 900,
		Platform: "MacIntel", Languages: []string{"en-US", "en"}, Weight: 0.7,
	},
	{
		Name:           "chrome_linux",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		ViewportWidth:  1366, ViewportHeight: 768,
		Platform: "Linux x86_64", Languages: []string{"en-US", "en", "de"}, Weight: 0.5,
	},
	{
		Name:           "safari_mac",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		ViewportWidth:  1512, ViewportHeight: 982,
		Platform: "MacIntel", Languages: []string{"en-US", "en"}, Weight: 0.6,
	},
	{
		Name:           "edge_windows",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
		ViewportWidth:  1536, ViewportHeight: 864,
		Platform: "Win32", Languages: []string{"en-US", "en"}, Weight: 0.6,
	},
	{
		Name:           "chrome_android",
		UserAgent:      "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
		ViewportWidth:  412, ViewportHeight: 915,
		Platform: "Linux armv8l", Languages: []string{"en-US", "en"}, Weight: 0.8, Mobile: true,
	},
	{
		Name:           "safari_iphone",
		UserAgent:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		ViewportWidth:  390, ViewportHeight: 844,
		Platform: "iPhone", Languages: []string{"en-US", "en"}, Weight: 0.8, Mobile: true,
	},
}

// BuiltinPersonas returns a copy of the built-in fallback pool.
func BuiltinPersonas() []Persona {
	out := make([]Persona, len(builtinPersonas))
	copy(out, builtinPersonas)
	return out
}
