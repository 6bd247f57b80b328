// SPDX-License-Identifier: MIT

package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// mintKey generates the opaque control-plane API key at process start.
func mintKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// requireKey guards the control plane. The key is read from X-Api-Key or,
// for convenience in the dashboard, the api_key query parameter.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireExtToken guards the extension endpoints with the bearer token
// minted at registration.
func (s *Server) requireExtToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || s.deps.Ext == nil || !s.deps.Ext.Authorize(token) {
			writeError(w, http.StatusUnauthorized, "invalid extension token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
