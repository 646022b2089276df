package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"dns-router/pkg/config"
)

const apiKeyHeader = "X-API-Key"

var authBypassPaths = map[string]struct{}{
	"/healthz":    {},
	"/readyz":     {},
	"/api/health": {},
}

// applyAuthConfig installs credentials. Auth is only enforced when the API
// config carries an API key or a username.
func (s *Server) applyAuthConfig(cfg config.APIConfig) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	s.apiKey = strings.TrimSpace(cfg.APIKey)
	s.basicUser = strings.TrimSpace(cfg.Username)
	s.passwordHash = strings.TrimSpace(cfg.PasswordHash)
	s.authEnabled = s.apiKey != "" || s.basicUser != ""
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAuthRequired(r) || s.authorizeRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		if s.hasBasicCredentials() {
			w.Header().Set("WWW-Authenticate", `Basic realm="dns-router", charset="UTF-8"`)
		}
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

func (s *Server) isAuthRequired(r *http.Request) bool {
	s.authMu.RLock()
	enabled := s.authEnabled
	s.authMu.RUnlock()

	if !enabled {
		return false
	}
	_, bypass := authBypassPaths[r.URL.Path]
	return !bypass
}

func (s *Server) hasBasicCredentials() bool {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	return s.basicUser != "" && s.passwordHash != ""
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	s.authMu.RLock()
	apiKey := s.apiKey
	username := s.basicUser
	passwordHash := s.passwordHash
	s.authMu.RUnlock()

	if apiKey != "" {
		if token := extractAPIKey(r); token != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1 {
			return true
		}
	}

	if username != "" && passwordHash != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(pass)) == nil
	}

	return false
}

// extractAPIKey reads the key from X-API-Key, falling back to an
// "Authorization: Bearer" header.
func extractAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(apiKeyHeader)); v != "" {
		return v
	}

	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
