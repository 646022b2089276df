package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dns-router/pkg/storage"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  statusOK,
		Uptime:  s.getUptime(),
		Version: s.version,
	})
}

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleReadyz handles GET /readyz. The router is ready once it has a route
// table and the event log answers a ping.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if s.routes == nil {
		checks["routes"] = "not configured"
		ready = false
	} else {
		checks["routes"] = statusOK
	}

	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.storage.Ping(ctx); err != nil {
			checks["storage"] = err.Error()
			ready = false
		} else {
			checks["storage"] = statusOK
		}
	}

	status, code := statusReady, http.StatusOK
	if !ready {
		status, code = statusNotReady, http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, ReadinessResponse{Status: status, Checks: checks})
}

// handleRoutes handles GET /api/routes
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if s.routes == nil {
		s.writeJSON(w, http.StatusOK, RoutesResponse{Routes: []RouteResponse{}})
		return
	}
	s.writeJSON(w, http.StatusOK, convertRoutes(s.routes.Routes()))
}

// handleRoutesReload handles POST /api/routes/reload
func (s *Server) handleRoutesReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		s.writeError(w, http.StatusNotImplemented, "route reload is not available")
		return
	}

	n, err := s.reload(r.Context())
	if err != nil {
		s.logger.Error("Route reload failed", "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.logger.Info("Routes reloaded via API", "routes", n)
	s.writeJSON(w, http.StatusOK, ReloadResponse{Status: statusOK, Routes: n})
}

// handleEvents handles GET /api/events?limit=&offset=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Event log not available")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		offset = n
	}

	events, err := s.storage.RecentEvents(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to get recent events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	s.writeJSON(w, http.StatusOK, EventsResponse{
		Events: convertEvents(events),
		Limit:  limit,
		Offset: offset,
	})
}

// handleDomainEvents handles GET /api/events/{domain}
func (s *Server) handleDomainEvents(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Event log not available")
		return
	}

	domain := strings.ToLower(strings.TrimSuffix(r.PathValue("domain"), "."))
	if domain == "" {
		s.writeError(w, http.StatusBadRequest, "Domain is required")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))

	events, err := s.storage.EventsByDomain(r.Context(), domain, limit)
	if err != nil {
		s.logger.Error("Failed to get domain events", "domain", domain, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	s.writeJSON(w, http.StatusOK, EventsResponse{
		Events: convertEvents(events),
		Limit:  limit,
	})
}

// handleStats handles GET /api/stats?since=24h
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Event log not available")
		return
	}

	period := parseDuration(r.URL.Query().Get("since"), 24*time.Hour)
	since := time.Now().Add(-period)

	counts, err := s.storage.CountByKind(r.Context(), since)
	if err != nil {
		s.logger.Error("Failed to get statistics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{
		Resolutions: counts[storage.EventResolve],
		Routed:      counts[storage.EventRoute],
		Errors:      counts[storage.EventError],
		Period:      period.String(),
		Timestamp:   time.Now().Format(time.RFC3339),
	})
}

func parseLimit(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultEventLimit
	}
	return min(n, maxEventLimit)
}

func convertEvents(events []*storage.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, convertEvent(e))
	}
	return out
}
