package api

import (
	"time"

	"dns-router/pkg/route"
	"dns-router/pkg/storage"
)

const (
	statusOK       = "ok"
	statusReady    = "ready"
	statusNotReady = "not_ready"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status string            `json:"status"` // "ready" or "not_ready"
	Checks map[string]string `json:"checks"` // Component health status
}

// RouteResponse is one entry of the route table, in evaluation order
type RouteResponse struct {
	Index    int    `json:"index"`
	Pattern  string `json:"pattern"`
	Type     string `json:"type"`
	Resolver string `json:"resolver"`
}

// RoutesResponse represents the live route table
type RoutesResponse struct {
	Routes []RouteResponse `json:"routes"`
	Count  int             `json:"count"`
}

// ReloadResponse represents a route reload result
type ReloadResponse struct {
	Status string `json:"status"`
	Routes int    `json:"routes"`
}

// EventResponse represents a single routing event
type EventResponse struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"` // ISO 8601 format
	Kind      string `json:"kind"`
	Domain    string `json:"domain,omitempty"`
	Address   string `json:"address,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EventsResponse represents paginated event results
type EventsResponse struct {
	Events []EventResponse `json:"events"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// StatsResponse counts events by kind over a period
type StatsResponse struct {
	Resolutions int64  `json:"resolutions"`
	Routed      int64  `json:"routed"`
	Errors      int64  `json:"errors"`
	Period      string `json:"period"`
	Timestamp   string `json:"timestamp"`
}

// SystemResponse reports process resource usage
type SystemResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsed       uint64  `json:"mem_used"`
	MemUsedHuman  string  `json:"mem_used_human"`
	MemTotal      uint64  `json:"mem_total"`
	MemTotalHuman string  `json:"mem_total_human"`
	MemPercent    float64 `json:"mem_percent"`
	Goroutines    int     `json:"goroutines"`
	Uptime        string  `json:"uptime"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func convertEvent(e *storage.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Kind:      string(e.Kind),
		Domain:    e.Domain,
		Address:   e.Address,
		Stage:     e.Stage,
		Error:     e.Error,
	}
}

func convertRoutes(routes []route.Route) RoutesResponse {
	out := RoutesResponse{Routes: make([]RouteResponse, 0, len(routes)), Count: len(routes)}
	for i, r := range routes {
		out.Routes = append(out.Routes, RouteResponse{
			Index:    i,
			Pattern:  r.Pattern.Raw,
			Type:     r.Pattern.Type.String(),
			Resolver: r.Resolver.String(),
		})
	}
	return out
}
