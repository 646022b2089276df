package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dns-router/pkg/route"
	"dns-router/pkg/storage"
)

// mockStorage implements storage.Storage for testing
type mockStorage struct {
	events     []*storage.Event
	counts     map[storage.EventKind]int64
	pingErr    error
	lastDomain string
	lastLimit  int
	lastOffset int
	lastSince  time.Time
}

var _ storage.Storage = (*mockStorage)(nil)

func (m *mockStorage) LogEvent(ctx context.Context, e *storage.Event) error {
	m.events = append(m.events, e)
	return nil
}

func (m *mockStorage) RecentEvents(ctx context.Context, limit, offset int) ([]*storage.Event, error) {
	m.lastLimit, m.lastOffset = limit, offset
	return m.events, nil
}

func (m *mockStorage) EventsByDomain(ctx context.Context, domain string, limit int) ([]*storage.Event, error) {
	m.lastDomain, m.lastLimit = domain, limit
	var out []*storage.Event
	for _, e := range m.events {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStorage) CountByKind(ctx context.Context, since time.Time) (map[storage.EventKind]int64, error) {
	m.lastSince = since
	return m.counts, nil
}

func (m *mockStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	return nil
}

func (m *mockStorage) Close() error {
	return nil
}

func (m *mockStorage) Ping(ctx context.Context) error {
	return m.pingErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	return New(cfg)
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &Config{Version: "1.2.3"})

	w := do(t, s, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)

	w = do(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", decode[LivenessResponse](t, w).Status)
}

func TestHandleReadyz(t *testing.T) {
	store := &mockStorage{}
	s := newTestServer(t, &Config{Storage: store, Routes: route.NewTable()})

	w := do(t, s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ReadinessResponse](t, w)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["storage"])
	assert.Equal(t, "ok", resp.Checks["routes"])

	store.pingErr = errors.New("database is locked")
	w = do(t, s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp = decode[ReadinessResponse](t, w)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "database is locked", resp.Checks["storage"])
}

func TestHandleRoutes(t *testing.T) {
	table := route.NewTable()
	require.NoError(t, table.AddAddress([]string{"www.google.com", "*.lan"}, "127.0.0.1"))
	require.NoError(t, table.AddAddress(nil, "10.0.0.1"))

	s := newTestServer(t, &Config{Routes: table})
	w := do(t, s, http.MethodGet, "/api/routes")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[RoutesResponse](t, w)
	require.Equal(t, 3, resp.Count)
	require.Len(t, resp.Routes, 3)
	assert.Equal(t, RouteResponse{Index: 0, Pattern: "www.google.com", Type: "exact", Resolver: "Static(127.0.0.1)"}, resp.Routes[0])
	assert.Equal(t, "wildcard", resp.Routes[1].Type)
	assert.Equal(t, "all", resp.Routes[2].Type)
	assert.Equal(t, "Static(10.0.0.1)", resp.Routes[2].Resolver)
}

func TestHandleRoutesReload(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s := newTestServer(t, &Config{})
		w := do(t, s, http.MethodPost, "/api/routes/reload")
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	t.Run("success", func(t *testing.T) {
		calls := 0
		s := newTestServer(t, &Config{Reload: func(ctx context.Context) (int, error) {
			calls++
			return 4, nil
		}})
		w := do(t, s, http.MethodPost, "/api/routes/reload")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, ReloadResponse{Status: "ok", Routes: 4}, decode[ReloadResponse](t, w))
		assert.Equal(t, 1, calls)
	})

	t.Run("failure", func(t *testing.T) {
		s := newTestServer(t, &Config{Reload: func(ctx context.Context) (int, error) {
			return 0, errors.New("invalid routes: bad expr")
		}})
		w := do(t, s, http.MethodPost, "/api/routes/reload")
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, decode[ErrorResponse](t, w).Message, "bad expr")
	})

	t.Run("wrong method", func(t *testing.T) {
		s := newTestServer(t, &Config{})
		w := do(t, s, http.MethodGet, "/api/routes/reload")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleEvents(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &mockStorage{events: []*storage.Event{
		{ID: 2, Timestamp: ts, Kind: storage.EventRoute, Domain: "www.google.com", Address: "127.0.0.1"},
		{ID: 1, Timestamp: ts, Kind: storage.EventError, Domain: "bad.lan", Stage: "resolve", Error: "boom"},
	}}
	s := newTestServer(t, &Config{Storage: store})

	w := do(t, s, http.MethodGet, "/api/events?limit=5&offset=10")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[EventsResponse](t, w)
	assert.Equal(t, 5, resp.Limit)
	assert.Equal(t, 10, resp.Offset)
	assert.Equal(t, 5, store.lastLimit)
	assert.Equal(t, 10, store.lastOffset)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "route", resp.Events[0].Kind)
	assert.Equal(t, "2024-05-01T12:00:00Z", resp.Events[0].Timestamp)
	assert.Equal(t, "boom", resp.Events[1].Error)

	w = do(t, s, http.MethodGet, "/api/events?limit=99999")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxEventLimit, store.lastLimit)

	w = do(t, s, http.MethodGet, "/api/events?offset=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDomainEvents(t *testing.T) {
	store := &mockStorage{events: []*storage.Event{
		{ID: 1, Kind: storage.EventRoute, Domain: "www.google.com"},
		{ID: 2, Kind: storage.EventRoute, Domain: "other.lan"},
	}}
	s := newTestServer(t, &Config{Storage: store})

	w := do(t, s, http.MethodGet, "/api/events/WWW.Google.com.")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "www.google.com", store.lastDomain)
	assert.Equal(t, defaultEventLimit, store.lastLimit)

	resp := decode[EventsResponse](t, w)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, int64(1), resp.Events[0].ID)
}

func TestHandleStats(t *testing.T) {
	store := &mockStorage{counts: map[storage.EventKind]int64{
		storage.EventResolve: 10,
		storage.EventRoute:   7,
		storage.EventError:   2,
	}}
	s := newTestServer(t, &Config{Storage: store})

	before := time.Now()
	w := do(t, s, http.MethodGet, "/api/stats?since=1h")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[StatsResponse](t, w)
	assert.Equal(t, int64(10), resp.Resolutions)
	assert.Equal(t, int64(7), resp.Routed)
	assert.Equal(t, int64(2), resp.Errors)
	assert.Equal(t, "1h0m0s", resp.Period)
	assert.WithinDuration(t, before.Add(-time.Hour), store.lastSince, 5*time.Second)

	w = do(t, s, http.MethodGet, "/api/stats?since=garbage")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "24h0m0s", decode[StatsResponse](t, w).Period)
}

func TestEventEndpointsWithoutStorage(t *testing.T) {
	s := newTestServer(t, &Config{})
	for _, path := range []string{"/api/events", "/api/events/a.lan", "/api/stats"} {
		w := do(t, s, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestHandleSystem(t *testing.T) {
	s := newTestServer(t, &Config{})

	w := do(t, s, http.MethodGet, "/api/system")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[SystemResponse](t, w)
	assert.Positive(t, resp.Goroutines)
	assert.NotEmpty(t, resp.MemTotalHuman)
	assert.NotEmpty(t, resp.Uptime)
}

func TestParseDuration(t *testing.T) {
	def := 24 * time.Hour
	assert.Equal(t, def, parseDuration("", def))
	assert.Equal(t, def, parseDuration("nope", def))
	assert.Equal(t, def, parseDuration("-1h", def))
	assert.Equal(t, 30*time.Minute, parseDuration("30m", def))
}

func TestServerStartAndShutdown(t *testing.T) {
	s := newTestServer(t, &Config{ListenAddress: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	s := newTestServer(t, &Config{})
	h := s.recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
