// Package ratelimit enforces per-client query rates with token buckets.
package ratelimit

import (
	"net/netip"
	"sync"
	"time"

	"dns-router/pkg/config"
	"dns-router/pkg/logging"

	"golang.org/x/time/rate"
)

// GlobalLabel names the limit applied to clients no override matches.
const GlobalLabel = "global"

// Manager tracks one token bucket per client address.
type Manager struct {
	cfg       *config.RateLimitConfig
	logger    *logging.Logger
	overrides []override
	global    settings

	mu      sync.Mutex
	clients map[netip.Addr]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	label    string
}

type settings struct {
	limit rate.Limit
	burst int
	label string
}

type override struct {
	settings
	prefixes []netip.Prefix
}

// NewManager returns nil when rate limiting is disabled. A nil Manager
// allows everything.
func NewManager(cfg *config.RateLimitConfig, logger *logging.Logger) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		global: settings{
			limit: rate.Limit(cfg.RequestsPerSecond),
			burst: cfg.Burst,
			label: GlobalLabel,
		},
		clients: make(map[netip.Addr]*clientLimiter, 128),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	m.parseOverrides()

	if cfg.CleanupInterval > 0 {
		go m.cleanupLoop()
	}

	logger.Info("Query rate limiting enabled",
		"requests_per_second", cfg.RequestsPerSecond,
		"burst", cfg.Burst,
		"overrides", len(m.overrides),
	)
	return m
}

// Allow reports whether client may send another query, and the name of
// the limit that applied.
func (m *Manager) Allow(client netip.Addr) (bool, string) {
	if m == nil || !client.IsValid() {
		return true, ""
	}
	client = client.Unmap()

	m.mu.Lock()
	entry := m.getLimiterLocked(client)
	entry.lastSeen = m.now()
	m.mu.Unlock()

	return entry.limiter.Allow(), entry.label
}

// Tracked returns the number of clients currently holding a bucket.
func (m *Manager) Tracked() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Stop terminates the background cleanup goroutine.
func (m *Manager) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// cleanup forgets clients idle for longer than the cleanup interval.
func (m *Manager) cleanup() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, entry := range m.clients {
		if now.Sub(entry.lastSeen) > m.cfg.CleanupInterval {
			delete(m.clients, addr)
		}
	}
}

func (m *Manager) getLimiterLocked(client netip.Addr) *clientLimiter {
	if entry, ok := m.clients[client]; ok {
		return entry
	}

	if m.cfg.MaxTrackedClients > 0 && len(m.clients) >= m.cfg.MaxTrackedClients {
		m.evictOldestLocked()
	}

	s := m.settingsFor(client)
	entry := &clientLimiter{
		limiter:  rate.NewLimiter(s.limit, s.burst),
		lastSeen: m.now(),
		label:    s.label,
	}
	m.clients[client] = entry
	return entry
}

func (m *Manager) evictOldestLocked() {
	var oldest netip.Addr
	var oldestTime time.Time
	first := true

	for addr, entry := range m.clients {
		if first || entry.lastSeen.Before(oldestTime) {
			oldest = addr
			oldestTime = entry.lastSeen
			first = false
		}
	}

	if !first {
		delete(m.clients, oldest)
	}
}

// settingsFor returns the first override containing client, in
// configuration order.
func (m *Manager) settingsFor(client netip.Addr) settings {
	for _, o := range m.overrides {
		for _, p := range o.prefixes {
			if p.Contains(client) {
				return o.settings
			}
		}
	}
	return m.global
}

func (m *Manager) parseOverrides() {
	for idx, ov := range m.cfg.Overrides {
		o := override{settings: m.global}
		o.label = ov.Name
		if o.label == "" {
			o.label = "override"
		}
		if ov.RequestsPerSecond != nil {
			o.limit = rate.Limit(*ov.RequestsPerSecond)
		}
		if ov.Burst != nil {
			o.burst = *ov.Burst
		}

		for _, c := range ov.Clients {
			p, err := config.ParseClient(c)
			if err != nil {
				m.logger.Warn("Invalid rate limit override client",
					"override", ov.Name,
					"value", c,
					"index", idx,
					"error", err)
				continue
			}
			o.prefixes = append(o.prefixes, p)
		}

		if len(o.prefixes) == 0 {
			continue
		}
		m.overrides = append(m.overrides, o)
	}
}
