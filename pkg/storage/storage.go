package storage

import (
	"context"
	"time"

	"dns-router/pkg/config"
)

// Storage defines the interface for event log backends.
// Implementations must be thread-safe and support concurrent access.
type Storage interface {
	// Event logging
	LogEvent(ctx context.Context, event *Event) error
	RecentEvents(ctx context.Context, limit, offset int) ([]*Event, error)
	EventsByDomain(ctx context.Context, domain string, limit int) ([]*Event, error)

	// Statistics
	CountByKind(ctx context.Context, since time.Time) (map[EventKind]int64, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Close() error
	Ping(ctx context.Context) error
}

// EventKind names the routing notification an event was recorded from.
type EventKind string

const (
	EventResolve EventKind = "resolve"
	EventRoute   EventKind = "route"
	EventError   EventKind = "error"
)

// Event is one persisted routing notification.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	Domain    string    `json:"domain,omitempty"`
	Address   string    `json:"address,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	ID        int64     `json:"id"`
}

// Config represents storage configuration
type Config struct {
	SQLite        SQLiteConfig
	BufferSize    int
	FlushInterval time.Duration
	BatchSize     int
	RetentionDays int
	Enabled       bool
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path        string // Database file path
	BusyTimeout int    // Busy timeout in milliseconds
	WALMode     bool   // Enable WAL mode
	CacheSize   int    // Cache size in KB
}

// DefaultConfig returns a default storage configuration
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		SQLite: SQLiteConfig{
			Path:        "./dns-router.db",
			BusyTimeout: 5000,
			WALMode:     true,
			CacheSize:   4096,
		},
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
		RetentionDays: 7,
	}
}

// ConfigFrom maps the file configuration onto a storage Config, keeping
// defaults for the tuning knobs the file does not expose.
func ConfigFrom(c config.StorageConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.DatabasePath != "" {
		cfg.SQLite.Path = c.DatabasePath
	}
	if c.BufferSize > 0 {
		cfg.BufferSize = c.BufferSize
	}
	if c.FlushInterval > 0 {
		cfg.FlushInterval = c.FlushInterval
	}
	if c.RetentionDays > 0 {
		cfg.RetentionDays = c.RetentionDays
	}
	return cfg
}

// Validate validates the storage configuration, correcting non-positive
// tuning values to usable ones.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.SQLite.Path == "" {
		return ErrInvalidConfig
	}

	if c.BufferSize < 1 {
		c.BufferSize = 100
	}

	if c.BatchSize < 1 {
		c.BatchSize = 100
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}

	if c.RetentionDays < 1 {
		c.RetentionDays = 7
	}

	return nil
}

// Retention returns the configured retention as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
