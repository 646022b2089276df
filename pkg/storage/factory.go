package storage

import (
	"context"
	"fmt"
	"time"
)

// New creates a storage instance from cfg. Disabled storage yields a
// NoOpStorage so callers never have to nil-check.
func New(cfg *Config, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled {
		return NewNoOpStorage(), nil
	}

	return NewSQLiteStorage(cfg, metrics)
}

// NoOpStorage is a no-op storage that does nothing
// Used when storage is disabled
type NoOpStorage struct{}

var _ Storage = &NoOpStorage{}

// NewNoOpStorage creates a new no-op storage
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

// LogEvent does nothing
func (n *NoOpStorage) LogEvent(ctx context.Context, event *Event) error {
	return nil
}

// RecentEvents returns an empty slice
func (n *NoOpStorage) RecentEvents(ctx context.Context, limit, offset int) ([]*Event, error) {
	return []*Event{}, nil
}

// EventsByDomain returns an empty slice
func (n *NoOpStorage) EventsByDomain(ctx context.Context, domain string, limit int) ([]*Event, error) {
	return []*Event{}, nil
}

// CountByKind returns an empty map
func (n *NoOpStorage) CountByKind(ctx context.Context, since time.Time) (map[EventKind]int64, error) {
	return map[EventKind]int64{}, nil
}

// Cleanup does nothing
func (n *NoOpStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	return nil
}

// Close does nothing
func (n *NoOpStorage) Close() error {
	return nil
}

// Ping does nothing
func (n *NoOpStorage) Ping(ctx context.Context) error {
	return nil
}
