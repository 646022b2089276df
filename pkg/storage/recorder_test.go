package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	NoOpStorage
	mu      sync.Mutex
	events  []*Event
	cleaned []time.Time
	err     error
}

func (m *memStorage) LogEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memStorage) Cleanup(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned = append(m.cleaned, olderThan)
	return nil
}

type queryErr struct {
	domain, stage string
	err           error
}

func (e *queryErr) Error() string       { return e.stage + " " + e.domain + ": " + e.err.Error() }
func (e *queryErr) Unwrap() error       { return e.err }
func (e *queryErr) QueryDomain() string { return e.domain }
func (e *queryErr) StageName() string   { return e.stage }

func TestRecorder(t *testing.T) {
	store := &memStorage{}
	r := NewRecorder(store, nil)

	r.OnResolutionRequested("www.google.com")
	r.OnRouted("www.google.com", "127.0.0.1")
	r.OnError(fmt.Errorf("wrapped: %w", &queryErr{domain: "x.com", stage: "forward", err: errors.New("timeout")}))
	r.OnError(errors.New("opaque"))

	require.Len(t, store.events, 4)

	assert.Equal(t, EventResolve, store.events[0].Kind)
	assert.Equal(t, "www.google.com", store.events[0].Domain)
	assert.False(t, store.events[0].Timestamp.IsZero())

	assert.Equal(t, EventRoute, store.events[1].Kind)
	assert.Equal(t, "127.0.0.1", store.events[1].Address)

	assert.Equal(t, EventError, store.events[2].Kind)
	assert.Equal(t, "x.com", store.events[2].Domain)
	assert.Equal(t, "forward", store.events[2].Stage)
	assert.Contains(t, store.events[2].Error, "timeout")

	assert.Equal(t, "", store.events[3].Domain)
	assert.Equal(t, "opaque", store.events[3].Error)
}

func TestRecorder_StorageFailureIsSwallowed(t *testing.T) {
	r := NewRecorder(&memStorage{err: ErrBufferFull}, nil)
	assert.NotPanics(t, func() { r.OnResolutionRequested("a.com") })
}

func TestRunCleanup(t *testing.T) {
	store := &memStorage{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- RunCleanup(ctx, store, time.Hour, 10*time.Millisecond, nil) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.cleaned) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(-time.Hour), store.cleaned[0], time.Minute)
}

func TestRecorder_DomainLookupIgnoresQueryCase(t *testing.T) {
	s := setupTestStorage(t)
	r := NewRecorder(s, nil)

	r.OnResolutionRequested("WWW.Example.COM")
	r.OnRouted("www.EXAMPLE.com", "127.0.0.1")
	waitForEvents(t, s, 2)

	for _, key := range []string{"www.example.com", "WWW.EXAMPLE.COM"} {
		events, err := s.EventsByDomain(context.Background(), key, 100)
		require.NoError(t, err)
		require.Len(t, events, 2, key)
		for _, e := range events {
			assert.Equal(t, "www.example.com", e.Domain)
		}
	}
}
