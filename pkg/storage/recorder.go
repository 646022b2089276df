package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"dns-router/pkg/notify"
)

// Recorder persists routing notifications as events. Writes go through
// the storage buffer, so a slow disk never stalls a query; events that do
// not fit are dropped and counted by the storage metrics.
type Recorder struct {
	store  Storage
	logger *slog.Logger
}

var _ notify.Listener = &Recorder{}

// NewRecorder returns a notification listener writing into store.
func NewRecorder(store Storage, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) OnResolutionRequested(domain string) {
	r.log(&Event{Kind: EventResolve, Domain: domain})
}

func (r *Recorder) OnRouted(domain, addr string) {
	r.log(&Event{Kind: EventRoute, Domain: domain, Address: addr})
}

func (r *Recorder) OnError(err error) {
	e := &Event{Kind: EventError, Error: err.Error()}

	var q interface {
		QueryDomain() string
		StageName() string
	}
	if errors.As(err, &q) {
		e.Domain = q.QueryDomain()
		e.Stage = q.StageName()
	}
	r.log(e)
}

// log stores domains lowercased so per-domain lookups match queries sent
// with randomized name case.
func (r *Recorder) log(e *Event) {
	e.Timestamp = time.Now()
	e.Domain = strings.ToLower(e.Domain)
	if err := r.store.LogEvent(context.Background(), e); err != nil {
		r.logger.Debug("Event not recorded", "kind", e.Kind, "domain", e.Domain, "error", err)
	}
}

// RunCleanup deletes events older than retention every interval until ctx
// is cancelled.
func RunCleanup(ctx context.Context, store Storage, retention, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if err := store.Cleanup(ctx, cutoff); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event cleanup failed", "error", err)
				continue
			}
			logger.Debug("Event cleanup complete", "cutoff", cutoff)
		}
	}
}
