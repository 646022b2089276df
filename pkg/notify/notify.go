// Package notify carries routing notifications from the query server to
// whoever is interested: loggers, the event store, metrics.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"dns-router/pkg/logging"
)

// Listener receives routing notifications. Calls are fire-and-forget and are
// made synchronously on the goroutine serving the query, so implementations
// should return quickly. For a given query OnResolutionRequested is always
// delivered before OnRouted or OnError.
type Listener interface {
	OnResolutionRequested(domain string)
	OnRouted(domain, addr string)
	OnError(err error)
}

// Funcs adapts plain functions to a Listener. Nil fields are skipped.
type Funcs struct {
	ResolutionRequested func(domain string)
	Routed              func(domain, addr string)
	Error               func(err error)
}

var _ Listener = Funcs{}

func (f Funcs) OnResolutionRequested(domain string) {
	if f.ResolutionRequested != nil {
		f.ResolutionRequested(domain)
	}
}

func (f Funcs) OnRouted(domain, addr string) {
	if f.Routed != nil {
		f.Routed(domain, addr)
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// MetricsRecorder defines the interface for recording listener failures
// This interface breaks the import cycle between notify and telemetry packages
type MetricsRecorder interface {
	AddListenerPanic(ctx context.Context, event string)
}

// Emitter fans notifications out to its listeners. A listener that panics
// is logged and skipped; the remaining listeners and the query itself are
// unaffected.
type Emitter struct {
	listeners atomic.Pointer[[]Listener]
	mu        sync.Mutex
	logger    *logging.Logger
	metrics   MetricsRecorder
}

var _ Listener = &Emitter{}

// NewEmitter creates an emitter without listeners. metrics may be nil.
func NewEmitter(logger *logging.Logger, metrics MetricsRecorder) *Emitter {
	e := &Emitter{logger: logger, metrics: metrics}
	e.listeners.Store(&[]Listener{})
	return e
}

// Subscribe adds a listener. Safe to call while notifications are emitted.
func (e *Emitter) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := *e.listeners.Load()
	next := make([]Listener, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, l)
	e.listeners.Store(&next)
}

// Len returns the number of subscribed listeners.
func (e *Emitter) Len() int {
	return len(*e.listeners.Load())
}

// OnResolutionRequested is emitted for every parsed query, before routing.
func (e *Emitter) OnResolutionRequested(domain string) {
	e.dispatch("resolve", func(l Listener) { l.OnResolutionRequested(domain) })
}

// OnRouted is emitted after a locally synthesized answer was sent.
func (e *Emitter) OnRouted(domain, addr string) {
	e.dispatch("route", func(l Listener) { l.OnRouted(domain, addr) })
}

// OnError is emitted when a query fails without a response.
func (e *Emitter) OnError(err error) {
	e.dispatch("error", func(l Listener) { l.OnError(err) })
}

func (e *Emitter) dispatch(event string, call func(Listener)) {
	for _, l := range *e.listeners.Load() {
		e.safeCall(event, l, call)
	}
}

func (e *Emitter) safeCall(event string, l Listener, call func(Listener)) {
	defer func() {
		if v := recover(); v != nil {
			if e.logger != nil {
				e.logger.Error("Notification listener panicked",
					"event", event,
					"listener", fmt.Sprintf("%T", l),
					"panic", v,
				)
			}
			if e.metrics != nil {
				e.metrics.AddListenerPanic(context.Background(), event)
			}
		}
	}()
	call(l)
}

// LogListener writes every notification to the logger.
type LogListener struct {
	logger *logging.Logger
}

var _ Listener = &LogListener{}

// NewLogListener returns a listener logging through logger.
func NewLogListener(logger *logging.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) OnResolutionRequested(domain string) {
	l.logger.Debug("Resolution requested", "domain", domain)
}

func (l *LogListener) OnRouted(domain, addr string) {
	l.logger.Info("Query routed", "domain", domain, "address", addr)
}

func (l *LogListener) OnError(err error) {
	l.logger.Warn("Query failed", "error", err)
}
