// Package dns serves the router's UDP endpoint. Every datagram is parsed,
// matched against the route table and either answered with a synthesized
// A record or relayed verbatim to the upstream resolver.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"dns-router/pkg/logging"
	"dns-router/pkg/notify"
	"dns-router/pkg/route"
	"dns-router/pkg/telemetry"
	"dns-router/pkg/wire"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Forwarder relays a raw query to the upstream and returns the raw reply.
type Forwarder interface {
	Forward(ctx context.Context, query []byte) ([]byte, error)
}

// TargetResolver turns a hostname route target into an IPv4 literal.
type TargetResolver interface {
	LookupIPv4(ctx context.Context, host string) (string, error)
}

// RateLimiter decides whether a client may send another query.
type RateLimiter interface {
	Allow(client netip.Addr) (bool, string)
}

// ResponseWriter sends a response datagram back to the requester.
type ResponseWriter func(b []byte) error

// Handler runs a single datagram through the routing pipeline. It holds no
// per-query state, so one handler serves all queries concurrently.
type Handler struct {
	Routes    *route.Table
	Forwarder Forwarder
	Targets   TargetResolver
	Limiter   RateLimiter
	Notifier  notify.Listener
	Metrics   *telemetry.Metrics
	Logger    *logging.Logger
	Tracer    trace.Tracer
	AnswerTTL uint32
}

// NewHandler creates a handler with an empty route table. Every query is
// forwarded until routes are added and a forwarder is set.
func NewHandler() *Handler {
	return &Handler{
		Routes:    route.NewTable(),
		Notifier:  notify.Funcs{},
		Logger:    logging.NewDiscard(),
		Tracer:    noop.NewTracerProvider().Tracer(""),
		AnswerTTL: wire.DefaultTTL,
	}
}

// SetForwarder sets the upstream fallback
func (h *Handler) SetForwarder(f Forwarder) {
	h.Forwarder = f
}

// SetTargetResolver sets the resolver used for hostname route targets
func (h *Handler) SetTargetResolver(r TargetResolver) {
	h.Targets = r
}

// SetRateLimiter wires a per-client rate limiter. A nil limiter disables
// limiting.
func (h *Handler) SetRateLimiter(l RateLimiter) {
	h.Limiter = l
}

// SetNotifier sets the listener receiving routing notifications. A listener
// that is not already an Emitter is wrapped in one so its panics never reach
// the query. nil disables notifications.
func (h *Handler) SetNotifier(l notify.Listener) {
	switch l := l.(type) {
	case nil:
		h.Notifier = notify.Funcs{}
	case *notify.Emitter:
		h.Notifier = l
	default:
		var metrics notify.MetricsRecorder
		if h.Metrics != nil {
			metrics = h.Metrics
		}
		e := notify.NewEmitter(h.Logger, metrics)
		e.Subscribe(l)
		h.Notifier = e
	}
}

// SetMetrics sets the metrics collector
func (h *Handler) SetMetrics(m *telemetry.Metrics) {
	h.Metrics = m
}

// SetLogger sets the logger
func (h *Handler) SetLogger(l *logging.Logger) {
	h.Logger = l
}

// SetTracer sets the tracer used for per-query spans
func (h *Handler) SetTracer(t trace.Tracer) {
	h.Tracer = t
}

// ServeDatagram handles one query from client. Malformed and rate limited
// datagrams are dropped without a response or notification. Failures after
// parsing are reported through the notifier and never answered; the
// requester is expected to retry.
func (h *Handler) ServeDatagram(ctx context.Context, client net.Addr, data []byte, w ResponseWriter) {
	start := time.Now()
	h.recordReceived(ctx)
	h.trackInFlight(ctx, 1)
	defer h.trackInFlight(ctx, -1)

	ctx, span := h.Tracer.Start(ctx, "dns.query", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	if h.Limiter != nil {
		addr := clientAddr(client)
		if allowed, label := h.Limiter.Allow(addr); !allowed {
			h.Logger.Debug("Rate limit exceeded, dropping query", "client", addr.String(), "limit", label)
			span.SetStatus(codes.Error, "rate_limited")
			h.recordDropped(ctx, "rate_limited")
			return
		}
	}

	msg, err := wire.Parse(data)
	if err != nil {
		h.drop(ctx, span, "malformed_message", len(data), err)
		return
	}
	domain, err := msg.Domain()
	if err != nil {
		h.drop(ctx, span, "malformed_label", len(data), err)
		return
	}
	span.SetAttributes(attribute.String("dns.domain", domain))

	h.Notifier.OnResolutionRequested(domain)

	outcome := h.route(ctx, msg, domain, data, w)
	span.SetAttributes(attribute.String("dns.outcome", outcome))
	h.recordOutcome(ctx, outcome, start)
}

func clientAddr(a net.Addr) netip.Addr {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.AddrPort().Addr().Unmap()
	case nil:
		return netip.Addr{}
	default:
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.Addr{}
		}
		return ap.Addr().Unmap()
	}
}

func (h *Handler) drop(ctx context.Context, span trace.Span, reason string, size int, err error) {
	h.Logger.Debug("Dropping malformed query", "bytes", size, "reason", reason, "error", err)
	span.SetStatus(codes.Error, reason)
	h.recordDropped(ctx, reason)
}

func (h *Handler) route(ctx context.Context, msg *wire.Message, domain string, data []byte, w ResponseWriter) string {
	r := h.Routes.Match(domain)
	if r == nil {
		h.Logger.Debug("No route matched, forwarding", "domain", domain)
		return h.forward(ctx, domain, data, w)
	}

	addr, err := r.Resolve(ctx, domain)
	if err != nil {
		return h.fail(ctx, newQueryError(domain, StageResolve, ErrResolverFailure,
			fmt.Errorf("%s: %w", r, err)))
	}
	if addr == "" {
		h.Logger.Debug("Resolver deferred, forwarding", "domain", domain, "resolver", r.String())
		return h.forward(ctx, domain, data, w)
	}

	if !wire.IsIPv4(addr) {
		if h.Targets == nil {
			return h.fail(ctx, newQueryError(domain, StageLookup, ErrResolverFailure,
				fmt.Errorf("no resolver for target %q", addr)))
		}
		ip, err := h.Targets.LookupIPv4(ctx, addr)
		if err != nil {
			return h.fail(ctx, newQueryError(domain, StageLookup, ErrResolverFailure, err))
		}
		addr = ip
	}

	ip, err := wire.IPv4ToUint32(addr)
	if err != nil {
		return h.fail(ctx, newQueryError(domain, StageLookup, ErrResolverFailure, err))
	}

	resp := wire.BuildResponse(msg, []wire.ResourceRecord{
		wire.NewA(msg.Question.Name, ip, h.AnswerTTL),
	})
	if err := w(resp); err != nil {
		h.Logger.Warn("Failed to write response", "domain", domain, "error", err)
		h.recordError(ctx, "respond")
		return outcomeError
	}

	h.Notifier.OnRouted(domain, addr)
	return outcomeAnswered
}

// forward relays the original datagram, untouched, and writes the reply
// back untouched.
func (h *Handler) forward(ctx context.Context, domain string, data []byte, w ResponseWriter) string {
	if h.Forwarder == nil {
		return h.fail(ctx, newQueryError(domain, StageForward, ErrUpstreamUnreachable,
			errors.New("no upstream configured")))
	}

	reply, err := h.Forwarder.Forward(ctx, data)
	if err != nil {
		return h.fail(ctx, newQueryError(domain, StageForward, ErrUpstreamUnreachable, err))
	}
	if err := w(reply); err != nil {
		h.Logger.Warn("Failed to write forwarded reply", "domain", domain, "error", err)
		h.recordError(ctx, "respond")
		return outcomeError
	}
	return outcomeForwarded
}

func (h *Handler) fail(ctx context.Context, qerr *QueryError) string {
	span := trace.SpanFromContext(ctx)
	span.RecordError(qerr)
	span.SetStatus(codes.Error, qerr.Stage)

	h.recordError(ctx, qerr.Stage)
	h.Notifier.OnError(qerr)
	return outcomeError
}
