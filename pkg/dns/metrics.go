package dns

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Query outcomes, used as the "outcome" attribute on the duration histogram.
const (
	outcomeAnswered  = "answered"
	outcomeForwarded = "forwarded"
	outcomeError     = "error"
)

func (h *Handler) recordReceived(ctx context.Context) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.QueriesReceived.Add(ctx, 1)
}

func (h *Handler) trackInFlight(ctx context.Context, delta int64) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.QueriesInFlight.Add(ctx, delta)
}

// recordDropped counts a datagram that was discarded without a response.
func (h *Handler) recordDropped(ctx context.Context, reason string) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.QueriesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (h *Handler) recordError(ctx context.Context, stage string) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.QueryErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// recordOutcome bumps the per-outcome counter and the duration histogram.
func (h *Handler) recordOutcome(ctx context.Context, outcome string, start time.Time) {
	if h.Metrics == nil {
		return
	}
	switch outcome {
	case outcomeAnswered:
		h.Metrics.QueriesAnswered.Add(ctx, 1)
	case outcomeForwarded:
		h.Metrics.QueriesForwarded.Add(ctx, 1)
	}

	ms := float64(time.Since(start).Microseconds()) / 1000.0
	h.Metrics.QueryDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("outcome", outcome)))
}
