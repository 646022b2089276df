package telemetry

import (
	"context"
	"errors"

	"dns-router/pkg/notify"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func eventAttr(event string) attribute.KeyValue {
	return attribute.String("event", event)
}

// MetricsListener counts routing notifications by kind. Errors are further
// split by the stage that failed when the error carries one.
type MetricsListener struct {
	metrics *Metrics
}

var _ notify.Listener = &MetricsListener{}

// NewMetricsListener returns a listener recording into m.
func NewMetricsListener(m *Metrics) *MetricsListener {
	return &MetricsListener{metrics: m}
}

func (l *MetricsListener) OnResolutionRequested(string) {
	l.add(eventAttr("resolve"))
}

func (l *MetricsListener) OnRouted(string, string) {
	l.add(eventAttr("route"))
}

func (l *MetricsListener) OnError(err error) {
	attrs := []attribute.KeyValue{eventAttr("error")}
	var staged interface{ StageName() string }
	if errors.As(err, &staged) {
		attrs = append(attrs, attribute.String("stage", staged.StageName()))
	}
	l.add(attrs...)
}

func (l *MetricsListener) add(attrs ...attribute.KeyValue) {
	if l.metrics == nil || l.metrics.Notifications == nil {
		return
	}
	l.metrics.Notifications.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
