// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"dns-router/pkg/config"
	"dns-router/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const meterName = "dns-router"

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg              *config.TelemetryConfig
	meterProvider    metric.MeterProvider
	tracerProvider   trace.TracerProvider
	prometheusServer *http.Server
	metricsAddr      net.Addr
	logger           *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	QueriesReceived  metric.Int64Counter
	QueriesAnswered  metric.Int64Counter
	QueriesForwarded metric.Int64Counter
	QueriesDropped   metric.Int64Counter
	QueryErrors      metric.Int64Counter
	QueryDuration    metric.Float64Histogram
	QueriesInFlight  metric.Int64UpDownCounter

	Notifications  metric.Int64Counter
	ListenerPanics metric.Int64Counter
	RouteReloads   metric.Int64Counter

	StorageEventsDropped metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if cfg.TracingEnabled {
		t.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		otel.SetTracerProvider(t.tracerProvider)
	} else {
		t.tracerProvider = tracenoop.NewTracerProvider()
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
		"tracing", cfg.TracingEnabled,
	)

	return t, nil
}

// NewWithProviders builds a Telemetry around existing providers. No
// exporter or HTTP endpoint is started.
func NewWithProviders(mp metric.MeterProvider, tp trace.TracerProvider, logger *logging.Logger) *Telemetry {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	return &Telemetry{
		cfg:            &config.TelemetryConfig{Enabled: true},
		meterProvider:  mp,
		tracerProvider: tp,
		logger:         logger,
	}
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		_ = provider.Shutdown(context.Background())
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "addr", t.metricsAddr.String())
	return nil
}

// startPrometheusServer binds synchronously so a busy port fails startup.
func (t *Telemetry) startPrometheusServer() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.cfg.PrometheusPort))
	if err != nil {
		return err
	}
	t.metricsAddr = ln.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// MetricsAddr returns the bound address of the /metrics endpoint, or nil
// when Prometheus is disabled.
func (t *Telemetry) MetricsAddr() net.Addr {
	return t.metricsAddr
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter(meterName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.QueriesReceived, "dns.queries.received", "Datagrams received on the listening socket"},
		{&m.QueriesAnswered, "dns.queries.answered", "Queries answered from a route"},
		{&m.QueriesForwarded, "dns.queries.forwarded", "Queries relayed to the upstream resolver"},
		{&m.QueriesDropped, "dns.queries.dropped", "Datagrams dropped as malformed"},
		{&m.QueryErrors, "dns.queries.errors", "Queries that failed without a response"},
		{&m.Notifications, "notify.events", "Routing notifications emitted"},
		{&m.ListenerPanics, "notify.listener.panics", "Notification listeners that panicked"},
		{&m.RouteReloads, "routes.reloads", "Route table replacements from configuration"},
		{&m.StorageEventsDropped, "storage.events.dropped", "Events dropped due to full buffer"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	duration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}
	m.QueryDuration = duration

	inFlight, err := meter.Int64UpDownCounter(
		"dns.queries.in_flight",
		metric.WithDescription("Queries currently being handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight gauge: %w", err)
	}
	m.QueriesInFlight = inFlight

	return m, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// AddDroppedEvents implements storage.MetricsRecorder.
func (m *Metrics) AddDroppedEvents(ctx context.Context, count int64) {
	if m != nil && m.StorageEventsDropped != nil {
		m.StorageEventsDropped.Add(ctx, count)
	}
}

// AddListenerPanic implements notify.MetricsRecorder.
func (m *Metrics) AddListenerPanic(ctx context.Context, event string) {
	if m != nil && m.ListenerPanics != nil {
		m.ListenerPanics.Add(ctx, 1, metric.WithAttributes(eventAttr(event)))
	}
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if provider, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %w", errors.Join(errs...))
	}

	if t.logger != nil {
		t.logger.Info("Telemetry shut down")
	}
	return nil
}
