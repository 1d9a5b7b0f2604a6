// Package telemetry wires the OpenTelemetry pipeline for the marudb
// storage engine. The buffer pool is the only instrumented hot path, so the
// setup is metrics-first: a Prometheus exporter behind a dedicated scrape
// server feeds the pool's counters (hits, misses, evictions, write-backs,
// outstanding pins). A ratio-sampled tracer is kept for the coarse
// operation spans the bench driver emits around whole workload runs; the
// engine itself never opens spans, one per page operation would cost more
// than the operation.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Config holds all the configuration for the telemetry system.
type Config struct {
	// Enabled toggles the entire telemetry system on or off. Disabled
	// telemetry hands out no-op instruments, so the buffer pool records
	// metrics unconditionally and pays nothing when observability is off.
	Enabled bool `yaml:"enabled"`
	// ServiceName is the name of the service that will appear in metrics
	// and traces.
	ServiceName string `yaml:"service_name"`
	// PrometheusPort is the port the scrape server listens on.
	PrometheusPort int `yaml:"prometheus_port"`
	// MetricsPath is the scrape endpoint path. Defaults to "/metrics".
	MetricsPath string `yaml:"metrics_path"`
	// TraceSampleRatio is the fraction of traces to sample (e.g., 0.01 for
	// 1%). Defaults to 1.0 (always sample) if not set or invalid.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Telemetry represents the active telemetry components. Meter is what the
// buffer pool takes at construction; Tracer is for driver-level spans.
type Telemetry struct {
	Meter  metric.Meter
	Tracer trace.Tracer

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	scrapeServer   *http.Server
}

// New initializes the OpenTelemetry SDK and starts the Prometheus scrape
// server. Call Shutdown to flush providers and stop the server.
func New(config Config) (*Telemetry, error) {
	if !config.Enabled {
		return &Telemetry{
			Meter:  noop.NewMeterProvider().Meter(""),
			Tracer: nooptrace.NewTracerProvider().Tracer(""),
		}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	meterProvider, scrapeServer, err := newMetricsPipeline(config, res)
	if err != nil {
		return nil, err
	}
	tracerProvider := newTracerProvider(config, res)

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &Telemetry{
		Meter:          meterProvider.Meter(config.ServiceName),
		Tracer:         tracerProvider.Tracer(config.ServiceName),
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		scrapeServer:   scrapeServer,
	}, nil
}

// newMetricsPipeline builds the Prometheus-exported meter provider and its
// scrape server. The server gets its own mux and handle so Shutdown can
// stop it; it never touches the process-wide default mux.
func newMetricsPipeline(config Config, res *resource.Resource) (*sdkmetric.MeterProvider, *http.Server, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	path := config.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	scrapeServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.PrometheusPort),
		Handler: mux,
	}
	go func() {
		if err := scrapeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			otel.Handle(fmt.Errorf("prometheus scrape server failed: %w", err))
		}
	}()

	return meterProvider, scrapeServer, nil
}

func newTracerProvider(config Config, res *resource.Resource) *sdktrace.TracerProvider {
	sampleRatio := config.TraceSampleRatio
	if sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1.0
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRatio)),
	)
}

// Shutdown flushes buffered telemetry and stops the scrape server. It is a
// no-op for disabled telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := t.scrapeServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown scrape server: %w", err)
	}
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}
