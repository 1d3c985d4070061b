// Package metrics configures the OpenTelemetry meter provider and serves
// Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
)

// MetricProvider exposes meters and supports graceful shutdown.
type MetricProvider interface {
	Meter(name string, options ...metric.MeterOption) metric.Meter
	Shutdown(ctx context.Context) error
}

// NewMetricProvider installs a Prometheus-backed meter provider as the
// global OTel meter provider and returns it.
func NewMetricProvider(options ...OptionFn) MetricProvider {
	var cfg Config
	for _, opt := range options {
		cfg = opt(cfg)
	}

	exporter, err := prometheus.New()
	if err != nil {
		panic(err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(
			resource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)),
		),
	)

	otel.SetMeterProvider(meterProvider)

	return meterProvider
}

// ServePrometheusMetrics blocks serving /metrics on the configured port.
func ServePrometheusMetrics(opt ...PromOptionFn) {
	var cfg PromServerConfig
	port := "9090"

	for _, o := range opt {
		cfg = o(cfg)
	}
	if cfg.port != "" {
		port = cfg.port
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		fmt.Printf("error serving metrics: %v\n", err)
	}
}
