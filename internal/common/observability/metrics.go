package observability

import (
	"context"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"

	"matching-client/internal/common/logger"
)

// Observability records per-batch outcome and latency through an OTel meter
// exported to Prometheus. A zero value is safe to use and records nothing.
type Observability struct {
	meterProvider *metric.MeterProvider
	batchCounter  otelmetric.Int64Counter
	batchDuration otelmetric.Float64Histogram
	rowsCounter   otelmetric.Int64Counter
}

// New registers the exporter with the default Prometheus registry and
// installs the provider globally.
func New(serviceName string, log logger.Logger) *Observability {
	o := NewWithRegisterer(serviceName, promclient.DefaultRegisterer, log)
	if o.meterProvider != nil {
		otel.SetMeterProvider(o.meterProvider)
	}
	return o
}

// NewWithRegisterer is New against a caller-owned registry.
func NewWithRegisterer(serviceName string, reg promclient.Registerer, log logger.Logger) *Observability {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		log.Warn("failed to create Prometheus exporter", map[string]interface{}{"error": err.Error()})
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	batchCounter, _ := meter.Int64Counter(
		"batches.processed",
		otelmetric.WithDescription("Number of batches classified"),
	)

	batchDuration, _ := meter.Float64Histogram(
		"batches.duration",
		otelmetric.WithDescription("Batch classification duration"),
		otelmetric.WithUnit("ms"),
	)

	rowsCounter, _ := meter.Int64Counter(
		"messages.routed",
		otelmetric.WithDescription("Number of messages routed"),
	)

	return &Observability{
		meterProvider: provider,
		batchCounter:  batchCounter,
		batchDuration: batchDuration,
		rowsCounter:   rowsCounter,
	}
}

// RecordBatch records one classify call with its status ("ok" or an error code).
func (o *Observability) RecordBatch(ctx context.Context, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("status", status))
	if o.batchCounter != nil {
		o.batchCounter.Add(ctx, 1, attrs)
	}
	if o.batchDuration != nil {
		o.batchDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

// RecordRouted records n messages sent to route.
func (o *Observability) RecordRouted(ctx context.Context, route string, n int) {
	if o == nil || o.rowsCounter == nil || n == 0 {
		return
	}
	o.rowsCounter.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("route", route)))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
