package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metrics holds all cache subsystem metrics
type Metrics struct {
	meter metric.Meter

	// Universal cache metrics
	CacheHits     metric.Int64Counter
	CacheMisses   metric.Int64Counter
	StaleServed   metric.Int64Counter
	FetchDuration metric.Float64Histogram
	FetchErrors   metric.Int64Counter

	// Persistent store metrics
	StoreOps     metric.Int64Counter
	StoreErrors  metric.Int64Counter
	EntriesPruned metric.Int64Counter

	// Invalidation metrics
	Invalidations metric.Int64Counter

	// Prefetch / refresh metrics
	PrefetchScheduled metric.Int64Counter
	PrefetchExecuted  metric.Int64Counter
	RefreshExecuted   metric.Int64Counter
	RefreshSkipped    metric.Int64Counter

	// Cross-process sync metrics
	SyncMessages metric.Int64Counter
	LeaderState  metric.Int64Gauge

	// Quota metrics
	QuotaUsagePercent metric.Float64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	meter := provider.Meter(serviceName)

	m := &Metrics{
		meter:    meter,
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics creates all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	if m.CacheHits, err = m.meter.Int64Counter("cache_hits_total",
		metric.WithDescription("Cache hits by layer")); err != nil {
		return err
	}
	if m.CacheMisses, err = m.meter.Int64Counter("cache_misses_total",
		metric.WithDescription("Cache misses")); err != nil {
		return err
	}
	if m.StaleServed, err = m.meter.Int64Counter("cache_stale_served_total",
		metric.WithDescription("Stale entries served while revalidating")); err != nil {
		return err
	}
	if m.FetchDuration, err = m.meter.Float64Histogram("cache_fetch_duration_seconds",
		metric.WithDescription("Remote fetcher latency")); err != nil {
		return err
	}
	if m.FetchErrors, err = m.meter.Int64Counter("cache_fetch_errors_total",
		metric.WithDescription("Remote fetcher failures")); err != nil {
		return err
	}
	if m.StoreOps, err = m.meter.Int64Counter("store_operations_total",
		metric.WithDescription("Persistent store operations by type")); err != nil {
		return err
	}
	if m.StoreErrors, err = m.meter.Int64Counter("store_errors_total",
		metric.WithDescription("Persistent store failures (degraded to memory-only)")); err != nil {
		return err
	}
	if m.EntriesPruned, err = m.meter.Int64Counter("store_entries_pruned_total",
		metric.WithDescription("Entries evicted by prune")); err != nil {
		return err
	}
	if m.Invalidations, err = m.meter.Int64Counter("cache_invalidations_total",
		metric.WithDescription("Invalidations by cause")); err != nil {
		return err
	}
	if m.PrefetchScheduled, err = m.meter.Int64Counter("prefetch_scheduled_total",
		metric.WithDescription("Prefetch tasks queued")); err != nil {
		return err
	}
	if m.PrefetchExecuted, err = m.meter.Int64Counter("prefetch_executed_total",
		metric.WithDescription("Prefetch tasks executed")); err != nil {
		return err
	}
	if m.RefreshExecuted, err = m.meter.Int64Counter("refresh_executed_total",
		metric.WithDescription("Background refresh runs")); err != nil {
		return err
	}
	if m.RefreshSkipped, err = m.meter.Int64Counter("refresh_skipped_total",
		metric.WithDescription("Background refresh runs skipped by gate")); err != nil {
		return err
	}
	if m.SyncMessages, err = m.meter.Int64Counter("sync_messages_total",
		metric.WithDescription("Cross-process sync messages by type and direction")); err != nil {
		return err
	}
	if m.LeaderState, err = m.meter.Int64Gauge("sync_leader",
		metric.WithDescription("1 when this process is the elected leader")); err != nil {
		return err
	}
	if m.QuotaUsagePercent, err = m.meter.Float64Gauge("quota_usage_percent",
		metric.WithDescription("Storage quota usage percentage")); err != nil {
		return err
	}
	if m.Errors, err = m.meter.Int64Counter("errors_total",
		metric.WithDescription("Errors by component")); err != nil {
		return err
	}

	return nil
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Enabled reports whether metric instruments were initialized.
func (m *Metrics) Enabled() bool {
	return m.CacheHits != nil
}

// RecordHit records a cache hit for the given layer ("memory" or "store").
func (m *Metrics) RecordHit(ctx context.Context, layer string) {
	if m.CacheHits != nil {
		m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
	}
}

// RecordMiss records a cache miss.
func (m *Metrics) RecordMiss(ctx context.Context) {
	if m.CacheMisses != nil {
		m.CacheMisses.Add(ctx, 1)
	}
}

// RecordInvalidation records an invalidation with its cause tag.
func (m *Metrics) RecordInvalidation(ctx context.Context, cause string) {
	if m.Invalidations != nil {
		m.Invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
	}
}

// RecordError records an error for a component.
func (m *Metrics) RecordError(ctx context.Context, component string) {
	if m.Errors != nil {
		m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
	}
}
