package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MaterializeMetrics holds custom metrics for statement execution and result materialization
type MaterializeMetrics struct {
	queryDuration       metric.Float64Histogram
	queryCounter        metric.Int64Counter
	errorCounter        metric.Int64Counter
	rowsScanned         metric.Int64Counter
	objectsMaterialized metric.Int64Counter
	nestedCacheHits     metric.Int64Counter
	localCacheHits      metric.Int64Counter
	deferredLoads       metric.Int64Counter
	lazyLoads           metric.Int64Counter
	freshLazyContexts   metric.Int64Counter
	cursorFetches       metric.Int64Counter
	resultsCount        metric.Int64Histogram
}

// InitMaterializeMetrics initializes engine metrics on the global meter provider
func InitMaterializeMetrics() (*MaterializeMetrics, error) {
	meter := otel.Meter("rowgraph")

	queryDuration, err := meter.Float64Histogram(
		"rowgraph.query.duration",
		metric.WithDescription("Duration of statement execution including materialization in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"rowgraph.queries.total",
		metric.WithDescription("Total number of statements executed against the database"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"rowgraph.errors.total",
		metric.WithDescription("Total number of failed statement executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	rowsScanned, err := meter.Int64Counter(
		"rowgraph.rows.scanned",
		metric.WithDescription("Number of source rows read by the materializer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows scanned counter: %w", err)
	}

	objectsMaterialized, err := meter.Int64Counter(
		"rowgraph.objects.materialized",
		metric.WithDescription("Number of top-level objects delivered"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create objects materialized counter: %w", err)
	}

	nestedCacheHits, err := meter.Int64Counter(
		"rowgraph.nested.cache_hits",
		metric.WithDescription("Number of rows merged into an already materialized nested object"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nested cache hits counter: %w", err)
	}

	localCacheHits, err := meter.Int64Counter(
		"rowgraph.local_cache.hits",
		metric.WithDescription("Number of statements answered from the session cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache hits counter: %w", err)
	}

	deferredLoads, err := meter.Int64Counter(
		"rowgraph.deferred_loads",
		metric.WithDescription("Number of nested query values deferred until the outer query completes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deferred loads counter: %w", err)
	}

	lazyLoads, err := meter.Int64Counter(
		"rowgraph.lazy.loads",
		metric.WithDescription("Number of lazy values resolved"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lazy loads counter: %w", err)
	}

	freshLazyContexts, err := meter.Int64Counter(
		"rowgraph.lazy.fresh_contexts",
		metric.WithDescription("Number of lazy loads that opened a fresh session"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fresh lazy contexts counter: %w", err)
	}

	cursorFetches, err := meter.Int64Counter(
		"rowgraph.cursor.fetches",
		metric.WithDescription("Number of objects fetched through streaming cursors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor fetches counter: %w", err)
	}

	resultsCount, err := meter.Int64Histogram(
		"rowgraph.results.count",
		metric.WithDescription("Number of objects returned by a statement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}

	return &MaterializeMetrics{
		queryDuration:       queryDuration,
		queryCounter:        queryCounter,
		errorCounter:        errorCounter,
		rowsScanned:         rowsScanned,
		objectsMaterialized: objectsMaterialized,
		nestedCacheHits:     nestedCacheHits,
		localCacheHits:      localCacheHits,
		deferredLoads:       deferredLoads,
		lazyLoads:           lazyLoads,
		freshLazyContexts:   freshLazyContexts,
		cursorFetches:       cursorFetches,
		resultsCount:        resultsCount,
	}, nil
}

// RecordQuery records one statement execution with its duration and outcome
func (m *MaterializeMetrics) RecordQuery(ctx context.Context, statementID string, duration time.Duration, failed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("statement", statementID),
		attribute.Bool("has_errors", failed),
	}

	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if failed {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("statement", statementID),
		))
	}
}

// RecordResultsCount records the number of objects a statement produced
func (m *MaterializeMetrics) RecordResultsCount(ctx context.Context, count int64, statementID string) {
	m.resultsCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("statement", statementID),
	))
}

func (m *MaterializeMetrics) RecordRowScanned(ctx context.Context, descriptorID string) {
	m.rowsScanned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("descriptor", descriptorID),
	))
}

func (m *MaterializeMetrics) RecordObjectMaterialized(ctx context.Context, descriptorID string) {
	m.objectsMaterialized.Add(ctx, 1, metric.WithAttributes(
		attribute.String("descriptor", descriptorID),
	))
}

func (m *MaterializeMetrics) RecordNestedCacheHit(ctx context.Context, descriptorID string) {
	m.nestedCacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("descriptor", descriptorID),
	))
}

func (m *MaterializeMetrics) RecordLocalCacheHit(ctx context.Context, statementID string) {
	m.localCacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("statement", statementID),
	))
}

func (m *MaterializeMetrics) RecordDeferredLoad(ctx context.Context, statementID string) {
	m.deferredLoads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("statement", statementID),
	))
}

func (m *MaterializeMetrics) RecordLazyLoad(ctx context.Context, statementID string, fresh bool) {
	m.lazyLoads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("statement", statementID),
	))
	if fresh {
		m.freshLazyContexts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("statement", statementID),
		))
	}
}

func (m *MaterializeMetrics) RecordCursorFetch(ctx context.Context, statementID string) {
	m.cursorFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("statement", statementID),
	))
}
