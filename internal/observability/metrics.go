package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics instruments the query pipeline: request outcomes, latency,
// cache effectiveness, and the protective rejections (firewall, admission)
// that operators alert on.
type QueryMetrics struct {
	queries             metric.Int64Counter
	errors              metric.Int64Counter
	duration            metric.Float64Histogram
	rowsReturned        metric.Int64Histogram
	cacheHits           metric.Int64Counter
	cacheMisses         metric.Int64Counter
	firewallRejections  metric.Int64Counter
	admissionRejections metric.Int64Counter
	replicaFallbacks    metric.Int64Counter
}

// NewQueryMetrics registers the pipeline instruments on the global meter
// provider.
func NewQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("llm-sql-skeleton/engine")
	m := &QueryMetrics{}

	var err error
	if m.queries, err = meter.Int64Counter("queries_total",
		metric.WithDescription("Queries processed, by intent and outcome")); err != nil {
		return nil, fmt.Errorf("creating queries counter: %w", err)
	}
	if m.errors, err = meter.Int64Counter("query_errors_total",
		metric.WithDescription("Queries that failed, by intent and error kind")); err != nil {
		return nil, fmt.Errorf("creating errors counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("query_duration_seconds",
		metric.WithDescription("End-to-end query pipeline duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	if m.rowsReturned, err = meter.Int64Histogram("query_rows_returned",
		metric.WithDescription("Rows returned per executed query")); err != nil {
		return nil, fmt.Errorf("creating rows histogram: %w", err)
	}
	if m.cacheHits, err = meter.Int64Counter("result_cache_hits_total",
		metric.WithDescription("Result cache hits")); err != nil {
		return nil, fmt.Errorf("creating cache hits counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64Counter("result_cache_misses_total",
		metric.WithDescription("Result cache misses")); err != nil {
		return nil, fmt.Errorf("creating cache misses counter: %w", err)
	}
	if m.firewallRejections, err = meter.Int64Counter("firewall_rejections_total",
		metric.WithDescription("Statements rejected by the SQL firewall, by rule")); err != nil {
		return nil, fmt.Errorf("creating firewall rejections counter: %w", err)
	}
	if m.admissionRejections, err = meter.Int64Counter("admission_rejections_total",
		metric.WithDescription("Statements rejected by the EXPLAIN admission gate")); err != nil {
		return nil, fmt.Errorf("creating admission rejections counter: %w", err)
	}
	if m.replicaFallbacks, err = meter.Int64Counter("replica_fallbacks_total",
		metric.WithDescription("Queries that fell back from the read replica to the primary")); err != nil {
		return nil, fmt.Errorf("creating replica fallbacks counter: %w", err)
	}
	return m, nil
}

func (m *QueryMetrics) RecordQuery(ctx context.Context, intentKey string, seconds float64, cacheHit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("intent", intentKey),
		attribute.Bool("cache_hit", cacheHit),
	)
	m.queries.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

func (m *QueryMetrics) RecordRows(ctx context.Context, intentKey string, rows int) {
	if m == nil {
		return
	}
	m.rowsReturned.Record(ctx, int64(rows), metric.WithAttributes(attribute.String("intent", intentKey)))
}

func (m *QueryMetrics) RecordError(ctx context.Context, intentKey, kind string) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intentKey),
		attribute.String("kind", kind),
	))
}

func (m *QueryMetrics) RecordCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Add(ctx, 1)
		return
	}
	m.cacheMisses.Add(ctx, 1)
}

func (m *QueryMetrics) RecordFirewallRejection(ctx context.Context, rule string) {
	if m == nil {
		return
	}
	m.firewallRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func (m *QueryMetrics) RecordAdmissionRejection(ctx context.Context, intentKey string) {
	if m == nil {
		return
	}
	m.admissionRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intentKey)))
}

func (m *QueryMetrics) RecordReplicaFallback(ctx context.Context, tenant string) {
	if m == nil {
		return
	}
	m.replicaFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}
