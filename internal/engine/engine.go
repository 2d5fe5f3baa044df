// Package engine orchestrates the query pipeline: compile, firewall, cache
// lookup, execution, masking, cache store. It owns no policy of its own;
// every decision is delegated to the component responsible for it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/compiler"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/executor"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/firewall"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/observability"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/period"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/redactor"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/resultcache"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/sqlutil"
)

// Request is one intent invocation.
type Request struct {
	Tenant string         `json:"tenant"`
	Intent string         `json:"intent"`
	Params map[string]any `json:"params"`
	// Period is a relative label (today, last_month, ...) resolved into the
	// period bound parameters when they are not supplied explicitly.
	Period string `json:"period,omitempty"`
	// Fields restricts the projection to a subset of the intent's logical
	// columns.
	Fields []string `json:"fields,omitempty"`
	// Limit overrides the row cap for this request.
	Limit int `json:"limit,omitempty"`
	// OrderDirection overrides the ordering direction (asc or desc).
	OrderDirection string `json:"order_direction,omitempty"`
	// Unbounded asks to skip the row cap; honored only when the intent
	// allows it.
	Unbounded bool `json:"unbounded,omitempty"`
	// DryRun stops after the firewall: the statement is compiled and
	// validated but never executed.
	DryRun bool `json:"dry_run,omitempty"`
}

// Response is the pipeline output. SQL and Args are always present; the
// result fields are populated only when the statement was executed (or served
// from cache).
type Response struct {
	Intent    string           `json:"intent"`
	SQL       string           `json:"sql"`
	Args      []any            `json:"args"`
	Executed  bool             `json:"executed"`
	CacheHit  bool             `json:"cache_hit,omitempty"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      [][]any          `json:"rows,omitempty"`
	Records   []map[string]any `json:"records,omitempty"`
	RowCount  int              `json:"row_count"`
	TotalRows int              `json:"total_rows,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

// ErrUnknownTenant reports a request for a tenant with no configured store.
type ErrUnknownTenant struct {
	Tenant string
}

func (e *ErrUnknownTenant) Error() string {
	return fmt.Sprintf("unknown tenant %q", e.Tenant)
}

// cachedResult is the payload stored in the result cache: masked and bounded,
// safe to serve verbatim.
type cachedResult struct {
	Columns   []string
	Rows      [][]any
	Records   []map[string]any
	RowCount  int
	TotalRows int
	Truncated bool
}

// Engine wires the pipeline components together.
type Engine struct {
	catalog   *intent.Catalog
	domains   intent.Domains
	firewall  *firewall.Firewall
	cache     *resultcache.Cache
	executors map[string]*executor.Executor
	logger    *slog.Logger
	metrics   *observability.QueryMetrics
	now       func() time.Time
}

// New assembles an engine. executors maps tenant names to their store
// executors; metrics may be nil in tests.
func New(
	catalog *intent.Catalog,
	domains intent.Domains,
	fw *firewall.Firewall,
	cache *resultcache.Cache,
	executors map[string]*executor.Executor,
	logger *slog.Logger,
	metrics *observability.QueryMetrics,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		catalog:   catalog,
		domains:   domains,
		firewall:  fw,
		cache:     cache,
		executors: executors,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Catalog exposes the intent catalog for listing endpoints.
func (e *Engine) Catalog() *intent.Catalog { return e.catalog }

// Query runs the full pipeline for one request.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	started := e.now()

	resp, err := e.query(ctx, req)
	elapsed := e.now().Sub(started).Seconds()

	if err != nil {
		e.metrics.RecordError(ctx, req.Intent, errorKind(err))
		e.logger.ErrorContext(ctx, "query failed",
			slog.String("tenant", req.Tenant),
			slog.String("intent", req.Intent),
			slog.String("kind", errorKind(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	e.metrics.RecordQuery(ctx, req.Intent, elapsed, resp.CacheHit)
	if resp.Executed {
		e.metrics.RecordRows(ctx, req.Intent, resp.RowCount)
	}
	e.logger.InfoContext(ctx, "query served",
		slog.String("tenant", req.Tenant),
		slog.String("intent", req.Intent),
		slog.String("sql_digest", sqlutil.Digest(resp.SQL)),
		slog.Int("rows", resp.RowCount),
		slog.Bool("cache_hit", resp.CacheHit),
		slog.Bool("executed", resp.Executed),
		slog.Duration("elapsed", e.now().Sub(started)),
	)
	return resp, nil
}

func (e *Engine) query(ctx context.Context, req Request) (*Response, error) {
	spec, ok := e.catalog.Get(req.Intent)
	if !ok {
		return nil, &intent.ErrUnknownIntent{Intent: req.Intent, Known: e.catalog.Keys()}
	}

	params, err := e.resolveParams(req)
	if err != nil {
		return nil, err
	}

	q, err := compiler.Compile(spec, params, compiler.Options{
		Fields:    req.Fields,
		Limit:     req.Limit,
		Direction: req.OrderDirection,
		Unbounded: req.Unbounded,
	}, e.domains)
	if err != nil {
		return nil, err
	}

	rowSet := q.Shape == intent.ShapeRows && spec.RequireLimit() &&
		!(req.Unbounded && spec.Rules.AllowUnbounded)
	if err := e.firewall.Check(q.SQL, rowSet); err != nil {
		var violation *firewall.Violation
		if errors.As(err, &violation) {
			e.metrics.RecordFirewallRejection(ctx, violation.Rule)
		}
		return nil, err
	}

	resp := &Response{Intent: req.Intent, SQL: q.SQL, Args: q.Args}
	if req.DryRun {
		return resp, nil
	}

	key := resultcache.Key(req.Tenant, q.SQL, q.Args)
	if cached, ok := e.cache.Get(key); ok {
		e.metrics.RecordCache(ctx, true)
		if payload, ok := cached.(*cachedResult); ok {
			fillResponse(resp, payload)
			resp.Executed = true
			resp.CacheHit = true
			return resp, nil
		}
	}
	e.metrics.RecordCache(ctx, false)

	exec, ok := e.executors[req.Tenant]
	if !ok {
		return nil, &ErrUnknownTenant{Tenant: req.Tenant}
	}

	result, err := exec.Run(ctx, q)
	if err != nil {
		var admission *executor.AdmissionError
		if errors.As(err, &admission) {
			e.metrics.RecordAdmissionRejection(ctx, req.Intent)
		}
		return nil, err
	}

	records, rows := redactor.Apply(result.Columns, result.Records, spec.Masking)
	payload := &cachedResult{
		Columns:   result.Columns,
		Rows:      rows,
		Records:   records,
		RowCount:  result.RowCount,
		TotalRows: result.TotalRows,
		Truncated: result.Truncated,
	}
	e.cache.Set(key, payload)

	fillResponse(resp, payload)
	resp.Executed = true
	return resp, nil
}

// resolveParams copies the request parameters and materializes a relative
// period label into the period bound parameters. Explicit bounds win over the
// label.
func (e *Engine) resolveParams(req Request) (map[string]any, error) {
	params := make(map[string]any, len(req.Params)+2)
	for k, v := range req.Params {
		params[k] = v
	}
	if req.Period == "" {
		return params, nil
	}
	_, hasStart := params[compiler.ParamPeriodStart]
	_, hasEnd := params[compiler.ParamPeriodEnd]
	if hasStart || hasEnd {
		return params, nil
	}

	r, err := period.Resolve(req.Period, e.now())
	if err != nil {
		return nil, &compiler.SelectionError{
			Intent:  req.Intent,
			Kind:    compiler.SelectionFilters,
			Invalid: []string{req.Period},
			Allowed: period.Labels(),
		}
	}
	params[compiler.ParamPeriodStart] = r.Start
	params[compiler.ParamPeriodEnd] = r.End
	return params, nil
}

func fillResponse(resp *Response, payload *cachedResult) {
	resp.Columns = payload.Columns
	resp.Rows = payload.Rows
	resp.Records = payload.Records
	resp.RowCount = payload.RowCount
	resp.TotalRows = payload.TotalRows
	resp.Truncated = payload.Truncated
}

// errorKind labels an error for metrics and logs without losing its type.
func errorKind(err error) string {
	var (
		cfgErr    *intent.ConfigError
		unknown   *intent.ErrUnknownIntent
		selErr    *compiler.SelectionError
		violation *firewall.Violation
		admission *executor.AdmissionError
		conn      *executor.ConnectivityError
		tenant    *ErrUnknownTenant
	)
	switch {
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &unknown):
		return "unknown_intent"
	case errors.As(err, &selErr):
		return "selection"
	case errors.As(err, &violation):
		return "firewall"
	case errors.As(err, &admission):
		return "admission"
	case errors.As(err, &conn):
		return "connectivity"
	case errors.As(err, &tenant):
		return "unknown_tenant"
	default:
		return "internal"
	}
}
