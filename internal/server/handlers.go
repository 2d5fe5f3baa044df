package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/compiler"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/engine"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/executor"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/firewall"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/logging"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/schemaguard"
)

// maxQueryBodyBytes bounds the request body; intent invocations are small.
const maxQueryBodyBytes = 1 << 20

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Selection rejections carry the offending names and the allowed set so
	// callers can self-correct.
	Invalid []string `json:"invalid,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
	Known   []string `json:"known_intents,omitempty"`
	// Admission rejections carry the plan estimate that broke the threshold.
	ScanRows  int64 `json:"scan_rows,omitempty"`
	Threshold int64 `json:"threshold,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// classify maps pipeline errors onto HTTP statuses: caller mistakes are 4xx,
// policy rejections the caller can narrow away are 422, anything pointing at
// the service or the store is 5xx with a generic message.
func classify(err error) (int, errorBody) {
	var (
		selErr    *compiler.SelectionError
		unknown   *intent.ErrUnknownIntent
		tenant    *engine.ErrUnknownTenant
		admission *executor.AdmissionError
		violation *firewall.Violation
		cfgErr    *intent.ConfigError
		mismatch  *schemaguard.Mismatch
		conn      *executor.ConnectivityError
	)
	switch {
	case errors.As(err, &selErr):
		return http.StatusBadRequest, errorBody{
			Kind:    "selection",
			Message: selErr.Error(),
			Invalid: selErr.Invalid,
			Allowed: selErr.Allowed,
		}
	case errors.As(err, &unknown):
		return http.StatusNotFound, errorBody{
			Kind:    "unknown_intent",
			Message: unknown.Error(),
			Known:   unknown.Known,
		}
	case errors.As(err, &tenant):
		return http.StatusNotFound, errorBody{Kind: "unknown_tenant", Message: tenant.Error()}
	case errors.As(err, &admission):
		return http.StatusUnprocessableEntity, errorBody{
			Kind:      "admission",
			Message:   admission.Error(),
			ScanRows:  admission.ScanRows,
			Threshold: admission.Threshold,
		}
	case errors.As(err, &violation):
		return http.StatusInternalServerError, errorBody{Kind: "firewall", Message: "internal error"}
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, errorBody{Kind: "config", Message: "internal error"}
	case errors.As(err, &mismatch):
		return http.StatusInternalServerError, errorBody{Kind: "schema", Message: "internal error"}
	case errors.As(err, &conn):
		return http.StatusServiceUnavailable, errorBody{Kind: "connectivity", Message: "store unavailable"}
	default:
		return http.StatusInternalServerError, errorBody{Kind: "internal", Message: "internal error"}
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{errorBody{Kind: "method", Message: "method not allowed"}})
		return
	}

	var req engine.Request
	body := http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{errorBody{Kind: "decode", Message: fmt.Sprintf("invalid request body: %v", err)}})
		return
	}
	if req.Intent == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{errorBody{Kind: "decode", Message: "intent is required"}})
		return
	}
	if req.Tenant == "" {
		req.Tenant = "default"
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := s.engine.Query(ctx, req)
	if err != nil {
		status, payload := classify(err)
		writeJSON(w, status, errorResponse{payload})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type intentSummary struct {
	Key            string   `json:"key"`
	Returns        string   `json:"returns"`
	Columns        []string `json:"columns"`
	Params         []string `json:"params,omitempty"`
	DefaultLimit   int      `json:"default_limit,omitempty"`
	AllowUnbounded bool     `json:"allow_unbounded,omitempty"`
	Masked         []string `json:"masked,omitempty"`
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{errorBody{Kind: "method", Message: "method not allowed"}})
		return
	}

	out := make([]intentSummary, 0, s.engine.Catalog().Len())
	s.engine.Catalog().Each(func(key string, spec *intent.Spec) {
		out = append(out, summarizeIntent(key, spec))
	})

	writeJSON(w, http.StatusOK, map[string]any{"intents": out})
}

func summarizeIntent(key string, spec *intent.Spec) intentSummary {
	item := intentSummary{
		Key:            key,
		Returns:        string(spec.EffectiveShape()),
		Columns:        sortedKeys(spec.Columns),
		Params:         intentParams(spec),
		AllowUnbounded: spec.Rules.AllowUnbounded,
		Masked:         sortedKeys(spec.Masking),
	}
	if spec.EffectiveShape() == intent.ShapeRows {
		item.DefaultLimit = spec.DefaultLimit()
	}
	return item
}

// intentParams lists every parameter name the intent accepts, sorted.
func intentParams(spec *intent.Spec) []string {
	names := make(map[string]struct{})
	for name := range spec.Filters.Equals {
		names[name] = struct{}{}
	}
	for name := range spec.Filters.Like {
		names[name] = struct{}{}
	}
	for name := range spec.Filters.In {
		names[name] = struct{}{}
	}
	if spec.Filters.PeriodColumn != "" {
		names[compiler.ParamPeriodStart] = struct{}{}
		names[compiler.ParamPeriodEnd] = struct{}{}
	}
	if spec.EffectiveShape() == intent.ShapeRows {
		names[compiler.ParamRowCount] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type tenantCheck struct {
	OK       bool                 `json:"ok"`
	Summary  *schemaguard.Summary `json:"summary,omitempty"`
	Errors   []string             `json:"errors,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

// handleSchemaCheck re-runs the startup schema check on demand, per tenant.
// Mismatches are reported in the body, not as an HTTP error: the check ran.
func (s *Server) handleSchemaCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{errorBody{Kind: "method", Message: "method not allowed"}})
		return
	}

	reqLogger := logging.FromContext(r.Context())
	only := r.URL.Query().Get("tenant")

	results := make(map[string]tenantCheck)
	allOK := true
	for name, tenant := range s.tenants {
		if only != "" && name != only {
			continue
		}
		if tenant.DB == nil || tenant.Schema == "" {
			continue
		}

		snapshot, err := schemaguard.LoadSnapshot(r.Context(), tenant.DB, tenant.Schema)
		if err != nil {
			reqLogger.Error("schema snapshot failed",
				slog.String("tenant", name),
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{errorBody{Kind: "connectivity", Message: "store unavailable"}})
			return
		}

		summary, err := schemaguard.CheckCatalog(s.engine.Catalog(), snapshot)
		if err != nil {
			var mismatch *schemaguard.Mismatch
			if !errors.As(err, &mismatch) {
				writeJSON(w, http.StatusInternalServerError, errorResponse{errorBody{Kind: "internal", Message: "internal error"}})
				return
			}
			allOK = false
			results[name] = tenantCheck{OK: false, Errors: mismatch.Errors, Warnings: mismatch.Warnings}
			continue
		}
		results[name] = tenantCheck{OK: true, Summary: &summary}
	}

	if only != "" && len(results) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{errorBody{Kind: "unknown_tenant", Message: fmt.Sprintf("unknown tenant %q", only)}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": allOK, "tenants": results})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqLogger := logging.FromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")

	timeout := s.cfg.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for name, tenant := range s.tenants {
		if tenant.DB == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		err := tenant.DB.PingContext(ctx)
		cancel()
		if err != nil {
			reqLogger.Error("health check failed",
				slog.String("tenant", name),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","store":"failed"}`)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, `{"status":"healthy","store":"ok"}`)
}
