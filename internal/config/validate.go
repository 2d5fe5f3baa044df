package config

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation
// results, both fatal errors and non-fatal warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.validateTenants(result)
	c.Server.validate(result)
	c.validateEngine(result)
	c.validateCache(result)
	c.validateIntents(result)
	c.Observability.validate(result)

	return result
}

func (c *Config) validateTenants(result *ValidationResult) {
	tenants := c.EffectiveTenants()
	for name, tenant := range tenants {
		field := fmt.Sprintf("tenants.%s", name)
		if strings.TrimSpace(tenant.DSN) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".dsn",
				Message: "tenant has no DSN",
				Hint:    "set tenants.<name>.dsn or the database block for the default tenant",
			})
			continue
		}
		if _, err := mysql.ParseDSN(tenant.DSN); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".dsn",
				Message: fmt.Sprintf("invalid DSN: %v", err),
				Hint:    "expected user:pass@tcp(host:port)/database",
			})
		}
		if tenant.ReadReplicaDSN != "" {
			if _, err := mysql.ParseDSN(tenant.ReadReplicaDSN); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field + ".read_replica_dsn",
					Message: fmt.Sprintf("invalid DSN: %v", err),
				})
			}
		} else {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   field,
				Message: "no read replica configured; every query hits the primary",
			})
		}
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}
	if s.RequestTimeout <= 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.request_timeout",
			Message: "no per-query timeout; a slow store round trip can hold a handler indefinitely",
			Hint:    "set server.request_timeout",
		})
	}
}

func (c *Config) validateEngine(result *ValidationResult) {
	if c.Engine.MaxExecutionTimeMS < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.max_execution_time_ms",
			Message: "hint must not be negative",
		})
	}
	if c.Engine.RowCapCeiling < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.row_cap_ceiling",
			Message: "ceiling must not be negative",
		})
	}
	if c.Engine.RowCapCeiling == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "engine.row_cap_ceiling",
			Message: "no global row cap; per-intent limits are the only bound",
		})
	}
	if c.Engine.Admission.Enabled && c.Engine.Admission.MaxScanRows <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.admission.max_scan_rows",
			Message: "admission gate is enabled but the scan threshold is not positive",
		})
	}
}

func (c *Config) validateCache(result *ValidationResult) {
	if c.Cache.TTL < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "cache.ttl",
			Message: "TTL must not be negative",
		})
	}
	if c.Cache.MaxItems < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "cache.max_items",
			Message: "capacity must not be negative",
		})
	}
	if c.Cache.TTL == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "cache.ttl",
			Message: "result caching is disabled",
		})
	}
}

func (c *Config) validateIntents(result *ValidationResult) {
	if strings.TrimSpace(c.Intents.Dir) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "intents.dir",
			Message: "no intent directory configured",
			Hint:    "set intents.dir to the directory holding the YAML intent files",
		})
	}
	if !c.Intents.SchemaCheckEnabled {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "intents.schema_check_enabled",
			Message: "startup schema check is disabled; intents referencing missing store objects will fail at request time",
		})
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("ratio %v is out of range (0.0-1.0)", o.TraceSampleRatio),
		})
	}
	switch o.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("unknown level %q", o.Logging.Level),
			Hint:    "use debug, info, warn, or error",
		})
	}
	switch o.Logging.Format {
	case "", "json", "text":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("unknown format %q", o.Logging.Format),
			Hint:    "use json or text",
		})
	}
	if o.TracingEnabled && o.OTLP.Endpoint == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.otlp.endpoint",
			Message: "tracing is enabled but no OTLP endpoint is configured",
		})
	}
}
