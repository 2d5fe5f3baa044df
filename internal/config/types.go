package config

import (
	"time"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/executor"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/firewall"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig          `mapstructure:"database"`
	Tenants       map[string]TenantConfig `mapstructure:"tenants"`
	Server        ServerConfig            `mapstructure:"server"`
	Engine        executor.Config         `mapstructure:"engine"`
	Cache         CacheConfig             `mapstructure:"cache"`
	Firewall      firewall.Config         `mapstructure:"firewall"`
	Intents       IntentsConfig           `mapstructure:"intents"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
}

// TenantConfig names the store targets for one tenant. The replica DSN is
// optional; when present it is tried first on every query.
type TenantConfig struct {
	DSN            string `mapstructure:"dsn"`
	ReadReplicaDSN string `mapstructure:"read_replica_dsn"`
	// Schema overrides the schema name used for the startup metadata check.
	// Empty uses the DSN's database.
	Schema string `mapstructure:"schema"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds the default store connection. It backs the implicit
// "default" tenant when no tenants block is configured.
type DatabaseConfig struct {
	// ConnectionString is a complete go-sql-driver/mysql Data Source Name.
	// When set, overrides Host/Port/User/Password/Database fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN (for
	// secrets management). Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	// ReadReplicaDSN, when set, is tried before the primary on every query.
	ReadReplicaDSN string `mapstructure:"read_replica_dsn"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the store on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	// TTL is how long a cached result may be served. Zero disables caching.
	TTL      time.Duration `mapstructure:"ttl"`
	MaxItems int           `mapstructure:"max_items"`
}

// IntentsConfig locates the intent catalog.
type IntentsConfig struct {
	// Dir holds the YAML intent files loaded at startup.
	Dir string `mapstructure:"dir"`
	// SchemaCheckEnabled runs the schema guard on startup and refuses to
	// serve when any intent references a missing store object.
	SchemaCheckEnabled bool `mapstructure:"schema_check_enabled"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds one query pipeline end to end, spanning the
	// admission round trip and both failover targets.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// HealthCheckTimeout bounds the store ping behind /healthz.
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`
	OTLP             OTLPConfig    `mapstructure:"otlp"`
}

// OTLPConfig holds OTLP exporter configuration, shared by traces and logs.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
}

// EffectiveTenants returns the configured tenants, or an implicit "default"
// tenant built from the database block when none are configured.
func (c *Config) EffectiveTenants() map[string]TenantConfig {
	if len(c.Tenants) > 0 {
		return c.Tenants
	}
	return map[string]TenantConfig{
		"default": {
			DSN:            c.Database.DSN(),
			ReadReplicaDSN: c.Database.ReadReplicaDSN,
		},
	}
}
