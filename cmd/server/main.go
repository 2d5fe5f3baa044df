package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/config"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/dbexec"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/engine"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/executor"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/firewall"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/intent"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/logging"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/observability"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/resultcache"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/schemaguard"
	"github.com/ferdnandolima/llm-sql-skeleton/internal/server"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("llm-sql-skeleton %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
	}()

	meterProvider, metrics, err := initMetrics(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		defer func() { _ = meterProvider.Shutdown(context.Background(), logger.Logger) }()
	}

	tracerProvider, err := initTracing(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		defer func() { _ = tracerProvider.Shutdown(context.Background(), logger.Logger) }()
	}

	catalog, err := intent.LoadDir(cfg.Intents.Dir)
	if err != nil {
		return fmt.Errorf("failed to load intent catalog: %w", err)
	}
	domains, err := intent.LoadDomains(cfg.Intents.Dir)
	if err != nil {
		return fmt.Errorf("failed to load domain tables: %w", err)
	}
	logger.Info("intent catalog loaded",
		slog.Int("intents", catalog.Len()),
		slog.Int("domains", len(domains)),
		slog.String("dir", cfg.Intents.Dir),
	)

	executors, tenants, closeStores, err := openTenantStores(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer closeStores()

	if cfg.Intents.SchemaCheckEnabled {
		if err := checkSchemas(context.Background(), logger, catalog, tenants); err != nil {
			return err
		}
	}

	eng := engine.New(
		catalog,
		domains,
		firewall.New(cfg.Firewall),
		resultcache.New(cfg.Cache.MaxItems, cfg.Cache.TTL),
		executors,
		logger.Logger,
		metrics,
	)

	srv := server.New(cfg.Server, cfg.Observability, eng, tenants, logger)
	serverErrors := srv.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = err
	case sig := <-stop:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	}

	logger.Info("shutting down server gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	shutdownErr := srv.Shutdown(shutdownCtx)
	shutdownCancel()

	if runErr != nil {
		return runErr
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	logger.Info("server stopped gracefully")
	return nil
}

func initLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
	)

	loggerProvider, err := observability.InitLoggerProvider(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}

	metrics, err := observability.NewQueryMetrics()
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service_name", cfg.Observability.ServiceName),
	)
	return meterProvider, metrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
	)

	tracerProvider, err := observability.InitTracerProvider(cfg.Observability)
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized")
	return tracerProvider, nil
}

// openTenantStores opens primary and optional replica handles per tenant and
// builds the engine executors around them. The returned cleanup closes every
// opened handle; it is safe to call after a partial failure.
func openTenantStores(
	cfg *config.Config,
	logger *logging.Logger,
	metrics *observability.QueryMetrics,
) (map[string]*executor.Executor, map[string]server.Tenant, func(), error) {
	instrument := cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled

	executors := make(map[string]*executor.Executor)
	tenants := make(map[string]server.Tenant)
	var opened []*sql.DB
	closeAll := func() {
		for _, db := range opened {
			_ = db.Close()
		}
	}

	for name, tenant := range cfg.EffectiveTenants() {
		primary, err := openStore(cfg, tenant.PrimaryDSN(), instrument)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("tenant %q: failed to open store: %w", name, err)
		}
		opened = append(opened, primary)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectionTimeout)
		err = primary.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("tenant %q: store unreachable: %w", name, err)
		}

		var replica *sql.DB
		if dsn := tenant.ReplicaDSN(); dsn != "" {
			replica, err = openStore(cfg, dsn, instrument)
			if err != nil {
				closeAll()
				return nil, nil, nil, fmt.Errorf("tenant %q: failed to open read replica: %w", name, err)
			}
			opened = append(opened, replica)
		}

		failover := dbexec.NewFailoverExecutor(primary, replica)
		tenantName := name
		failover.OnFallback = func(err error) {
			metrics.RecordReplicaFallback(context.Background(), tenantName)
			logger.Warn("read replica failed, falling back to primary",
				slog.String("tenant", tenantName),
				slog.String("error", err.Error()),
			)
		}
		executors[name] = executor.New(failover, cfg.Engine)

		schema := tenant.Schema
		if schema == "" {
			schema, err = config.SchemaName(tenant.PrimaryDSN())
			if err != nil {
				closeAll()
				return nil, nil, nil, fmt.Errorf("tenant %q: %w", name, err)
			}
		}
		tenants[name] = server.Tenant{DB: primary, Schema: schema}

		logger.Info("tenant store connected",
			slog.String("tenant", name),
			slog.String("schema", schema),
			slog.Bool("replica", replica != nil),
		)
	}

	return executors, tenants, closeAll, nil
}

func openStore(cfg *config.Config, dsn string, instrument bool) (*sql.DB, error) {
	var db *sql.DB
	var err error
	if instrument {
		db, err = otelsql.Open("mysql", dsn, otelsql.WithAttributes(semconv.DBSystemMySQL))
	} else {
		db, err = sql.Open("mysql", dsn)
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)
	return db, nil
}

// checkSchemas refuses to serve when any intent references a store object a
// tenant does not have. Warnings are logged and tolerated.
func checkSchemas(ctx context.Context, logger *logging.Logger, catalog *intent.Catalog, tenants map[string]server.Tenant) error {
	for name, tenant := range tenants {
		if tenant.Schema == "" {
			logger.Warn("tenant has no schema name, skipping schema check", slog.String("tenant", name))
			continue
		}

		snapshot, err := schemaguard.LoadSnapshot(ctx, tenant.DB, tenant.Schema)
		if err != nil {
			return fmt.Errorf("tenant %q: failed to snapshot schema: %w", name, err)
		}

		summary, err := schemaguard.CheckCatalog(catalog, snapshot)
		if err != nil {
			return fmt.Errorf("tenant %q: %w", name, err)
		}

		for _, warning := range summary.Warnings {
			logger.Warn("schema check warning",
				slog.String("tenant", name),
				slog.String("warning", warning),
			)
		}
		logger.Info("schema check passed",
			slog.String("tenant", name),
			slog.Int("tables", summary.Tables),
			slog.Int("intents_checked", summary.IntentsChecked),
		)
	}
	return nil
}
