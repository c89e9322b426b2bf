package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip"
	auditpg "3tcapital/ms_facturacion_afip/internal/adapters/audit/postgres"
	fiscalpg "3tcapital/ms_facturacion_afip/internal/adapters/fiscal/postgres"
	authorizationhttp "3tcapital/ms_facturacion_afip/internal/adapters/http/authorization"
	credentialshttp "3tcapital/ms_facturacion_afip/internal/adapters/http/credentials"
	healthhttp "3tcapital/ms_facturacion_afip/internal/adapters/http/health"
	salespointhttp "3tcapital/ms_facturacion_afip/internal/adapters/http/salespoint"
	"3tcapital/ms_facturacion_afip/internal/application/authorization"
	"3tcapital/ms_facturacion_afip/internal/application/compliance"
	"3tcapital/ms_facturacion_afip/internal/application/health"
	"3tcapital/ms_facturacion_afip/internal/application/salespoint"
	"3tcapital/ms_facturacion_afip/internal/application/ticket"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/database"
	httpinfra "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/http/server"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/lock"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/logger"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/security"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Error("Failed to connect to database",
			"error", err,
			"host", cfg.Database.Host,
			"database", cfg.Database.Database,
			"user", cfg.Database.User,
			"password_set", cfg.Database.Password != "")
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info("Database connection established", "database", cfg.Database.Database)

	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(pool, log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	sealer, err := newSealer(cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New(metrics.Config{ServiceName: cfg.App.Name, Environment: cfg.App.Environment})

	auditRepo := auditpg.NewRepositoryWithLogger(pool, log)
	if cfg.Audit.Enabled {
		log.Info("Audit trail configuration: ENABLED",
			"max_body_size", cfg.Audit.MaxBodySize,
			"log_request_body", cfg.Audit.LogRequestBody,
			"log_response_body", cfg.Audit.LogResponseBody,
		)
	} else {
		log.Info("Audit trail configuration: DISABLED - Audit not enabled in configuration")
	}

	maxConnsPerHost := cfg.AFIP.MaxConcurrent
	if maxConnsPerHost > 100 {
		maxConnsPerHost = 100
	}
	tracedClient := httpinfra.NewTracedClient(&httpinfra.TracedClientConfig{
		Timeout:         cfg.AFIP.RequestTimeout,
		AuditEnabled:    cfg.Audit.Enabled,
		LogRequestBody:  cfg.Audit.LogRequestBody,
		LogResponseBody: cfg.Audit.LogResponseBody,
		MaxBodySize:     cfg.Audit.MaxBodySize,
		MaxConnsPerHost: maxConnsPerHost,
	}, log, auditRepo, "afip")
	defer tracedClient.Flush()

	breaker := afip.NewCircuitBreaker(cfg.AFIP.BreakerMaxFailures, cfg.AFIP.BreakerCooldown)
	breaker.OnStateChange(func(state afip.BreakerState) {
		m.SetBreakerState("afip", int(state))
		log.Warn("AFIP circuit breaker transition", "state", state.String())
	})

	afipOpts := afip.Options{
		Directory:     directory(cfg.AFIP),
		HTTPClient:    tracedClient,
		Breaker:       breaker,
		Limiter:       afip.NewRequestLimiter(cfg.AFIP.MaxConcurrent, cfg.AFIP.RateLimitRPS),
		Observer:      m,
		Logger:        log,
		SubmitTimeout: cfg.AFIP.SubmitTimeout,
	}
	loginClient := afip.NewLoginClient(afipOpts)
	invoiceClient := afip.NewInvoiceClient(afipOpts)
	log.Info("AFIP clients configured",
		"max_concurrent", cfg.AFIP.MaxConcurrent,
		"rate_limit_rps", cfg.AFIP.RateLimitRPS,
		"submit_timeout", cfg.AFIP.SubmitTimeout,
	)

	checks := []health.Check{{
		Name:     "postgres",
		Critical: true,
		Probe:    func(ctx context.Context) error { return pool.Ping(ctx) },
	}}

	var rdb *redis.Client
	if cfg.Lock.Backend == config.LockBackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		checks = append(checks, health.Check{
			Name:     "redis",
			Critical: true,
			Probe:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	locker := newLocker(cfg, pool, rdb, log)
	locker = lock.Observed(locker, cfg.Lock.Backend, m)

	configs := fiscalpg.NewConfigStore(pool, sealer, log)
	salesPoints := fiscalpg.NewSalesPointRegistry(pool, log)
	documents := fiscalpg.NewDocumentRepository(pool, log)

	authority := ticket.NewAuthority(configs, loginClient, m, log)
	salesPointService := salespoint.NewService(salesPoints, configs, authority, invoiceClient, log)
	authorizationService := authorization.NewService(authorization.Deps{
		Configs:     configs,
		SalesPoints: salesPoints,
		Documents:   documents,
		Tickets:     authority,
		Authority:   invoiceClient,
		Recorder:    compliance.NewRecorder(documents, log),
		Locker:      locker,
		Observer:    m,
	}, log)
	healthService := health.NewService(health.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, checks, invoiceClient, configs)

	opts := server.Options{
		Config:         cfg,
		Logger:         log,
		HealthHandler:  healthhttp.NewHandler(healthService, log),
		Credentials:    credentialshttp.NewHandler(authority, log),
		SalesPoints:    salespointhttp.NewHandler(salesPointService, log),
		Authorizations: authorizationhttp.NewHandler(authorizationService, log),
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = m.Handler()
	}

	srv, err := server.New(opts)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	log.Info("Starting HTTP server", "port", cfg.HTTP.Port, "lock_backend", cfg.Lock.Backend)
	return srv.Run(ctx)
}

// directory applies the configured endpoint overrides to the built-in AFIP URLs.
func directory(cfg config.AFIPSettings) afip.Directory {
	return afip.DefaultDirectory().
		WithOverrides(fiscal.EnvironmentTest, afip.Endpoints{WSAA: cfg.TestWSAAURL, WSFE: cfg.TestWSFEURL}).
		WithOverrides(fiscal.EnvironmentProd, afip.Endpoints{WSAA: cfg.ProdWSAAURL, WSFE: cfg.ProdWSFEURL})
}

// newSealer requires SECRETS_KEY outside local runs. Locally an ephemeral key is
// generated, so stored credentials do not survive a restart.
func newSealer(cfg config.AppConfig, log *slog.Logger) (*security.Sealer, error) {
	key := cfg.Secrets.Key
	if len(key) == 0 {
		if cfg.App.Environment != "local" {
			return nil, fmt.Errorf("invalid config: SECRETS_KEY is required when APP_ENV=%s", cfg.App.Environment)
		}
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate secrets key: %w", err)
		}
		log.Warn("SECRETS_KEY not set, using an ephemeral key; stored credentials will not survive a restart")
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("create sealer: %w", err)
	}
	return sealer, nil
}

// newLocker builds the sequence locker for the configured backend.
func newLocker(cfg config.AppConfig, pool *pgxpool.Pool, rdb *redis.Client, log *slog.Logger) lock.Locker {
	switch cfg.Lock.Backend {
	case config.LockBackendRedis:
		log.Info("Sequence locks backed by Redis", "addr", cfg.Redis.Addr, "lease_ttl", cfg.Lock.LeaseTTL)
		return lock.NewRedisLocker(rdb, cfg.Lock.LeaseTTL, cfg.Lock.RetryInterval, log)
	case config.LockBackendPostgres:
		log.Info("Sequence locks backed by PostgreSQL advisory locks")
		return lock.NewPostgresLocker(pool, cfg.Lock.RetryInterval, log)
	default:
		log.Info("Sequence locks held in process; run a single replica")
		return lock.NewLocalLocker()
	}
}
