package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App      AppSettings
	HTTP     HTTPSettings
	Auth     AuthSettings
	Log      LogSettings
	Database DatabaseSettings
	Audit    AuditSettings
	AFIP     AFIPSettings
	Lock     LockSettings
	Redis    RedisSettings
	Secrets  SecretsSettings
	Metrics  MetricsSettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout bounds API handlers; authorizations may wait for a sequence lock.
	RequestTimeout time.Duration
}

type AuthSettings struct {
	Enabled     bool
	IssuerURI   string
	JWKSetURI   string
	ClockSkew   time.Duration
	BypassPaths []string
	// TenantClaim is the JWT claim carrying the tenant id.
	TenantClaim string
	// TenantHeader is read instead of the claim when auth is disabled.
	TenantHeader string
}

type LogSettings struct {
	Level string
}

type DatabaseSettings struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

type AuditSettings struct {
	Enabled         bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
}

// AFIPSettings tunes the WSAA and WSFEv1 clients.
type AFIPSettings struct {
	TestWSAAURL        string
	TestWSFEURL        string
	ProdWSAAURL        string
	ProdWSFEURL        string
	RequestTimeout     time.Duration
	SubmitTimeout      time.Duration
	MaxConcurrent      int
	RateLimitRPS       float64
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
}

// LockSettings selects how numbering sequences are serialized.
type LockSettings struct {
	Backend       string // local, redis or postgres
	LeaseTTL      time.Duration
	RetryInterval time.Duration
}

type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// SecretsSettings holds the key sealing private keys and passphrases at rest.
type SecretsSettings struct {
	Key []byte
}

type MetricsSettings struct {
	Enabled bool
	Path    string
}

const (
	LockBackendLocal    = "local"
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
)

// Load resolves the application configuration from environment variables.
// It first attempts to load variables from a .env file if it exists.
// Environment variables set in the system take precedence over .env file values.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "ms_facturacion_afip"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:            getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 2*time.Minute),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 100*time.Second),
		},
		Auth: AuthSettings{
			Enabled:      getEnvAsBool("AUTH_ENABLED", true),
			IssuerURI:    strings.TrimSpace(os.Getenv("JWT_ISSUER_URI")),
			JWKSetURI:    strings.TrimSpace(os.Getenv("JWT_JWK_SET_URI")),
			ClockSkew:    getEnvAsDuration("AUTH_CLOCK_SKEW", 2*time.Minute),
			BypassPaths:  getEnvAsCSV("AUTH_BYPASS_PATHS", []string{"/health", "/metrics"}),
			TenantClaim:  getEnv("AUTH_TENANT_CLAIM", "tenant_id"),
			TenantHeader: getEnv("AUTH_TENANT_HEADER", "X-Tenant-ID"),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseSettings{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Database:        getEnv("DB_NAME", "ms_facturacion_afip"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			RunMigrations:   getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Audit: AuditSettings{
			Enabled:         getEnvAsBool("AUDIT_ENABLED", true),
			LogRequestBody:  getEnvAsBool("AUDIT_LOG_REQUEST_BODY", true),
			LogResponseBody: getEnvAsBool("AUDIT_LOG_RESPONSE_BODY", true),
			MaxBodySize:     getEnvAsInt("AUDIT_MAX_BODY_SIZE", 102400),
		},
		AFIP: AFIPSettings{
			TestWSAAURL:        strings.TrimSpace(os.Getenv("AFIP_TEST_WSAA_URL")),
			TestWSFEURL:        strings.TrimSpace(os.Getenv("AFIP_TEST_WSFE_URL")),
			ProdWSAAURL:        strings.TrimSpace(os.Getenv("AFIP_PROD_WSAA_URL")),
			ProdWSFEURL:        strings.TrimSpace(os.Getenv("AFIP_PROD_WSFE_URL")),
			RequestTimeout:     getEnvAsDuration("AFIP_REQUEST_TIMEOUT", 60*time.Second),
			SubmitTimeout:      getEnvAsDuration("AFIP_SUBMIT_TIMEOUT", 90*time.Second),
			MaxConcurrent:      getEnvAsInt("AFIP_MAX_CONCURRENT", 20),
			RateLimitRPS:       getEnvAsFloat("AFIP_RATE_LIMIT_RPS", 0),
			BreakerMaxFailures: getEnvAsInt("AFIP_BREAKER_MAX_FAILURES", 5),
			BreakerCooldown:    getEnvAsDuration("AFIP_BREAKER_COOLDOWN", 30*time.Second),
		},
		Lock: LockSettings{
			Backend:       strings.ToLower(getEnv("LOCK_BACKEND", LockBackendLocal)),
			LeaseTTL:      getEnvAsDuration("LOCK_LEASE_TTL", 2*time.Minute),
			RetryInterval: getEnvAsDuration("LOCK_RETRY_INTERVAL", 50*time.Millisecond),
		},
		Redis: RedisSettings{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Metrics: MetricsSettings{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if raw := strings.TrimSpace(os.Getenv("SECRETS_KEY")); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid config: SECRETS_KEY is not base64: %w", err)
		}
		if len(key) != 32 {
			return cfg, errors.New("invalid config: SECRETS_KEY must decode to 32 bytes")
		}
		cfg.Secrets.Key = key
	}

	switch cfg.Lock.Backend {
	case LockBackendLocal, LockBackendRedis, LockBackendPostgres:
	default:
		return cfg, fmt.Errorf("invalid config: LOCK_BACKEND must be local, redis or postgres, got %q", cfg.Lock.Backend)
	}
	if cfg.Lock.LeaseTTL <= cfg.AFIP.SubmitTimeout {
		return cfg, errors.New("invalid config: LOCK_LEASE_TTL must exceed AFIP_SUBMIT_TIMEOUT")
	}

	if cfg.AFIP.MaxConcurrent <= 0 {
		return cfg, errors.New("invalid config: AFIP_MAX_CONCURRENT must be greater than 0")
	}
	if cfg.AFIP.BreakerMaxFailures <= 0 {
		return cfg, errors.New("invalid config: AFIP_BREAKER_MAX_FAILURES must be greater than 0")
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURI == "" {
			return cfg, errors.New("invalid config: JWT_ISSUER_URI is required when AUTH_ENABLED=true")
		}
		if cfg.Auth.JWKSetURI == "" {
			return cfg, errors.New("invalid config: JWT_JWK_SET_URI is required when AUTH_ENABLED=true")
		}
	}

	return cfg, nil
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsCSV(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
