package config

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t,
		"APP_NAME", "APP_VERSION", "APP_ENV", "APP_PORT",
		"HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "HTTP_IDLE_TIMEOUT", "HTTP_SHUTDOWN_TIMEOUT", "HTTP_REQUEST_TIMEOUT",
		"JWT_ISSUER_URI", "JWT_JWK_SET_URI", "AUTH_CLOCK_SKEW", "AUTH_BYPASS_PATHS", "AUTH_TENANT_CLAIM", "AUTH_TENANT_HEADER",
		"LOG_LEVEL", "LOCK_BACKEND", "LOCK_LEASE_TTL", "AFIP_SUBMIT_TIMEOUT", "AFIP_MAX_CONCURRENT",
		"AFIP_RATE_LIMIT_RPS", "AFIP_BREAKER_MAX_FAILURES", "SECRETS_KEY", "METRICS_PATH",
	)
	t.Setenv("AUTH_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "ms_facturacion_afip" {
		t.Errorf("expected default app name 'ms_facturacion_afip', got %q", cfg.App.Name)
	}
	if cfg.App.Environment != "local" {
		t.Errorf("expected default environment 'local', got %q", cfg.App.Environment)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Auth.TenantClaim != "tenant_id" {
		t.Errorf("expected tenant claim 'tenant_id', got %q", cfg.Auth.TenantClaim)
	}
	if cfg.Auth.TenantHeader != "X-Tenant-ID" {
		t.Errorf("expected tenant header 'X-Tenant-ID', got %q", cfg.Auth.TenantHeader)
	}
	if cfg.Lock.Backend != LockBackendLocal {
		t.Errorf("expected lock backend %q, got %q", LockBackendLocal, cfg.Lock.Backend)
	}
	if cfg.AFIP.SubmitTimeout != 90*time.Second {
		t.Errorf("expected submit timeout 90s, got %v", cfg.AFIP.SubmitTimeout)
	}
	if cfg.AFIP.MaxConcurrent != 20 {
		t.Errorf("expected 20 concurrent AFIP calls, got %d", cfg.AFIP.MaxConcurrent)
	}
	if cfg.Secrets.Key != nil {
		t.Error("expected no secrets key by default")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected metrics path '/metrics', got %q", cfg.Metrics.Path)
	}
}

func TestLoad_WithCustomValues(t *testing.T) {
	t.Setenv("APP_NAME", "test-app")
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("LOCK_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("AFIP_TEST_WSFE_URL", "http://fake/wsfev1/service.asmx")
	t.Setenv("AFIP_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Name != "test-app" {
		t.Errorf("expected app name 'test-app', got %q", cfg.App.Name)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Lock.Backend != LockBackendRedis {
		t.Errorf("expected lowercased backend 'redis', got %q", cfg.Lock.Backend)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("expected redis addr 'redis:6380', got %q", cfg.Redis.Addr)
	}
	if cfg.AFIP.TestWSFEURL != "http://fake/wsfev1/service.asmx" {
		t.Errorf("unexpected WSFE override %q", cfg.AFIP.TestWSFEURL)
	}
	if cfg.AFIP.RateLimitRPS != 2.5 {
		t.Errorf("expected rate limit 2.5, got %v", cfg.AFIP.RateLimitRPS)
	}
}

func TestLoad_Validation(t *testing.T) {
	validKey := base64.StdEncoding.EncodeToString(make([]byte, 32))

	tests := []struct {
		name        string
		env         map[string]string
		expectedErr string
	}{
		{
			name:        "unknown lock backend",
			env:         map[string]string{"LOCK_BACKEND": "etcd"},
			expectedErr: "LOCK_BACKEND must be local, redis or postgres",
		},
		{
			name:        "lease shorter than submit timeout",
			env:         map[string]string{"LOCK_LEASE_TTL": "30s", "AFIP_SUBMIT_TIMEOUT": "90s"},
			expectedErr: "LOCK_LEASE_TTL must exceed AFIP_SUBMIT_TIMEOUT",
		},
		{
			name:        "secrets key not base64",
			env:         map[string]string{"SECRETS_KEY": "%%%"},
			expectedErr: "SECRETS_KEY is not base64",
		},
		{
			name:        "secrets key wrong size",
			env:         map[string]string{"SECRETS_KEY": base64.StdEncoding.EncodeToString([]byte("short"))},
			expectedErr: "SECRETS_KEY must decode to 32 bytes",
		},
		{
			name:        "zero concurrency",
			env:         map[string]string{"AFIP_MAX_CONCURRENT": "0"},
			expectedErr: "AFIP_MAX_CONCURRENT must be greater than 0",
		},
		{
			name: "valid secrets key",
			env:  map[string]string{"SECRETS_KEY": validKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, "LOCK_BACKEND", "LOCK_LEASE_TTL", "AFIP_SUBMIT_TIMEOUT", "SECRETS_KEY", "AFIP_MAX_CONCURRENT")
			t.Setenv("AUTH_ENABLED", "false")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.expectedErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(cfg.Secrets.Key) != 32 {
					t.Errorf("expected 32-byte key, got %d bytes", len(cfg.Secrets.Key))
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.expectedErr)
			}
			if !strings.Contains(err.Error(), tt.expectedErr) {
				t.Errorf("expected error containing %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestLoad_AuthEnabled_MissingIssuerURI(t *testing.T) {
	clearEnv(t, "JWT_ISSUER_URI", "JWT_JWK_SET_URI")
	t.Setenv("AUTH_ENABLED", "true")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when AUTH_ENABLED=true and JWT_ISSUER_URI is missing")
	}
	if err.Error() != "invalid config: JWT_ISSUER_URI is required when AUTH_ENABLED=true" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_AuthEnabled_MissingJWKSetURI(t *testing.T) {
	clearEnv(t, "JWT_JWK_SET_URI")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("JWT_ISSUER_URI", "https://issuer.example.com")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when AUTH_ENABLED=true and JWT_JWK_SET_URI is missing")
	}
	if err.Error() != "invalid config: JWT_JWK_SET_URI is required when AUTH_ENABLED=true" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestHTTPSettings_Address(t *testing.T) {
	settings := HTTPSettings{Port: 8080}
	if addr := settings.Address(); addr != ":8080" {
		t.Errorf("expected address ':8080', got %q", addr)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		fallback bool
		expected bool
	}{
		{"true value", "true", false, true},
		{"false value", "false", true, false},
		{"FALSE value", "FALSE", true, false},
		{"invalid value", "invalid", true, true},
		{"missing key", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, "TEST_BOOL")
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}

			if result := getEnvAsBool("TEST_BOOL", tt.fallback); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		fallback float64
		expected float64
	}{
		{"integer", "3", 0, 3},
		{"fraction", "0.5", 0, 0.5},
		{"invalid value", "fast", 7, 7},
		{"missing key", "", 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, "TEST_FLOAT")
			if tt.envValue != "" {
				t.Setenv("TEST_FLOAT", tt.envValue)
			}

			if result := getEnvAsFloat("TEST_FLOAT", tt.fallback); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		fallback time.Duration
		expected time.Duration
	}{
		{"valid duration", "10s", 0, 10 * time.Second},
		{"minutes", "5m", 0, 5 * time.Minute},
		{"invalid value", "not-a-duration", 30 * time.Second, 30 * time.Second},
		{"missing key", "", 30 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, "TEST_DURATION")
			if tt.envValue != "" {
				t.Setenv("TEST_DURATION", tt.envValue)
			}

			if result := getEnvAsDuration("TEST_DURATION", tt.fallback); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetEnvAsCSV(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		fallback []string
		expected []string
	}{
		{"single value", "value1", []string{"default"}, []string{"value1"}},
		{"with spaces", "value1, value2 , value3", []string{"default"}, []string{"value1", "value2", "value3"}},
		{"empty values filtered", "value1,,value2, ,", []string{"default"}, []string{"value1", "value2"}},
		{"only spaces", " , , ", []string{"default"}, []string{"default"}},
		{"missing key", "", []string{"d1", "d2"}, []string{"d1", "d2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, "TEST_CSV")
			if tt.envValue != "" {
				t.Setenv("TEST_CSV", tt.envValue)
			}

			result := getEnvAsCSV("TEST_CSV", tt.fallback)
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d values, got %d", len(tt.expected), len(result))
			}
			for i, expected := range tt.expected {
				if result[i] != expected {
					t.Errorf("expected[%d] %q, got %q", i, expected, result[i])
				}
			}
		})
	}
}
