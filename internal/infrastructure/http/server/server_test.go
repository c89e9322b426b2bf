package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip"
	"3tcapital/ms_facturacion_afip/internal/adapters/http/credentials"
	"3tcapital/ms_facturacion_afip/internal/adapters/http/health"
	apphealth "3tcapital/ms_facturacion_afip/internal/application/health"
	"3tcapital/ms_facturacion_afip/internal/application/ticket"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/metrics"
	"3tcapital/ms_facturacion_afip/internal/testutil"
)

func testConfig() config.AppConfig {
	return config.AppConfig{
		HTTP: config.HTTPSettings{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Auth: config.AuthSettings{
			Enabled:      false,
			TenantHeader: "X-Tenant-ID",
		},
		Metrics: config.MetricsSettings{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func healthHandler() *health.Handler {
	service := apphealth.NewService(apphealth.Metadata{Service: "ms_facturacion_afip", Version: "test", Environment: "test"}, nil, nil, nil)
	return health.NewHandler(service, testutil.NewNullLogger())
}

func credentialsHandler() *credentials.Handler {
	login := afip.NewLoginClient(afip.Options{Logger: testutil.NewNullLogger()})
	authority := ticket.NewAuthority(testutil.NewMemoryConfigStore(), login, nil, testutil.NewNullLogger())
	return credentials.NewHandler(authority, testutil.NewNullLogger())
}

func TestNew_NilLogger(t *testing.T) {
	_, err := New(Options{
		Config:        testConfig(),
		Logger:        nil,
		HealthHandler: healthHandler(),
	})

	if err == nil {
		t.Fatal("expected error for nil logger")
	}
	if err.Error() != "logger is required" {
		t.Errorf("expected error 'logger is required', got %q", err.Error())
	}
}

func TestNew_NilHealthHandler(t *testing.T) {
	_, err := New(Options{
		Config: testConfig(),
		Logger: testutil.NewTestLogger(),
	})

	if err == nil {
		t.Fatal("expected error for nil health handler")
	}
	if err.Error() != "health handler is required" {
		t.Errorf("expected error 'health handler is required', got %q", err.Error())
	}
}

func TestNew_ValidOptions(t *testing.T) {
	server, err := New(Options{
		Config:        testConfig(),
		Logger:        testutil.NewTestLogger(),
		HealthHandler: healthHandler(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer server.Close()

	if server.httpServer.Addr != ":8080" {
		t.Errorf("expected address ':8080', got %q", server.httpServer.Addr)
	}
	if server.httpServer.WriteTimeout != 10*time.Second {
		t.Errorf("expected write timeout 10s, got %s", server.httpServer.WriteTimeout)
	}
}

func TestServer_Routes(t *testing.T) {
	server, err := New(Options{
		Config:        testConfig(),
		Logger:        testutil.NewTestLogger(),
		HealthHandler: healthHandler(),
		Credentials:   credentialsHandler(),
		Metrics:       metrics.New(metrics.Config{ServiceName: "ms_facturacion_afip", Environment: "test"}).Handler(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer server.Close()

	tests := []struct {
		name           string
		method         string
		path           string
		tenant         string
		expectedStatus int
	}{
		{name: "liveness", method: http.MethodGet, path: "/health", expectedStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", expectedStatus: http.StatusOK},
		{name: "config without tenant", method: http.MethodGet, path: "/api/v1/fiscal/config", expectedStatus: http.StatusUnauthorized},
		{name: "config of unknown tenant", method: http.MethodGet, path: "/api/v1/fiscal/config", tenant: "tenant-1", expectedStatus: http.StatusNotFound},
		{name: "sales points not routed", method: http.MethodGet, path: "/api/v1/fiscal/sales-points", tenant: "tenant-1", expectedStatus: http.StatusNotFound},
		{name: "wrong method", method: http.MethodDelete, path: "/api/v1/fiscal/config", tenant: "tenant-1", expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.tenant != "" {
				req.Header.Set("X-Tenant-ID", tt.tenant)
			}
			w := httptest.NewRecorder()

			server.Handler().ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestServer_MetricsExposition(t *testing.T) {
	m := metrics.New(metrics.Config{ServiceName: "ms_facturacion_afip", Environment: "test"})
	m.ObserveAuthorization("approved")

	server, err := New(Options{
		Config:        testConfig(),
		Logger:        testutil.NewTestLogger(),
		HealthHandler: healthHandler(),
		Metrics:       m.Handler(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer server.Close()

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(w.Body.String(), `fiscal_authorizations_total{env="test",outcome="approved",service="ms_facturacion_afip"} 1`) {
		t.Errorf("expected authorization counter in exposition, got:\n%s", w.Body.String())
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Port = 0

	server, err := New(Options{
		Config:        cfg,
		Logger:        testutil.NewTestLogger(),
		HealthHandler: healthHandler(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
