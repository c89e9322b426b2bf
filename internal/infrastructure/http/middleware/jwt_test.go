package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"
	"3tcapital/ms_facturacion_afip/internal/testutil"
)

func TestNewJWTAuthenticator_AuthDisabled(t *testing.T) {
	cfg := config.AuthSettings{
		Enabled: false,
	}
	logger := testutil.NewTestLogger()

	auth, err := NewJWTAuthenticator(cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if auth == nil {
		t.Fatal("expected authenticator to be created, got nil")
	}

	if auth.cfg.Enabled {
		t.Error("expected auth to be disabled")
	}
}

func TestNewJWTAuthenticator_AuthEnabled_InvalidJWKSetURI(t *testing.T) {
	cfg := config.AuthSettings{
		Enabled:   true,
		IssuerURI: "https://issuer.example.com",
		JWKSetURI: "invalid-uri",
	}
	logger := testutil.NewTestLogger()

	_, err := NewJWTAuthenticator(cfg, logger)
	if err == nil {
		t.Fatal("expected error for invalid JWKSetURI")
	}
}

func TestJWTAuthenticator_Middleware_AuthDisabled(t *testing.T) {
	cfg := config.AuthSettings{
		Enabled: false,
	}
	logger := testutil.NewTestLogger()

	auth, _ := NewJWTAuthenticator(cfg, logger)
	middleware := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestJWTAuthenticator_Middleware_BypassPath(t *testing.T) {
	cfg := config.AuthSettings{
		Enabled:     true,
		IssuerURI:   "https://issuer.example.com",
		JWKSetURI:   "https://issuer.example.com/.well-known/jwks.json",
		BypassPaths: []string{"/health"},
	}
	logger := testutil.NewTestLogger()

	// This will fail to load JWKS, but we can test bypass logic
	auth, _ := NewJWTAuthenticator(cfg, logger)
	if auth == nil {
		t.Skip("Skipping test - JWKS loading requires network access")
		return
	}

	middleware := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	// Should bypass auth and return 200 or 401 depending on JWKS loading
	// We can't fully test without a real JWKS endpoint, but we test the bypass logic
}

func TestJWTAuthenticator_shouldBypass(t *testing.T) {
	cfg := config.AuthSettings{
		BypassPaths: []string{"/health", "/public"},
	}
	logger := testutil.NewTestLogger()

	auth, _ := NewJWTAuthenticator(cfg, logger)

	tests := []struct {
		path     string
		expected bool
	}{
		{"/health", true},
		{"/public", true},
		{"/api/test", false},
		{"/health/status", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result := auth.shouldBypass(tt.path)
			if result != tt.expected {
				t.Errorf("expected shouldBypass(%q)=%v, got %v", tt.path, tt.expected, result)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		expectedTok string
		expectedErr bool
	}{
		{
			name:        "empty header",
			header:      "",
			expectedErr: true,
		},
		{
			name:        "no Bearer prefix",
			header:      "token123",
			expectedErr: true,
		},
		{
			name:        "invalid format - no space",
			header:      "Bearertoken",
			expectedErr: true,
		},
		{
			name:        "invalid format - too many parts",
			header:      "Bearer token extra",
			expectedErr: true,
		},
		{
			name:        "valid Bearer token",
			header:      "Bearer token123",
			expectedTok: "token123",
			expectedErr: false,
		},
		{
			name:        "valid Bearer token - case insensitive",
			header:      "bearer token123",
			expectedTok: "token123",
			expectedErr: false,
		},
		{
			name:        "valid Bearer token - mixed case",
			header:      "BeArEr token123",
			expectedTok: "token123",
			expectedErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := extractBearerToken(tt.header)

			if tt.expectedErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if token != tt.expectedTok {
				t.Errorf("expected token %q, got %q", tt.expectedTok, token)
			}
		})
	}
}

func TestJWTAuthenticator_Close(t *testing.T) {
	cfg := config.AuthSettings{
		Enabled: false,
	}
	logger := testutil.NewTestLogger()

	auth, _ := NewJWTAuthenticator(cfg, logger)

	// Should not panic
	auth.Close()
}

func TestJWTAuthenticator_Middleware_MissingAuthHeader(t *testing.T) {
	cfg := config.AuthSettings{
		Enabled:     true,
		IssuerURI:   "https://issuer.example.com",
		JWKSetURI:   "https://issuer.example.com/.well-known/jwks.json",
		BypassPaths: []string{},
	}
	logger := testutil.NewTestLogger()

	auth, err := NewJWTAuthenticator(cfg, logger)
	if err != nil {
		// JWKS loading might fail, skip test
		t.Skip("Skipping test - JWKS loading requires network access")
		return
	}

	middleware := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	// Should return 401 for missing header
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestJWTAuthenticator_Middleware_InvalidToken(t *testing.T) {
	cfg := config.AuthSettings{
		Enabled:     true,
		IssuerURI:   "https://issuer.example.com",
		JWKSetURI:   "https://issuer.example.com/.well-known/jwks.json",
		BypassPaths: []string{},
	}
	logger := testutil.NewTestLogger()

	auth, err := NewJWTAuthenticator(cfg, logger)
	if err != nil {
		t.Skip("Skipping test - JWKS loading requires network access")
		return
	}

	middleware := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer invalid.token.here")
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	// Should return 401 for invalid token
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestJWTAuthenticator_Middleware_AuthDisabledTenantHeader(t *testing.T) {
	auth, err := NewJWTAuthenticator(config.AuthSettings{Enabled: false}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "header present", header: "tenant-1", want: "tenant-1"},
		{name: "header padded", header: "  tenant-2 ", want: "tenant-2"},
		{name: "header missing", header: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ctxutil.GetTenantID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/fiscal/config", nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("expected tenant %q, got %q", tt.want, got)
			}
		})
	}
}

// jwksServer publishes one RSA signing key and returns it with the server.
func jwksServer(t *testing.T) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	set := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return key, srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTAuthenticator_Middleware_TenantClaim(t *testing.T) {
	key, srv := jwksServer(t)
	issuer := "https://issuer.example.com"

	auth, err := NewJWTAuthenticator(config.AuthSettings{
		Enabled:     true,
		IssuerURI:   issuer,
		JWKSetURI:   srv.URL,
		ClockSkew:   time.Minute,
		BypassPaths: []string{"/health"},
		TenantClaim: "tenant_id",
	}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	defer auth.Close()

	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name       string
		claims     jwt.MapClaims
		wantStatus int
		wantTenant string
	}{
		{
			name:       "string tenant claim",
			claims:     jwt.MapClaims{"iss": issuer, "exp": exp, "tenant_id": "tenant-1"},
			wantStatus: http.StatusOK,
			wantTenant: "tenant-1",
		},
		{
			name:       "numeric tenant claim",
			claims:     jwt.MapClaims{"iss": issuer, "exp": exp, "tenant_id": 42},
			wantStatus: http.StatusOK,
			wantTenant: "42",
		},
		{
			name:       "missing tenant claim",
			claims:     jwt.MapClaims{"iss": issuer, "exp": exp},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong issuer",
			claims:     jwt.MapClaims{"iss": "https://other.example.com", "exp": exp, "tenant_id": "tenant-1"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			claims:     jwt.MapClaims{"iss": issuer, "exp": time.Now().Add(-time.Hour).Unix(), "tenant_id": "tenant-1"},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTenant string
			handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTenant = ctxutil.GetTenantID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/fiscal/config", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, key, tt.claims))
			req.Header.Set("X-Tenant-ID", "spoofed")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if gotTenant != tt.wantTenant {
				t.Errorf("expected tenant %q, got %q", tt.wantTenant, gotTenant)
			}
		})
	}

	t.Run("bypass path skips validation", func(t *testing.T) {
		handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
	})
}
