package credentials

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip"
	"3tcapital/ms_facturacion_afip/internal/application/ticket"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/testutil"
)

type fixture struct {
	fake    *testutil.FakeAFIP
	configs *testutil.MemoryConfigStore
	cert    *testutil.TestCertificate
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := testutil.NewFakeAFIP(t)
	configs := testutil.NewMemoryConfigStore()
	cert := testutil.NewTestCertificate(t, testutil.TestCUIT, time.Now().Add(-time.Hour), time.Now().Add(365*24*time.Hour))

	login := afip.NewLoginClient(afip.Options{
		Directory: afip.DefaultDirectory().WithOverrides(fiscal.EnvironmentTest, afip.Endpoints{WSAA: fake.WSAAURL(), WSFE: fake.WSFEURL()}),
		Logger:    testutil.NewNullLogger(),
	})
	authority := ticket.NewAuthority(configs, login, nil, testutil.NewNullLogger())

	return &fixture{
		fake:    fake,
		configs: configs,
		cert:    cert,
		handler: NewHandler(authority, testutil.NewNullLogger()),
	}
}

func TestHandler_PutConfig(t *testing.T) {
	f := newFixture(t)
	expired := testutil.NewTestCertificate(t, testutil.TestCUIT, time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))

	tests := []struct {
		name           string
		body           ConfigRequest
		expectedStatus int
	}{
		{
			name:           "valid PEM pair",
			body:           ConfigRequest{Environment: "test", CertificatePEM: f.cert.CertPEM, PrivateKeyPEM: f.cert.KeyPEM},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown environment",
			body:           ConfigRequest{Environment: "staging", CertificatePEM: f.cert.CertPEM, PrivateKeyPEM: f.cert.KeyPEM},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing key",
			body:           ConfigRequest{Environment: "TEST", CertificatePEM: f.cert.CertPEM},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad CUIT check digit",
			body:           ConfigRequest{Environment: "TEST", CUIT: "20-11111111-3", CertificatePEM: f.cert.CertPEM, PrivateKeyPEM: f.cert.KeyPEM},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "expired certificate",
			body:           ConfigRequest{Environment: "TEST", CertificatePEM: expired.CertPEM, PrivateKeyPEM: expired.KeyPEM},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "key does not match certificate",
			body:           ConfigRequest{Environment: "TEST", CertificatePEM: f.cert.CertPEM, PrivateKeyPEM: expired.KeyPEM},
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.WithTenant(testutil.CreateRequest(http.MethodPut, "/api/v1/fiscal/config", tt.body, nil), "tenant-1")
			w := httptest.NewRecorder()
			f.handler.PutConfig(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if strings.Contains(w.Body.String(), "PRIVATE KEY") {
				t.Error("response leaks private key material")
			}
		})
	}

	stored, ok := f.configs.Snapshot("tenant-1")
	if !ok || stored.Status != fiscal.StatusPendingSetup || stored.CUIT != testutil.TestCUIT {
		t.Errorf("unexpected stored config %+v", stored)
	}
}

func TestHandler_GetConfig(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.handler.GetConfig(w, testutil.WithTenant(httptest.NewRequest(http.MethodGet, "/api/v1/fiscal/config", nil), "tenant-1"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before onboarding, got %d", w.Code)
	}

	f.configs.Put(testutil.TenantConfig("tenant-1", f.cert))
	w = httptest.NewRecorder()
	f.handler.GetConfig(w, testutil.WithTenant(httptest.NewRequest(http.MethodGet, "/api/v1/fiscal/config", nil), "tenant-1"))

	var summary fiscal.ConfigSummary
	testutil.ReadJSONResponse(t, w, &summary)
	if summary.CUIT != testutil.TestCUIT || summary.Status != fiscal.StatusPendingSetup {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Certificate == nil || !summary.Certificate.Valid {
		t.Errorf("expected certificate details, got %+v", summary.Certificate)
	}
}

func TestHandler_GetConfig_MissingTenant(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.handler.GetConfig(w, httptest.NewRequest(http.MethodGet, "/api/v1/fiscal/config", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHandler_ValidateCertificate(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{"valid certificate", ValidateCertificateRequest{CertificatePEM: f.cert.CertPEM}, http.StatusOK},
		{"empty body", ValidateCertificateRequest{}, http.StatusBadRequest},
		{"garbage", ValidateCertificateRequest{CertificatePEM: "not a certificate"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.handler.ValidateCertificate(w, testutil.CreateRequest(http.MethodPost, "/api/v1/fiscal/certificate/validate", tt.body, nil))
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}

	if _, ok := f.configs.Snapshot("tenant-1"); ok {
		t.Error("validation must not store anything")
	}
}

func TestHandler_RequestTicket(t *testing.T) {
	f := newFixture(t)
	f.configs.Put(testutil.TenantConfig("tenant-1", f.cert))

	w := httptest.NewRecorder()
	f.handler.RequestTicket(w, testutil.WithTenant(httptest.NewRequest(http.MethodPost, "/api/v1/fiscal/ticket", nil), "tenant-1"))

	var resp TicketResponse
	testutil.ReadJSONResponse(t, w, &resp)
	if resp.Status != fiscal.StatusActive || resp.ExpiresAt.IsZero() {
		t.Errorf("unexpected response %+v", resp)
	}
	if f.fake.Logins() != 1 {
		t.Errorf("expected 1 login, got %d", f.fake.Logins())
	}

	w = httptest.NewRecorder()
	f.handler.RequestTicket(w, testutil.WithTenant(httptest.NewRequest(http.MethodPost, "/api/v1/fiscal/ticket", nil), "tenant-1"))
	if w.Code != http.StatusOK || f.fake.Logins() != 1 {
		t.Errorf("expected cached ticket, status %d logins %d", w.Code, f.fake.Logins())
	}
}

func TestHandler_RequestTicket_Failures(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(f *fixture)
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "not onboarded",
			setup:          func(f *fixture) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   "configuration",
		},
		{
			name: "WSAA rejects credentials",
			setup: func(f *fixture) {
				f.configs.Put(testutil.TenantConfig("tenant-1", f.cert))
				f.fake.SetLoginFault("cms.cert.untrusted: Certificado no emitido por AC de confianza")
			},
			expectedStatus: http.StatusFailedDependency,
			expectedKind:   "authentication",
		},
		{
			name: "WSAA unavailable",
			setup: func(f *fixture) {
				f.configs.Put(testutil.TenantConfig("tenant-1", f.cert))
				f.fake.FailNext(1)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedKind:   "transient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			w := httptest.NewRecorder()
			f.handler.RequestTicket(w, testutil.WithTenant(httptest.NewRequest(http.MethodPost, "/api/v1/fiscal/ticket", nil), "tenant-1"))
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			body := testutil.ReadErrorResponse(t, w)
			if body["kind"] != tt.expectedKind {
				t.Errorf("expected kind %q, got %v", tt.expectedKind, body["kind"])
			}
		})
	}
}
