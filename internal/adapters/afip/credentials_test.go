package afip

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/testutil"
)

func newCert(t *testing.T) *testutil.TestCertificate {
	t.Helper()
	now := time.Now()
	return testutil.NewTestCertificate(t, testutil.TestCUIT, now.Add(-time.Hour), now.AddDate(1, 0, 0))
}

func TestLoadSigner(t *testing.T) {
	cert := newCert(t)
	other := newCert(t)

	tests := []struct {
		name        string
		cfg         fiscal.FiscalConfig
		expectedErr string
	}{
		{
			name: "PKCS#1 key",
			cfg:  fiscal.FiscalConfig{CertificatePEM: cert.CertPEM, PrivateKeyPEM: cert.KeyPEM, CUIT: testutil.TestCUIT},
		},
		{
			name: "PKCS#8 key and dashed CUIT",
			cfg:  fiscal.FiscalConfig{CertificatePEM: cert.CertPEM, PrivateKeyPEM: cert.PKCS8PEM, CUIT: "20-11111111-2"},
		},
		{
			name:        "missing certificate",
			cfg:         fiscal.FiscalConfig{PrivateKeyPEM: cert.KeyPEM, CUIT: testutil.TestCUIT},
			expectedErr: "certificate is missing",
		},
		{
			name:        "missing key",
			cfg:         fiscal.FiscalConfig{CertificatePEM: cert.CertPEM, CUIT: testutil.TestCUIT},
			expectedErr: "private key is missing",
		},
		{
			name:        "missing CUIT",
			cfg:         fiscal.FiscalConfig{CertificatePEM: cert.CertPEM, PrivateKeyPEM: cert.KeyPEM},
			expectedErr: "CUIT is missing",
		},
		{
			name:        "bad CUIT check digit",
			cfg:         fiscal.FiscalConfig{CertificatePEM: cert.CertPEM, PrivateKeyPEM: cert.KeyPEM, CUIT: "20111111113"},
			expectedErr: "invalid check digit",
		},
		{
			name:        "garbage certificate",
			cfg:         fiscal.FiscalConfig{CertificatePEM: "not a pem", PrivateKeyPEM: cert.KeyPEM, CUIT: testutil.TestCUIT},
			expectedErr: "certificate is not parseable",
		},
		{
			name:        "key from another certificate",
			cfg:         fiscal.FiscalConfig{CertificatePEM: cert.CertPEM, PrivateKeyPEM: other.KeyPEM, CUIT: testutil.TestCUIT},
			expectedErr: "does not match certificate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := LoadSigner(tt.cfg)
			if tt.expectedErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if signer.CUIT != testutil.TestCUIT {
					t.Errorf("expected CUIT %s, got %s", testutil.TestCUIT, signer.CUIT)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.expectedErr)
			}
			if !strings.Contains(err.Error(), tt.expectedErr) {
				t.Errorf("expected error containing %q, got %q", tt.expectedErr, err.Error())
			}
			if fiscal.KindOf(err) != fiscal.KindConfiguration {
				t.Errorf("expected configuration error, got %s", fiscal.KindOf(err))
			}
		})
	}
}

func TestValidateCertificate(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	t.Run("valid certificate", func(t *testing.T) {
		cert := testutil.NewTestCertificate(t, testutil.TestCUIT, now.AddDate(0, -1, 0), now.AddDate(0, 0, 30))
		info, err := ValidateCertificate(cert.CertPEM, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !info.Valid || info.IsExpired {
			t.Errorf("expected valid, not expired: %+v", info)
		}
		if info.DaysToExpire != 30 {
			t.Errorf("expected 30 days to expire, got %d", info.DaysToExpire)
		}
		if info.CUIT != testutil.TestCUIT {
			t.Errorf("expected CUIT %s, got %q", testutil.TestCUIT, info.CUIT)
		}
		if !strings.Contains(info.Subject, "logistics-test") {
			t.Errorf("unexpected subject %q", info.Subject)
		}
	})

	t.Run("expired certificate", func(t *testing.T) {
		cert := testutil.NewTestCertificate(t, testutil.TestCUIT, now.AddDate(-2, 0, 0), now.AddDate(0, 0, -1))
		info, err := ValidateCertificate(cert.CertPEM, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.Valid || !info.IsExpired || info.DaysToExpire != 0 {
			t.Errorf("expected expired certificate, got %+v", info)
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		_, err := ValidateCertificate("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n", now)
		if fiscal.KindOf(err) != fiscal.KindConfiguration {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}

func TestSignTRA(t *testing.T) {
	cert := newCert(t)
	signer, err := LoadSigner(fiscal.FiscalConfig{CertificatePEM: cert.CertPEM, PrivateKeyPEM: cert.KeyPEM, CUIT: testutil.TestCUIT})
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}

	now := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	tra, err := BuildTRA(ServiceWSFE, now)
	if err != nil {
		t.Fatalf("build TRA: %v", err)
	}

	body := string(tra)
	for _, want := range []string{
		`<loginTicketRequest version="1.0">`,
		"<uniqueId>" + "1792422000" + "</uniqueId>",
		"<generationTime>2026-10-19T11:50:00-03:00</generationTime>",
		"<expirationTime>2026-10-19T12:10:00-03:00</expirationTime>",
		"<service>wsfe</service>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("TRA missing %q:\n%s", want, body)
		}
	}

	cms, err := SignTRA(tra, signer)
	if err != nil {
		t.Fatalf("sign TRA: %v", err)
	}
	der, err := base64.StdEncoding.DecodeString(cms)
	if err != nil {
		t.Fatalf("CMS is not base64: %v", err)
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		t.Fatalf("parse CMS: %v", err)
	}
	if err := p7.Verify(); err != nil {
		t.Fatalf("verify CMS: %v", err)
	}
	if string(p7.Content) != body {
		t.Error("signed content does not embed the TRA")
	}
}
