package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// TestCUIT is a CUIT with a valid check digit.
const TestCUIT = "20111111112"

// TestCertificate is a self-signed certificate shaped like an AFIP-issued one.
type TestCertificate struct {
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
	CertPEM     string
	KeyPEM      string // PKCS#1
	PKCS8PEM    string
}

// NewTestCertificate creates a 2048-bit RSA certificate valid in [notBefore, notAfter]
// whose subject serialNumber carries "CUIT <cuit>".
func NewTestCertificate(t testing.TB, cuit string, notBefore, notAfter time.Time) *TestCertificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "logistics-test",
			Organization: []string{"Test Logistics SA"},
			Country:      []string{"AR"},
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: asn1.ObjectIdentifier{2, 5, 4, 5}, Value: "CUIT " + cuit},
			},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}

	return &TestCertificate{
		Certificate: cert,
		Key:         key,
		CertPEM:     string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		KeyPEM:      string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
		PKCS8PEM:    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})),
	}
}

// TenantConfig returns a TEST-environment configuration for tenantID backed by cert.
func TenantConfig(tenantID string, cert *TestCertificate) fiscal.FiscalConfig {
	return fiscal.FiscalConfig{
		TenantID:       tenantID,
		Environment:    fiscal.EnvironmentTest,
		CertificatePEM: cert.CertPEM,
		PrivateKeyPEM:  cert.KeyPEM,
		CUIT:           TestCUIT,
		Status:         fiscal.StatusPendingSetup,
	}
}
