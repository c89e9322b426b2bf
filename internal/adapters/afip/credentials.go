package afip

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// oidSerialNumber is the subject attribute AFIP uses to carry "CUIT nnnnnnnnnnn".
var oidSerialNumber = asn1.ObjectIdentifier{2, 5, 4, 5}

// Signer is a tenant's parsed certificate and matching private key.
type Signer struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
	CUIT        string
}

func configError(op, message string, err error) error {
	return fiscal.NewError(fiscal.KindConfiguration, op, message, err)
}

// LoadSigner parses the certificate material stored in cfg.
// Every failure is a configuration error; no remote call is involved.
func LoadSigner(cfg fiscal.FiscalConfig) (*Signer, error) {
	const op = "load credentials"

	if strings.TrimSpace(cfg.CertificatePEM) == "" {
		return nil, configError(op, "certificate is missing", nil)
	}
	if strings.TrimSpace(cfg.PrivateKeyPEM) == "" {
		return nil, configError(op, "private key is missing", nil)
	}
	cuit := fiscal.NormalizeCUIT(cfg.CUIT)
	if cuit == "" {
		return nil, configError(op, "CUIT is missing", nil)
	}
	if !fiscal.ValidCUIT(cuit) {
		return nil, configError(op, fmt.Sprintf("CUIT %s has an invalid check digit", cuit), nil)
	}

	cert, err := ParseCertificate(cfg.CertificatePEM)
	if err != nil {
		return nil, configError(op, "certificate is not parseable", err)
	}
	key, err := ParsePrivateKey(cfg.PrivateKeyPEM, cfg.KeyPassphrase)
	if err != nil {
		return nil, configError(op, "private key is not parseable", err)
	}
	if err := matchKey(cert, key); err != nil {
		return nil, configError(op, "private key does not match certificate", err)
	}

	return &Signer{Certificate: cert, Key: key, CUIT: cuit}, nil
}

// ParseCertificate decodes the first CERTIFICATE block of a PEM document.
func ParseCertificate(certPEM string) (*x509.Certificate, error) {
	rest := []byte(certPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no CERTIFICATE block found")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		return cert, nil
	}
}

// ParsePrivateKey accepts PKCS#1, PKCS#8, SEC1 and legacy passphrase-encrypted PEM keys.
func ParsePrivateKey(keyPEM, passphrase string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	der := block.Bytes
	//nolint:staticcheck // AFIP-issued keys are still commonly exported with legacy PEM encryption.
	if x509.IsEncryptedPEMBlock(block) {
		if passphrase == "" {
			return nil, errors.New("key is encrypted and no passphrase was provided")
		}
		//nolint:staticcheck
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("decrypt key: %w", err)
		}
		der = decrypted
	}

	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		return nil, errors.New("encrypted PKCS#8 keys are not supported, upload a PKCS#12 bundle instead")
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#1 key: %w", err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse EC key: %w", err)
		}
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 key: %w", err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return signer, nil
}

// DecodePKCS12 unpacks a .p12/.pfx bundle into PEM certificate and PKCS#8 key.
func DecodePKCS12(bundle []byte, passphrase string) (certPEM, keyPEM string, err error) {
	key, cert, err := pkcs12.Decode(bundle, passphrase)
	if err != nil {
		return "", "", fmt.Errorf("decode PKCS#12 bundle: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal key: %w", err)
	}
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return certPEM, keyPEM, nil
}

func matchKey(cert *x509.Certificate, key crypto.Signer) error {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if pub.Equal(key.Public()) {
			return nil
		}
	case *ecdsa.PublicKey:
		if pub.Equal(key.Public()) {
			return nil
		}
	default:
		return fmt.Errorf("unsupported certificate key type %T", cert.PublicKey)
	}
	return errors.New("public key mismatch")
}

// CUITFromCertificate extracts the CUIT AFIP embeds in the subject serialNumber.
func CUITFromCertificate(cert *x509.Certificate) string {
	for _, name := range cert.Subject.Names {
		if !name.Type.Equal(oidSerialNumber) {
			continue
		}
		if value, ok := name.Value.(string); ok {
			if cuit := fiscal.NormalizeCUIT(value); len(cuit) == 11 {
				return cuit
			}
		}
	}
	return ""
}

// ValidateCertificate summarizes a certificate for display. It never errors on an
// expired certificate; it reports it.
func ValidateCertificate(certPEM string, now time.Time) (fiscal.CertificateInfo, error) {
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return fiscal.CertificateInfo{}, configError("validate certificate", "certificate is not parseable", err)
	}
	return describe(cert, now), nil
}

func describe(cert *x509.Certificate, now time.Time) fiscal.CertificateInfo {
	expired := !now.Before(cert.NotAfter)
	days := int(math.Floor(cert.NotAfter.Sub(now).Hours() / 24))
	if expired {
		days = 0
	}
	return fiscal.CertificateInfo{
		Valid:        !expired && !now.Before(cert.NotBefore),
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		CUIT:         CUITFromCertificate(cert),
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
		IsExpired:    expired,
		DaysToExpire: days,
	}
}
