package fiscal

import (
	"strings"
	"time"
)

// Environment selects which AFIP deployment a tenant talks to.
type Environment string

const (
	EnvironmentTest Environment = "TEST"
	EnvironmentProd Environment = "PROD"
)

// ParseEnvironment normalizes user input ("test", "homologacion", "prod", ...).
func ParseEnvironment(value string) (Environment, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "TEST", "HOMO", "HOMOLOGACION", "TESTING":
		return EnvironmentTest, true
	case "PROD", "PRODUCTION", "PRODUCCION":
		return EnvironmentProd, true
	default:
		return "", false
	}
}

// ConfigStatus is the onboarding state of a tenant's fiscal configuration.
type ConfigStatus string

const (
	StatusPendingSetup ConfigStatus = "PENDING_SETUP"
	StatusActive       ConfigStatus = "ACTIVE"
	StatusError        ConfigStatus = "ERROR"
)

// TicketSafetyMargin is how long before expiry a cached ticket stops being reused.
const TicketSafetyMargin = 10 * time.Minute

// Ticket is the WSAA access ticket (token + sign pair).
type Ticket struct {
	Token     string    `json:"-"`
	Sign      string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsZero reports whether no ticket has been issued yet.
func (t Ticket) IsZero() bool {
	return t.Token == "" || t.Sign == "" || t.ExpiresAt.IsZero()
}

// UsableAt reports whether the ticket can be presented at now, keeping margin of headroom.
func (t Ticket) UsableAt(now time.Time, margin time.Duration) bool {
	if t.IsZero() {
		return false
	}
	return t.ExpiresAt.Sub(now) > margin
}

// FiscalConfig is the per-tenant AFIP configuration.
type FiscalConfig struct {
	TenantID       string
	Environment    Environment
	CertificatePEM string
	PrivateKeyPEM  string
	KeyPassphrase  string
	CUIT           string
	Status         ConfigStatus
	Ticket         Ticket
	LastError      string
	UpdatedAt      time.Time
}

// ConfigSummary is the secret-free view of a tenant configuration.
type ConfigSummary struct {
	TenantID        string           `json:"tenantId"`
	Environment     Environment      `json:"environment"`
	CUIT            string           `json:"cuit"`
	Status          ConfigStatus     `json:"status"`
	LastError       string           `json:"lastError,omitempty"`
	TicketExpiresAt *time.Time       `json:"ticketExpiresAt,omitempty"`
	Certificate     *CertificateInfo `json:"certificate,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Credentials is the onboarding payload replacing a tenant's certificate material.
type Credentials struct {
	Environment    Environment
	CertificatePEM string
	PrivateKeyPEM  string
	PKCS12         []byte // certificate and key bundle; PEM fields may then be empty
	KeyPassphrase  string
	CUIT           string
}

// NormalizeCUIT strips separators ("20-12345678-9" -> "20123456789").
func NormalizeCUIT(cuit string) string {
	var b strings.Builder
	for _, r := range cuit {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCUIT checks length and the modulo-11 verifier digit.
func ValidCUIT(cuit string) bool {
	cuit = NormalizeCUIT(cuit)
	if len(cuit) != 11 {
		return false
	}
	weights := [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}
	sum := 0
	for i, w := range weights {
		sum += int(cuit[i]-'0') * w
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		check = 9
	}
	return int(cuit[10]-'0') == check
}
