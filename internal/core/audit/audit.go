package audit

import (
	"context"
	"time"
)

// ProviderAuditLog is the record of one exchange with a remote fiscal authority
// (WSAA or WSFEv1). Bodies are stored as sanitized SOAP text.
type ProviderAuditLog struct {
	ID              int64
	CorrelationID   string
	TenantID        string
	Provider        string
	Operation       string
	RequestMethod   string
	RequestURL      string
	RequestHeaders  map[string]string
	RequestBody     string
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseBody    string
	DurationMs      int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// Repository defines the contract for persisting and retrieving audit logs.
type Repository interface {
	Save(ctx context.Context, log ProviderAuditLog) error

	// FindByCorrelationID returns every exchange made while serving one request.
	FindByCorrelationID(ctx context.Context, correlationID string) ([]ProviderAuditLog, error)
}
