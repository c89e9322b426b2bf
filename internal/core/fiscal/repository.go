package fiscal

import "context"

// ConfigStore persists per-tenant fiscal configuration.
type ConfigStore interface {
	// Get returns ErrNotFound when the tenant was never onboarded.
	Get(ctx context.Context, tenantID string) (*FiscalConfig, error)

	// Save replaces credentials, environment and CUIT, resetting status and cached ticket.
	Save(ctx context.Context, cfg FiscalConfig) error

	// UpdateTicket stores a freshly issued ticket and marks the configuration ACTIVE.
	UpdateTicket(ctx context.Context, tenantID string, ticket Ticket) error

	// UpdateStatus records a status transition and its last error message.
	UpdateStatus(ctx context.Context, tenantID string, status ConfigStatus, lastError string) error

	// ClearTicket drops the cached ticket without touching the status.
	ClearTicket(ctx context.Context, tenantID string) error
}

// SalesPointRegistry persists a tenant's sales points.
type SalesPointRegistry interface {
	List(ctx context.Context, tenantID string) ([]SalesPoint, error)
	Upsert(ctx context.Context, point SalesPoint) error
	// Replace overwrites the whole list, used after a remote sync.
	Replace(ctx context.Context, tenantID string, points []SalesPoint) error
}

// DocumentRepository persists FiscalDocument records. Records are insert-only.
type DocumentRepository interface {
	// Create returns ErrAlreadyAuthorized when the (tenant, sales point, type,
	// number) slot already holds an AUTHORIZED document.
	Create(ctx context.Context, doc FiscalDocument) error
	FindByID(ctx context.Context, tenantID, id string) (*FiscalDocument, error)
	// FindByNumber prefers the AUTHORIZED record, else the latest attempt.
	FindByNumber(ctx context.Context, key SequenceKey, number int64) (*FiscalDocument, error)
}
