package testutil

import (
	"context"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// MockTicketSource is a mock ticket provider for testing.
type MockTicketSource struct {
	GetTicketFunc  func(ctx context.Context, tenantID string) (fiscal.Ticket, error)
	InvalidateFunc func(ctx context.Context, tenantID string) error
	Invalidations  int
}

// GetTicket calls the mock function if set, otherwise returns a zero ticket.
func (m *MockTicketSource) GetTicket(ctx context.Context, tenantID string) (fiscal.Ticket, error) {
	if m.GetTicketFunc != nil {
		return m.GetTicketFunc(ctx, tenantID)
	}
	return fiscal.Ticket{}, nil
}

// Invalidate counts calls and delegates to the mock function if set.
func (m *MockTicketSource) Invalidate(ctx context.Context, tenantID string) error {
	m.Invalidations++
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, tenantID)
	}
	return nil
}
