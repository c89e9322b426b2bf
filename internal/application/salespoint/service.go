package salespoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// TicketSource hands out access tickets.
type TicketSource interface {
	GetTicket(ctx context.Context, tenantID string) (fiscal.Ticket, error)
}

// Lister reads the sales points AFIP has registered for the tenant's CUIT.
type Lister interface {
	SalesPoints(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket) ([]fiscal.SalesPoint, error)
}

// Service manages a tenant's sales point registry.
type Service struct {
	registry fiscal.SalesPointRegistry
	configs  fiscal.ConfigStore
	tickets  TicketSource
	remote   Lister
	log      *slog.Logger
}

// NewService creates a new sales point service.
func NewService(registry fiscal.SalesPointRegistry, configs fiscal.ConfigStore, tickets TicketSource, remote Lister, log *slog.Logger) *Service {
	return &Service{
		registry: registry,
		configs:  configs,
		tickets:  tickets,
		remote:   remote,
		log:      log,
	}
}

// List returns the tenant's registered sales points ordered by number.
func (s *Service) List(ctx context.Context, tenantID string) ([]fiscal.SalesPoint, error) {
	points, err := s.registry.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sales points tenant=%s: %w", tenantID, err)
	}
	return points, nil
}

// Upsert registers or updates one sales point. Marking it default clears the
// flag on the others.
func (s *Service) Upsert(ctx context.Context, point fiscal.SalesPoint) (fiscal.SalesPoint, error) {
	const op = "upsert sales point"

	if point.Number < 1 || point.Number > 99998 {
		return fiscal.SalesPoint{}, &fiscal.Error{Kind: fiscal.KindValidation, Op: op, TenantID: point.TenantID, Message: "number must be between 1 and 99998"}
	}
	switch point.EmissionKind {
	case "":
		point.EmissionKind = fiscal.EmissionCAE
	case fiscal.EmissionCAE, fiscal.EmissionCAEA:
	default:
		return fiscal.SalesPoint{}, &fiscal.Error{Kind: fiscal.KindValidation, Op: op, TenantID: point.TenantID, Message: fmt.Sprintf("unknown emission kind %q", point.EmissionKind)}
	}

	if err := s.registry.Upsert(ctx, point); err != nil {
		return fiscal.SalesPoint{}, fmt.Errorf("%s tenant=%s number=%d: %w", op, point.TenantID, point.Number, err)
	}
	return point, nil
}

// Sync replaces the registry with AFIP's list (FEParamGetPtosVenta), keeping
// the tenant's default choice when that point still exists.
func (s *Service) Sync(ctx context.Context, tenantID string) ([]fiscal.SalesPoint, error) {
	const op = "sync sales points"

	cfg, err := s.configs.Get(ctx, tenantID)
	if errors.Is(err, fiscal.ErrNotFound) {
		return nil, &fiscal.Error{Kind: fiscal.KindConfiguration, Op: op, TenantID: tenantID, Message: "tenant has no fiscal configuration", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("%s tenant=%s: %w", op, tenantID, err)
	}

	ticket, err := s.tickets.GetTicket(ctx, tenantID)
	if err != nil {
		return nil, fiscal.WithContext(err, op, tenantID, "")
	}

	remote, err := s.remote.SalesPoints(ctx, *cfg, ticket)
	if err != nil && !errors.Is(err, fiscal.ErrNotFound) {
		return nil, fiscal.WithContext(err, op, tenantID, "")
	}

	current, err := s.registry.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s tenant=%s: %w", op, tenantID, err)
	}
	defaults := make(map[int]bool, len(current))
	for _, p := range current {
		if p.Default {
			defaults[p.Number] = true
		}
	}

	synced := make([]fiscal.SalesPoint, 0, len(remote))
	for _, p := range remote {
		p.TenantID = tenantID
		p.Default = defaults[p.Number]
		synced = append(synced, p)
	}

	if err := s.registry.Replace(ctx, tenantID, synced); err != nil {
		return nil, fmt.Errorf("%s tenant=%s: %w", op, tenantID, err)
	}
	s.log.Info("Sales points synchronized", "tenant_id", tenantID, "count", len(synced))
	return synced, nil
}
