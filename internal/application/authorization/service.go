package authorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/lock"
)

// TicketSource hands out access tickets and forgets them when WSFE refuses one.
type TicketSource interface {
	GetTicket(ctx context.Context, tenantID string) (fiscal.Ticket, error)
	Invalidate(ctx context.Context, tenantID string) error
}

// InvoiceAuthority is the WSFEv1 surface the service needs.
type InvoiceAuthority interface {
	GetLastAuthorized(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket, salesPoint int, docType fiscal.DocumentType) (int64, error)
	RequestAuthorization(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket, draft fiscal.Draft) (fiscal.Outcome, error)
	Consult(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket, salesPoint int, docType fiscal.DocumentType, number int64) (fiscal.DocumentSnapshot, error)
}

// Recorder persists the outcome of an authorization attempt.
type Recorder interface {
	Record(ctx context.Context, cfg fiscal.FiscalConfig, draft fiscal.Draft, outcome fiscal.Outcome) (fiscal.FiscalDocument, error)
}

// Observer receives one sample per finished authorization attempt.
type Observer interface {
	ObserveAuthorization(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveAuthorization(string) {}

// Service orchestrates CAE authorization: ticket, per-sequence lock, WSFE
// submission and compliance record.
type Service struct {
	configs     fiscal.ConfigStore
	salesPoints fiscal.SalesPointRegistry
	documents   fiscal.DocumentRepository
	tickets     TicketSource
	authority   InvoiceAuthority
	recorder    Recorder
	locker      lock.Locker
	observer    Observer
	log         *slog.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Configs     fiscal.ConfigStore
	SalesPoints fiscal.SalesPointRegistry
	Documents   fiscal.DocumentRepository
	Tickets     TicketSource
	Authority   InvoiceAuthority
	Recorder    Recorder
	Locker      lock.Locker
	Observer    Observer // optional
}

// NewService creates a new authorization service.
func NewService(deps Deps, log *slog.Logger) *Service {
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		configs:     deps.Configs,
		salesPoints: deps.SalesPoints,
		documents:   deps.Documents,
		tickets:     deps.Tickets,
		authority:   deps.Authority,
		recorder:    deps.Recorder,
		locker:      deps.Locker,
		observer:    observer,
		log:         log,
	}
}

// Authorize obtains a CAE for draft. The last-number query and the submission
// run under an exclusive lock on (tenant, sales point, document type), so two
// drafts of one sequence never compete for the same number.
//
// A rejection returns the recorded REJECTED document together with a
// *fiscal.RejectionError. A TransientError means re-invoking is safe.
func (s *Service) Authorize(ctx context.Context, draft fiscal.Draft) (fiscal.FiscalDocument, error) {
	const op = "authorize"
	key := draft.Key()

	if err := draft.Validate(); err != nil {
		s.observer.ObserveAuthorization("invalid")
		return fiscal.FiscalDocument{}, err
	}

	cfg, err := s.loadConfig(ctx, draft.TenantID)
	if err != nil {
		return fiscal.FiscalDocument{}, fiscal.WithContext(err, op, draft.TenantID, key.String())
	}
	if err := s.checkSalesPoint(ctx, draft.TenantID, draft.SalesPoint); err != nil {
		return fiscal.FiscalDocument{}, fiscal.WithContext(err, op, draft.TenantID, key.String())
	}

	ticket, err := s.tickets.GetTicket(ctx, draft.TenantID)
	if err != nil {
		s.observer.ObserveAuthorization("error")
		return fiscal.FiscalDocument{}, fiscal.WithContext(err, op, draft.TenantID, key.String())
	}

	held, unlock, err := s.locker.Lock(ctx, key.String())
	if err != nil {
		s.observer.ObserveAuthorization("error")
		return fiscal.FiscalDocument{}, &fiscal.Error{
			Kind:     fiscal.KindTransient,
			Op:       op,
			TenantID: draft.TenantID,
			Key:      key.String(),
			Message:  "sequence lock not acquired",
			Err:      err,
		}
	}
	defer unlock()

	// held ends if exclusion is lost, which aborts a submission not yet dispatched.
	outcome, err := s.authority.RequestAuthorization(held, *cfg, ticket, draft)
	if err != nil {
		s.remoteFailed(ctx, draft.TenantID, err)
		s.observer.ObserveAuthorization("error")
		return fiscal.FiscalDocument{}, fiscal.WithContext(err, op, draft.TenantID, key.String())
	}

	// The number is consumed on AFIP's side; the record must be written even if
	// the caller gave up meanwhile.
	doc, err := s.recorder.Record(context.WithoutCancel(ctx), *cfg, draft, outcome)
	if err != nil {
		s.log.Error("Failed to record fiscal document after AFIP answered",
			"tenant_id", draft.TenantID,
			"key", key.String(),
			"number", outcome.SequenceNumber,
			"outcome", outcome.Kind,
			"cae", outcome.CAE,
			"cae_expires_at", outcome.CAEExpiresAt,
			"error", err,
		)
		s.observer.ObserveAuthorization("record_error")
		return fiscal.FiscalDocument{}, fmt.Errorf("%s tenant=%s key=%s: %w", op, draft.TenantID, key, err)
	}
	s.observer.ObserveAuthorization(string(outcome.Kind))

	if !outcome.Approved() {
		s.log.Warn("AFIP rejected fiscal document",
			"tenant_id", draft.TenantID,
			"full_number", doc.FullNumber,
			"observations", outcome.Observations,
		)
		return doc, &fiscal.RejectionError{Key: key, SequenceNumber: outcome.SequenceNumber, Observations: outcome.Observations}
	}

	s.log.Info("Fiscal document authorized",
		"tenant_id", draft.TenantID,
		"full_number", doc.FullNumber,
		"document_id", doc.ID,
		"reprocessed", doc.Reprocessed,
	)
	return doc, nil
}

// LastAuthorized returns the last number AFIP authorized for a sequence.
func (s *Service) LastAuthorized(ctx context.Context, tenantID string, salesPoint int, docType fiscal.DocumentType) (int64, error) {
	const op = "last authorized"
	key := fiscal.SequenceKey{TenantID: tenantID, SalesPoint: salesPoint, DocumentType: docType}

	cfg, ticket, err := s.session(ctx, tenantID)
	if err != nil {
		return 0, fiscal.WithContext(err, op, tenantID, key.String())
	}
	last, err := s.authority.GetLastAuthorized(ctx, *cfg, ticket, salesPoint, docType)
	if err != nil {
		s.remoteFailed(ctx, tenantID, err)
		return 0, fiscal.WithContext(err, op, tenantID, key.String())
	}
	return last, nil
}

// Consult returns AFIP's stored copy of an authorized document.
func (s *Service) Consult(ctx context.Context, tenantID string, salesPoint int, docType fiscal.DocumentType, number int64) (fiscal.DocumentSnapshot, error) {
	const op = "consult"
	key := fiscal.SequenceKey{TenantID: tenantID, SalesPoint: salesPoint, DocumentType: docType}

	cfg, ticket, err := s.session(ctx, tenantID)
	if err != nil {
		return fiscal.DocumentSnapshot{}, fiscal.WithContext(err, op, tenantID, key.String())
	}
	snapshot, err := s.authority.Consult(ctx, *cfg, ticket, salesPoint, docType, number)
	if err != nil {
		s.remoteFailed(ctx, tenantID, err)
		return fiscal.DocumentSnapshot{}, fiscal.WithContext(err, op, tenantID, key.String())
	}
	return snapshot, nil
}

// GetDocument returns a stored fiscal document of the tenant.
func (s *Service) GetDocument(ctx context.Context, tenantID, id string) (*fiscal.FiscalDocument, error) {
	doc, err := s.documents.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// FindByNumber returns the stored record for a sequence number, preferring the
// AUTHORIZED one.
func (s *Service) FindByNumber(ctx context.Context, key fiscal.SequenceKey, number int64) (*fiscal.FiscalDocument, error) {
	doc, err := s.documents.FindByNumber(ctx, key, number)
	if err != nil {
		return nil, fmt.Errorf("find document %s/%d: %w", key, number, err)
	}
	return doc, nil
}

func (s *Service) session(ctx context.Context, tenantID string) (*fiscal.FiscalConfig, fiscal.Ticket, error) {
	cfg, err := s.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, fiscal.Ticket{}, err
	}
	ticket, err := s.tickets.GetTicket(ctx, tenantID)
	if err != nil {
		return nil, fiscal.Ticket{}, err
	}
	return cfg, ticket, nil
}

func (s *Service) loadConfig(ctx context.Context, tenantID string) (*fiscal.FiscalConfig, error) {
	cfg, err := s.configs.Get(ctx, tenantID)
	if errors.Is(err, fiscal.ErrNotFound) {
		return nil, fiscal.NewError(fiscal.KindConfiguration, "load fiscal config", "tenant has no fiscal configuration", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load fiscal config: %w", err)
	}
	return cfg, nil
}

func (s *Service) checkSalesPoint(ctx context.Context, tenantID string, number int) error {
	points, err := s.salesPoints.List(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list sales points: %w", err)
	}
	for _, p := range points {
		if p.Number != number {
			continue
		}
		if !p.AcceptsCAE() {
			return fiscal.NewError(fiscal.KindConfiguration, "check sales point",
				fmt.Sprintf("sales point %d cannot issue CAE documents", number), nil)
		}
		return nil
	}
	return fiscal.NewError(fiscal.KindConfiguration, "check sales point",
		fmt.Sprintf("sales point %d is not registered", number), nil)
}

// remoteFailed drops a ticket WSFE refused so the next call logs in again.
func (s *Service) remoteFailed(ctx context.Context, tenantID string, err error) {
	if fiscal.KindOf(err) != fiscal.KindAuthentication {
		return
	}
	if ierr := s.tickets.Invalidate(context.WithoutCancel(ctx), tenantID); ierr != nil {
		s.log.Error("Failed to invalidate refused ticket", "tenant_id", tenantID, "error", ierr)
		return
	}
	s.log.Warn("WSFE refused access ticket, invalidated", "tenant_id", tenantID, "error", err)
}
