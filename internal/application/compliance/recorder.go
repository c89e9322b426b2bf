package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// Recorder turns authorization outcomes into immutable FiscalDocument records.
type Recorder struct {
	docs fiscal.DocumentRepository
	log  *slog.Logger
	now  func() time.Time
}

// NewRecorder creates a recorder backed by docs.
func NewRecorder(docs fiscal.DocumentRepository, log *slog.Logger) *Recorder {
	return &Recorder{docs: docs, log: log, now: time.Now}
}

// Record persists the outcome of one authorization attempt. Approvals get a CAE
// and a QR payload; rejections keep the burned number and AFIP's observations.
//
// An approval for a number that already holds an AUTHORIZED record is only
// accepted when AFIP flagged it as reprocessed; the stored record is returned.
func (r *Recorder) Record(ctx context.Context, cfg fiscal.FiscalConfig, draft fiscal.Draft, outcome fiscal.Outcome) (fiscal.FiscalDocument, error) {
	doc := fiscal.FiscalDocument{
		ID:                uuid.NewString(),
		TenantID:          draft.TenantID,
		InvoiceRef:        draft.InvoiceRef,
		SalesPoint:        draft.SalesPoint,
		DocumentType:      draft.DocumentType,
		SequenceNumber:    outcome.SequenceNumber,
		FullNumber:        outcome.FullNumber,
		Concept:           draft.Concept,
		IssueDate:         draft.Date,
		ReceiverDocType:   draft.ReceiverDocType,
		ReceiverDocNumber: draft.ReceiverDocNumber,
		Net:               draft.Net,
		NonTaxed:          draft.NonTaxed,
		Exempt:            draft.Exempt,
		VAT:               draft.VAT,
		OtherTaxes:        draft.OtherTaxes,
		Total:             draft.Total,
		Currency:          draft.CurrencyCode(),
		ExchangeRate:      draft.Rate(),
		Observations:      outcome.Observations,
		RawResponse:       outcome.RawResponse,
		CreatedAt:         r.now(),
	}
	if doc.FullNumber == "" {
		doc.FullNumber = fiscal.FullNumber(doc.SalesPoint, doc.SequenceNumber)
	}

	if outcome.Approved() {
		expires := outcome.CAEExpiresAt
		doc.Status = fiscal.DocumentAuthorized
		doc.CAE = outcome.CAE
		doc.CAEExpiresAt = &expires
		doc.Reprocessed = outcome.Kind == fiscal.OutcomeApprovedReprocessed

		payload, err := NewQRPayload(cfg.CUIT, doc)
		if err != nil {
			return fiscal.FiscalDocument{}, fmt.Errorf("build QR for %s: %w", doc.FullNumber, err)
		}
		if doc.QRPayload, err = BuildQR(payload); err != nil {
			return fiscal.FiscalDocument{}, err
		}
	} else {
		doc.Status = fiscal.DocumentRejected
	}

	err := r.docs.Create(ctx, doc)
	if errors.Is(err, fiscal.ErrAlreadyAuthorized) && doc.Reprocessed {
		existing, ferr := r.docs.FindByNumber(ctx, doc.Key(), doc.SequenceNumber)
		if ferr != nil {
			return fiscal.FiscalDocument{}, fmt.Errorf("load reprocessed document %s: %w", doc.FullNumber, ferr)
		}
		r.log.Info("Reprocessed authorization matches stored document",
			"tenant_id", doc.TenantID,
			"key", doc.Key().String(),
			"number", doc.SequenceNumber,
			"document_id", existing.ID,
		)
		return *existing, nil
	}
	if err != nil {
		return fiscal.FiscalDocument{}, fmt.Errorf("record fiscal document key=%s number=%d: %w", doc.Key(), doc.SequenceNumber, err)
	}

	r.log.Info("Fiscal document recorded",
		"tenant_id", doc.TenantID,
		"document_id", doc.ID,
		"full_number", doc.FullNumber,
		"document_type", int(doc.DocumentType),
		"status", doc.Status,
	)
	return doc, nil
}
