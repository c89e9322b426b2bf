package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

const (
	uniqueViolation      = "23505"
	authorizedConstraint = "uq_fiscal_documents_authorized"
)

// DocumentRepository implements fiscal.DocumentRepository using PostgreSQL. Rows
// are insert-only; the table rejects updates with a trigger.
type DocumentRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewDocumentRepository creates a PostgreSQL fiscal document repository.
func NewDocumentRepository(pool *pgxpool.Pool, log *slog.Logger) *DocumentRepository {
	return &DocumentRepository{pool: pool, log: log}
}

// Create inserts doc. A second AUTHORIZED record for the same number fails with
// fiscal.ErrAlreadyAuthorized.
func (r *DocumentRepository) Create(ctx context.Context, doc fiscal.FiscalDocument) error {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return fmt.Errorf("document id %q: %w", doc.ID, err)
	}

	observations := doc.Observations
	if observations == nil {
		observations = []fiscal.Observation{}
	}
	observationsJSON, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}

	var cae *string
	if doc.CAE != "" {
		cae = &doc.CAE
	}

	query := `
		INSERT INTO fiscal_documents (
			id, tenant_id, invoice_ref, sales_point, document_type, sequence_number, full_number,
			concept, issue_date, receiver_doc_type, receiver_doc_number,
			net, non_taxed, exempt, vat, other_taxes, total, currency, exchange_rate,
			cae, cae_expires_at, status, reprocessed, observations, qr_payload, raw_response, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27
		)
	`

	_, err = r.pool.Exec(ctx, query,
		id,
		doc.TenantID,
		doc.InvoiceRef,
		doc.SalesPoint,
		int(doc.DocumentType),
		doc.SequenceNumber,
		doc.FullNumber,
		int(doc.Concept),
		doc.IssueDate,
		doc.ReceiverDocType,
		doc.ReceiverDocNumber,
		doc.Net,
		doc.NonTaxed,
		doc.Exempt,
		doc.VAT,
		doc.OtherTaxes,
		doc.Total,
		doc.Currency,
		doc.ExchangeRate,
		cae,
		doc.CAEExpiresAt,
		string(doc.Status),
		doc.Reprocessed,
		observationsJSON,
		doc.QRPayload,
		string(doc.RawResponse),
		doc.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == authorizedConstraint {
			return fiscal.ErrAlreadyAuthorized
		}
		r.log.Error("Failed to insert fiscal document",
			"tenant_id", doc.TenantID,
			"full_number", doc.FullNumber,
			"status", doc.Status,
			"error", err,
		)
		return fmt.Errorf("insert fiscal document: %w", err)
	}
	return nil
}

const selectDocument = `
	SELECT id::text, tenant_id, invoice_ref, sales_point, document_type, sequence_number, full_number,
	       concept, issue_date, receiver_doc_type, receiver_doc_number,
	       net, non_taxed, exempt, vat, other_taxes, total, currency, exchange_rate,
	       cae, cae_expires_at, status, reprocessed, observations, qr_payload, raw_response, created_at
	FROM fiscal_documents
`

func scanDocument(row pgx.Row) (*fiscal.FiscalDocument, error) {
	var (
		doc              fiscal.FiscalDocument
		docType, concept int
		cae              *string
		status           string
		observationsJSON []byte
		raw              string
		issueDate        time.Time
	)
	err := row.Scan(
		&doc.ID,
		&doc.TenantID,
		&doc.InvoiceRef,
		&doc.SalesPoint,
		&docType,
		&doc.SequenceNumber,
		&doc.FullNumber,
		&concept,
		&issueDate,
		&doc.ReceiverDocType,
		&doc.ReceiverDocNumber,
		&doc.Net,
		&doc.NonTaxed,
		&doc.Exempt,
		&doc.VAT,
		&doc.OtherTaxes,
		&doc.Total,
		&doc.Currency,
		&doc.ExchangeRate,
		&cae,
		&doc.CAEExpiresAt,
		&status,
		&doc.Reprocessed,
		&observationsJSON,
		&doc.QRPayload,
		&raw,
		&doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fiscal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan fiscal document: %w", err)
	}

	doc.DocumentType = fiscal.DocumentType(docType)
	doc.Concept = fiscal.Concept(concept)
	doc.Status = fiscal.DocumentStatus(status)
	// DATE columns carry no zone; issue dates are Argentine calendar days.
	doc.IssueDate = time.Date(issueDate.Year(), issueDate.Month(), issueDate.Day(), 0, 0, 0, 0, fiscal.Location)
	if cae != nil {
		doc.CAE = *cae
	}
	if raw != "" {
		doc.RawResponse = []byte(raw)
	}
	if err := json.Unmarshal(observationsJSON, &doc.Observations); err != nil {
		return nil, fmt.Errorf("unmarshal observations: %w", err)
	}
	if len(doc.Observations) == 0 {
		doc.Observations = nil
	}
	return &doc, nil
}

// FindByID returns the tenant's document, or fiscal.ErrNotFound.
func (r *DocumentRepository) FindByID(ctx context.Context, tenantID, id string) (*fiscal.FiscalDocument, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fiscal.ErrNotFound
	}
	return scanDocument(r.pool.QueryRow(ctx, selectDocument+` WHERE tenant_id = $1 AND id = $2`, tenantID, parsed))
}

// FindByNumber prefers the AUTHORIZED record, else the latest attempt.
func (r *DocumentRepository) FindByNumber(ctx context.Context, key fiscal.SequenceKey, number int64) (*fiscal.FiscalDocument, error) {
	query := selectDocument + `
		WHERE tenant_id = $1 AND sales_point = $2 AND document_type = $3 AND sequence_number = $4
		ORDER BY (status = 'AUTHORIZED') DESC, created_at DESC
		LIMIT 1
	`
	return scanDocument(r.pool.QueryRow(ctx, query, key.TenantID, key.SalesPoint, int(key.DocumentType), number))
}

var _ fiscal.DocumentRepository = (*DocumentRepository)(nil)
