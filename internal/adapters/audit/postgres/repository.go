package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"3tcapital/ms_facturacion_afip/internal/core/audit"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the audit.Repository interface using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(pool *pgxpool.Pool) audit.Repository {
	return &Repository{pool: pool, log: nil}
}

// NewRepositoryWithLogger creates a new PostgreSQL audit repository with logging.
func NewRepositoryWithLogger(pool *pgxpool.Pool, log *slog.Logger) audit.Repository {
	return &Repository{pool: pool, log: log}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Save persists one exchange with AFIP. Bodies arrive already sanitized.
func (r *Repository) Save(ctx context.Context, log audit.ProviderAuditLog) error {
	query := `
		INSERT INTO provider_audit_log (
			correlation_id, tenant_id, provider, operation, request_method, request_url,
			request_headers, request_body, response_status, response_headers,
			response_body, duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	requestHeadersJSON, err := json.Marshal(log.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	responseHeadersJSON, err := json.Marshal(log.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		log.CorrelationID,
		nullable(log.TenantID),
		log.Provider,
		log.Operation,
		log.RequestMethod,
		log.RequestURL,
		requestHeadersJSON,
		nullable(log.RequestBody),
		log.ResponseStatus,
		responseHeadersJSON,
		nullable(log.ResponseBody),
		log.DurationMs,
		log.ErrorMessage,
	)
	if err != nil {
		errMsg := fmt.Errorf("insert audit log: %w", err)
		if r.log != nil {
			r.log.Error("Failed to insert audit log into database",
				"correlation_id", log.CorrelationID,
				"tenant_id", log.TenantID,
				"provider", log.Provider,
				"operation", log.Operation,
				"response_status", log.ResponseStatus,
				"duration_ms", log.DurationMs,
				"error", errMsg,
			)
		}
		return errMsg
	}

	if r.log != nil {
		r.log.Debug("Audit log saved",
			"correlation_id", log.CorrelationID,
			"tenant_id", log.TenantID,
			"operation", log.Operation,
			"duration_ms", log.DurationMs,
		)
	}
	return nil
}

// FindByCorrelationID retrieves all audit logs with the given correlation ID.
func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]audit.ProviderAuditLog, error) {
	query := `
		SELECT id, correlation_id, COALESCE(tenant_id, ''), provider, operation, request_method, request_url,
		       request_headers, COALESCE(request_body, ''), response_status, response_headers,
		       COALESCE(response_body, ''), duration_ms, error_message, created_at
		FROM provider_audit_log
		WHERE correlation_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []audit.ProviderAuditLog
	for rows.Next() {
		var log audit.ProviderAuditLog
		var requestHeadersJSON, responseHeadersJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.CorrelationID,
			&log.TenantID,
			&log.Provider,
			&log.Operation,
			&log.RequestMethod,
			&log.RequestURL,
			&requestHeadersJSON,
			&log.RequestBody,
			&log.ResponseStatus,
			&responseHeadersJSON,
			&log.ResponseBody,
			&log.DurationMs,
			&log.ErrorMessage,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}

		if len(requestHeadersJSON) > 0 {
			if err := json.Unmarshal(requestHeadersJSON, &log.RequestHeaders); err != nil {
				return nil, fmt.Errorf("unmarshal request headers: %w", err)
			}
		}
		if len(responseHeadersJSON) > 0 {
			if err := json.Unmarshal(responseHeadersJSON, &log.ResponseHeaders); err != nil {
				return nil, fmt.Errorf("unmarshal response headers: %w", err)
			}
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return logs, nil
}
