package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/security"
)

// ConfigStore implements fiscal.ConfigStore. The private key, its passphrase and
// the ticket pair are sealed before they reach the database.
type ConfigStore struct {
	pool   *pgxpool.Pool
	sealer *security.Sealer
	log    *slog.Logger
}

// NewConfigStore creates a PostgreSQL fiscal configuration store.
func NewConfigStore(pool *pgxpool.Pool, sealer *security.Sealer, log *slog.Logger) *ConfigStore {
	return &ConfigStore{pool: pool, sealer: sealer, log: log}
}

// Sealed columns are bound to tenant and column so a ciphertext copied to another
// row or field does not open.
func binding(tenantID, column string) string {
	return tenantID + "/" + column
}

func (s *ConfigStore) seal(tenantID, column, value string) ([]byte, error) {
	sealed, err := s.sealer.Seal(value, binding(tenantID, column))
	if err != nil {
		return nil, fmt.Errorf("seal %s: %w", column, err)
	}
	return sealed, nil
}

func (s *ConfigStore) open(tenantID, column string, sealed []byte) (string, error) {
	value, err := s.sealer.Open(sealed, binding(tenantID, column))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", column, err)
	}
	return value, nil
}

// Get returns fiscal.ErrNotFound when the tenant was never onboarded.
func (s *ConfigStore) Get(ctx context.Context, tenantID string) (*fiscal.FiscalConfig, error) {
	query := `
		SELECT tenant_id, environment, certificate_pem, private_key_sealed, passphrase_sealed,
		       cuit, status, ticket_token_sealed, ticket_sign_sealed, ticket_expires_at,
		       last_error, updated_at
		FROM fiscal_configs
		WHERE tenant_id = $1
	`

	var (
		cfg                     fiscal.FiscalConfig
		keySealed, passSealed   []byte
		tokenSealed, signSealed []byte
		ticketExpiresAt         *time.Time
	)
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&cfg.TenantID,
		&cfg.Environment,
		&cfg.CertificatePEM,
		&keySealed,
		&passSealed,
		&cfg.CUIT,
		&cfg.Status,
		&tokenSealed,
		&signSealed,
		&ticketExpiresAt,
		&cfg.LastError,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fiscal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query fiscal config: %w", err)
	}

	if cfg.PrivateKeyPEM, err = s.open(tenantID, "private_key", keySealed); err != nil {
		return nil, err
	}
	if cfg.KeyPassphrase, err = s.open(tenantID, "passphrase", passSealed); err != nil {
		return nil, err
	}

	if ticketExpiresAt != nil {
		token, terr := s.open(tenantID, "ticket_token", tokenSealed)
		sign, serr := s.open(tenantID, "ticket_sign", signSealed)
		if terr != nil || serr != nil {
			// An unreadable ticket is only a cache miss; the authority will log in again.
			s.log.Warn("Discarding unreadable stored ticket", "tenant_id", tenantID, "error", errors.Join(terr, serr))
		} else {
			cfg.Ticket = fiscal.Ticket{Token: token, Sign: sign, ExpiresAt: *ticketExpiresAt}
		}
	}

	return &cfg, nil
}

// Save inserts or replaces the tenant's credentials. Status, ticket and last
// error start over.
func (s *ConfigStore) Save(ctx context.Context, cfg fiscal.FiscalConfig) error {
	keySealed, err := s.seal(cfg.TenantID, "private_key", cfg.PrivateKeyPEM)
	if err != nil {
		return err
	}
	passSealed, err := s.seal(cfg.TenantID, "passphrase", cfg.KeyPassphrase)
	if err != nil {
		return err
	}

	status := cfg.Status
	if status == "" {
		status = fiscal.StatusPendingSetup
	}

	query := `
		INSERT INTO fiscal_configs (
			tenant_id, environment, certificate_pem, private_key_sealed, passphrase_sealed,
			cuit, status, last_error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, '', NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			environment         = EXCLUDED.environment,
			certificate_pem     = EXCLUDED.certificate_pem,
			private_key_sealed  = EXCLUDED.private_key_sealed,
			passphrase_sealed   = EXCLUDED.passphrase_sealed,
			cuit                = EXCLUDED.cuit,
			status              = EXCLUDED.status,
			ticket_token_sealed = NULL,
			ticket_sign_sealed  = NULL,
			ticket_expires_at   = NULL,
			last_error          = '',
			updated_at          = NOW()
	`
	if _, err := s.pool.Exec(ctx, query,
		cfg.TenantID,
		cfg.Environment,
		cfg.CertificatePEM,
		keySealed,
		passSealed,
		cfg.CUIT,
		status,
	); err != nil {
		return fmt.Errorf("upsert fiscal config: %w", err)
	}

	s.log.Debug("Fiscal config saved", "tenant_id", cfg.TenantID, "environment", cfg.Environment)
	return nil
}

// UpdateTicket stores a freshly issued ticket and marks the configuration ACTIVE.
func (s *ConfigStore) UpdateTicket(ctx context.Context, tenantID string, ticket fiscal.Ticket) error {
	tokenSealed, err := s.seal(tenantID, "ticket_token", ticket.Token)
	if err != nil {
		return err
	}
	signSealed, err := s.seal(tenantID, "ticket_sign", ticket.Sign)
	if err != nil {
		return err
	}

	query := `
		UPDATE fiscal_configs SET
			ticket_token_sealed = $2,
			ticket_sign_sealed  = $3,
			ticket_expires_at   = $4,
			status              = $5,
			last_error          = '',
			updated_at          = NOW()
		WHERE tenant_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, tokenSealed, signSealed, ticket.ExpiresAt, fiscal.StatusActive)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

// UpdateStatus records a status transition and its last error message.
func (s *ConfigStore) UpdateStatus(ctx context.Context, tenantID string, status fiscal.ConfigStatus, lastError string) error {
	query := `
		UPDATE fiscal_configs SET status = $2, last_error = $3, updated_at = NOW()
		WHERE tenant_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, status, lastError)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

// ClearTicket drops the stored ticket without touching the status.
func (s *ConfigStore) ClearTicket(ctx context.Context, tenantID string) error {
	query := `
		UPDATE fiscal_configs SET
			ticket_token_sealed = NULL,
			ticket_sign_sealed  = NULL,
			ticket_expires_at   = NULL,
			updated_at          = NOW()
		WHERE tenant_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, tenantID)
	if err != nil {
		return fmt.Errorf("clear ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

var _ fiscal.ConfigStore = (*ConfigStore)(nil)
