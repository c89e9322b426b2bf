package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// SalesPointRegistry implements fiscal.SalesPointRegistry using PostgreSQL.
type SalesPointRegistry struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewSalesPointRegistry creates a PostgreSQL sales point registry.
func NewSalesPointRegistry(pool *pgxpool.Pool, log *slog.Logger) *SalesPointRegistry {
	return &SalesPointRegistry{pool: pool, log: log}
}

// List returns the tenant's sales points ordered by number.
func (r *SalesPointRegistry) List(ctx context.Context, tenantID string) ([]fiscal.SalesPoint, error) {
	query := `
		SELECT tenant_id, number, active, emission_kind, is_default, blocked, deregistered_at
		FROM sales_points
		WHERE tenant_id = $1
		ORDER BY number
	`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query sales points: %w", err)
	}
	defer rows.Close()

	var points []fiscal.SalesPoint
	for rows.Next() {
		var p fiscal.SalesPoint
		if err := rows.Scan(&p.TenantID, &p.Number, &p.Active, &p.EmissionKind, &p.Default, &p.Blocked, &p.DeregisteredAt); err != nil {
			return nil, fmt.Errorf("scan sales point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return points, nil
}

const upsertSalesPoint = `
	INSERT INTO sales_points (tenant_id, number, active, emission_kind, is_default, blocked, deregistered_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (tenant_id, number) DO UPDATE SET
		active          = EXCLUDED.active,
		emission_kind   = EXCLUDED.emission_kind,
		is_default      = EXCLUDED.is_default,
		blocked         = EXCLUDED.blocked,
		deregistered_at = EXCLUDED.deregistered_at,
		updated_at      = NOW()
`

// Upsert registers or updates one sales point. A default point clears the flag
// on the tenant's other points in the same transaction.
func (r *SalesPointRegistry) Upsert(ctx context.Context, point fiscal.SalesPoint) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if point.Default {
		if _, err := tx.Exec(ctx,
			`UPDATE sales_points SET is_default = FALSE, updated_at = NOW() WHERE tenant_id = $1 AND number <> $2 AND is_default`,
			point.TenantID, point.Number,
		); err != nil {
			return fmt.Errorf("clear default sales point: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, upsertSalesPoint,
		point.TenantID, point.Number, point.Active, point.EmissionKind, point.Default, point.Blocked, point.DeregisteredAt,
	); err != nil {
		return fmt.Errorf("upsert sales point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Replace overwrites the tenant's whole list atomically.
func (r *SalesPointRegistry) Replace(ctx context.Context, tenantID string, points []fiscal.SalesPoint) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sales_points WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete sales points: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(upsertSalesPoint, tenantID, p.Number, p.Active, p.EmissionKind, p.Default, p.Blocked, p.DeregisteredAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert sales points: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.log.Debug("Sales points replaced", "tenant_id", tenantID, "count", len(points))
	return nil
}

var _ fiscal.SalesPointRegistry = (*SalesPointRegistry)(nil)
