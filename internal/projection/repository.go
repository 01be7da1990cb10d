package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReadModel is a row projected into device_read_model.
type ReadModel struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	MACAddress string
	Status     string
	OwnerEmail *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int
}

// ReadRepository serves the /projected endpoint, querying the
// eventually-consistent view rather than the authoritative devices
// table.
type ReadRepository struct{}

func NewReadRepository() *ReadRepository {
	return &ReadRepository{}
}

func (r *ReadRepository) CountByTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (int, error) {
	var total int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM device_read_model WHERE tenant_id = $1`, tenantID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("projection: count_by_tenant: %w", err)
	}
	return total, nil
}

func (r *ReadRepository) ListByTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, limit, offset int) ([]ReadModel, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, mac_address, status, owner_email, created_at, updated_at, version
		FROM device_read_model
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("projection: list_by_tenant: %w", err)
	}
	defer rows.Close()

	var out []ReadModel
	for rows.Next() {
		var m ReadModel
		if err := rows.Scan(&m.ID, &m.TenantID, &m.MACAddress, &m.Status, &m.OwnerEmail, &m.CreatedAt, &m.UpdatedAt, &m.Version); err != nil {
			return nil, fmt.Errorf("projection: list_by_tenant scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projection: list_by_tenant: %w", err)
	}
	return out, nil
}
