// Package device implements the aggregate repository and application
// service for the Device aggregate: optimistic-concurrency mutation
// plus the transactional outbox append that makes the mutation
// observable to the rest of the system.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Ascinocco/device-management/internal/domain"
)

var (
	ErrNotFound = errors.New("device: not found")
	ErrConflict = errors.New("device: optimistic concurrency conflict")
)

// Repository performs raw SQL access to the devices table within a
// caller-supplied transaction. It holds no state of its own.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) ExistsByMAC(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, mac string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM devices WHERE tenant_id = $1 AND mac_address = $2
		)
	`, tenantID, mac).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("device: exists_by_mac: %w", err)
	}
	return exists, nil
}

func (r *Repository) Add(ctx context.Context, tx pgx.Tx, d domain.Device) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO devices (id, tenant_id, mac_address, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.TenantID, d.MACAddress, string(d.Status), d.CreatedAt, d.UpdatedAt, d.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("device: %w: %s", domain.ErrValidation, "MAC address already exists for tenant")
		}
		return fmt.Errorf("device: add: %w", err)
	}
	return nil
}

func (r *Repository) CountByTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (int, error) {
	var total int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM devices WHERE tenant_id = $1`, tenantID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("device: count_by_tenant: %w", err)
	}
	return total, nil
}

// ListByTenant returns rows ordered by (created_at ASC, id ASC) — a
// contract relied on by callers for stable pagination, not incidental.
func (r *Repository) ListByTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, limit, offset int) ([]domain.Device, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, mac_address, status, created_at, updated_at, version
		FROM devices
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("device: list_by_tenant: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("device: list_by_tenant scan: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("device: list_by_tenant: %w", err)
	}
	return devices, nil
}

func (r *Repository) GetByID(ctx context.Context, tx pgx.Tx, tenantID, deviceID uuid.UUID) (domain.Device, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, tenant_id, mac_address, status, created_at, updated_at, version
		FROM devices
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, deviceID)

	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Device{}, ErrNotFound
		}
		return domain.Device{}, fmt.Errorf("device: get_by_id: %w", err)
	}
	return d, nil
}

// Update writes the new status and updated_at, bumping version to
// expectedVersion+1, conditioned on the row still being at
// expectedVersion. Returns true iff exactly one row changed; the caller
// distinguishes not-found from conflict by re-reading on false.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, d domain.Device, expectedVersion int) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE devices
		SET status = $1, updated_at = $2, version = $3
		WHERE tenant_id = $4 AND id = $5 AND version = $6
	`, string(d.Status), d.UpdatedAt, expectedVersion+1, d.TenantID, d.ID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("device: update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(rows pgx.Rows) (domain.Device, error) {
	return scanDeviceRow(rows)
}

func scanDeviceRow(row rowScanner) (domain.Device, error) {
	var (
		d      domain.Device
		status string
	)
	if err := row.Scan(&d.ID, &d.TenantID, &d.MACAddress, &status, &d.CreatedAt, &d.UpdatedAt, &d.Version); err != nil {
		return domain.Device{}, err
	}
	d.Status = domain.Status(status)
	return d, nil
}
