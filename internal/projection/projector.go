// Package projection maintains device_read_model: a denormalized,
// eventually-consistent view built by folding outbox events, kept
// separate from the authoritative devices table so read-heavy
// dashboards never contend with the write path.
package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Ascinocco/device-management/internal/clients"
	"github.com/Ascinocco/device-management/internal/outbox"
	"github.com/Ascinocco/device-management/internal/resilience"
)

// Projector applies a single outbox event to device_read_model. It is
// idempotent: replaying the same event (or processing it out of order
// relative to a concurrent mutation) converges on the same row because
// every write re-reads the authoritative devices row rather than
// trusting the event payload's own fields.
type Projector struct {
	tenancy        *clients.TenancyClient
	tenancyBreaker *resilience.Breaker[string]
}

func NewProjector(tenancy *clients.TenancyClient, tenancyBreaker *resilience.Breaker[string]) *Projector {
	return &Projector{tenancy: tenancy, tenancyBreaker: tenancyBreaker}
}

// Apply is a no-op for payloads missing device_id, and for event types
// this projector doesn't know about — unknown event types are not an
// error (§4.4).
func (p *Projector) Apply(ctx context.Context, tx pgx.Tx, eventType string, payload []byte) error {
	switch eventType {
	case outbox.EventDeviceCreated, outbox.EventDeviceRetired, outbox.EventDeviceActivated:
	default:
		return nil
	}

	var body outbox.DevicePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("projection: decode payload: %w", err)
	}
	if body.DeviceID == "" {
		return nil
	}
	deviceID, err := uuid.Parse(body.DeviceID)
	if err != nil {
		return fmt.Errorf("projection: invalid device_id %q: %w", body.DeviceID, err)
	}

	switch eventType {
	case outbox.EventDeviceCreated:
		return p.projectCreated(ctx, tx, deviceID, body.UserID)
	case outbox.EventDeviceRetired, outbox.EventDeviceActivated:
		return p.projectStatusChange(ctx, tx, deviceID)
	default:
		return nil
	}
}

// projectCreated inserts the read-model row from the authoritative
// device, best-effort resolving the owner's email. A failed resolution
// does not fail the projection: owner_email is left null on first
// insert, or preserved via COALESCE on a later retry of this same
// event.
func (p *Projector) projectCreated(ctx context.Context, tx pgx.Tx, deviceID uuid.UUID, userID string) error {
	var ownerEmail *string
	if userID != "" {
		email, err := p.tenancyBreaker.Call(func() (string, error) {
			return p.tenancy.ResolveEmail(ctx, userID)
		})
		if err == nil && email != "" {
			ownerEmail = &email
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO device_read_model (id, tenant_id, mac_address, status, owner_email, created_at, updated_at, version)
		SELECT d.id, d.tenant_id, d.mac_address, d.status, $2, d.created_at, d.updated_at, d.version
		FROM devices d
		WHERE d.id = $1
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			owner_email = COALESCE(EXCLUDED.owner_email, device_read_model.owner_email),
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
	`, deviceID, ownerEmail)
	if err != nil {
		return fmt.Errorf("projection: project created: %w", err)
	}
	return nil
}

// projectStatusChange syncs status/updated_at/version from the
// authoritative row; it never touches owner_email.
func (p *Projector) projectStatusChange(ctx context.Context, tx pgx.Tx, deviceID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE device_read_model drm
		SET status = d.status, updated_at = d.updated_at, version = d.version
		FROM devices d
		WHERE drm.id = $1 AND d.id = $1
	`, deviceID)
	if err != nil {
		return fmt.Errorf("projection: project status change: %w", err)
	}
	return nil
}
