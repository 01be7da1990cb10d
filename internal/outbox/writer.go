package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Writer appends a device event to the outbox inside the caller's
// transaction. It is the only piece of the outbox concerned with
// producing rows; the poller claims and delivers them independently.
type Writer struct {
	repo *Repository
}

func NewWriter(repo *Repository) *Writer {
	return &Writer{repo: repo}
}

// AppendDeviceEvent builds the minimal payload a side-effect handler
// needs ({device_id, user_id, [reason]}) and inserts it atomically with
// whatever aggregate mutation the caller already performed on tx.
func (w *Writer) AppendDeviceEvent(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, eventType, deviceID, userID, reason string, now time.Time) error {
	payload, err := json.Marshal(DevicePayload{
		DeviceID: deviceID,
		UserID:   userID,
		Reason:   reason,
	})
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	return w.repo.Add(ctx, tx, Event{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: now,
	})
}
