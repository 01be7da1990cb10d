// Package outbox implements the transactional outbox: the atomic
// append of domain events alongside aggregate writes, and the
// claim/dispatch poller that delivers them at least once.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventDeviceCreated   = "device.created"
	EventDeviceRetired   = "device.retired"
	EventDeviceActivated = "device.activated"
)

// Event is a row in the outbox table. Payload is opaque JSON; callers
// decode only the fields they need.
type Event struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Attempts    int
	LastError   *string
}

// DevicePayload is the shape shared by all device.* events.
type DevicePayload struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	Reason   string `json:"reason,omitempty"`
}
