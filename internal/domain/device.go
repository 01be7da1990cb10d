// Package domain holds the Device aggregate: MAC normalization and the
// optimistic-concurrency status transitions. It has no knowledge of
// persistence or transport.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrValidation = errors.New("validation_error")

var macHexPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

// NormalizeMAC lowercases, strips ':' and '-' separators, validates the
// result is 12 hex digits, then re-groups into six colon-separated
// octets. It is idempotent: NormalizeMAC(NormalizeMAC(x)) == NormalizeMAC(x).
func NormalizeMAC(value string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" {
		return "", errValidationf("MAC address is required")
	}
	raw = strings.NewReplacer(":", "", "-", "").Replace(raw)
	if !macHexPattern.MatchString(raw) {
		return "", errValidationf("invalid MAC address format")
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(raw[i : i+2])
	}
	return b.String(), nil
}

func errValidationf(msg string) error {
	return errors.Join(ErrValidation, errors.New(msg))
}

type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// Device is the tenant-scoped aggregate. All fields are immutable from
// the caller's perspective; transitions return a new value.
type Device struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	MACAddress string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int
}

// Retire returns the device transitioned to RETIRED. Version is left
// unchanged; the repository's optimistic UPDATE bumps it on persist.
func (d Device) Retire(reason string, now time.Time) (Device, error) {
	if d.Status == StatusRetired {
		return Device{}, errValidationf("device already retired")
	}
	if strings.TrimSpace(reason) == "" {
		return Device{}, errValidationf("retire reason is required")
	}
	d.Status = StatusRetired
	d.UpdatedAt = now
	return d, nil
}

// Activate returns the device transitioned to ACTIVE.
func (d Device) Activate(reason string, now time.Time) (Device, error) {
	if d.Status == StatusActive {
		return Device{}, errValidationf("device already active")
	}
	if strings.TrimSpace(reason) == "" {
		return Device{}, errValidationf("activation reason is required")
	}
	d.Status = StatusActive
	d.UpdatedAt = now
	return d, nil
}
