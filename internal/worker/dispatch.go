// Package worker dispatches a single claimed outbox event: it always
// projects first (§9 Open Question 1 — the read model must reflect
// reality even if the side-effect handler later fails), then runs the
// event-specific side effect.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Ascinocco/device-management/internal/clients"
	"github.com/Ascinocco/device-management/internal/outbox"
	"github.com/Ascinocco/device-management/internal/projection"
	"github.com/Ascinocco/device-management/internal/resilience"
	"github.com/Ascinocco/device-management/internal/saga"
)

// Dispatcher wires the projector and the per-event-type side-effect
// handlers. One instance is shared across poll cycles; it is stateless
// beyond its collaborators.
type Dispatcher struct {
	projector      *projection.Projector
	tenancy        *clients.TenancyClient
	email          *clients.EmailClient
	deviceService  *clients.DeviceServiceClient
	tenancyBreaker *resilience.Breaker[string]
	emailBreaker   *resilience.Breaker[struct{}]
	logger         *zap.Logger
}

func NewDispatcher(
	projector *projection.Projector,
	tenancy *clients.TenancyClient,
	email *clients.EmailClient,
	deviceService *clients.DeviceServiceClient,
	tenancyBreaker *resilience.Breaker[string],
	emailBreaker *resilience.Breaker[struct{}],
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		projector:      projector,
		tenancy:        tenancy,
		email:          email,
		deviceService:  deviceService,
		tenancyBreaker: tenancyBreaker,
		emailBreaker:   emailBreaker,
		logger:         logger,
	}
}

// Dispatch applies event to the read model, then runs its side effect.
// A resilience.ErrCircuitOpen from the side-effect step is returned
// unwrapped so the poller can treat it as a distinct, non-attempt-
// incrementing outcome (§4.3); any other error is a generic failure.
func (d *Dispatcher) Dispatch(ctx context.Context, tx pgx.Tx, e outbox.Event) error {
	if err := d.projector.Apply(ctx, tx, e.EventType, e.Payload); err != nil {
		return fmt.Errorf("worker: project event: %w", err)
	}

	switch e.EventType {
	case outbox.EventDeviceRetired:
		return d.handleRetired(ctx, tx, e)
	case outbox.EventDeviceActivated:
		return d.notify(ctx, e, "Device activated", "Your device is active.")
	case outbox.EventDeviceCreated:
		return d.notify(ctx, e, "Device registered", "Your device has been registered.")
	default:
		d.logger.Debug("worker: no handler for event type", zap.String("event_type", e.EventType))
		return nil
	}
}

func (d *Dispatcher) handleRetired(ctx context.Context, tx pgx.Tx, e outbox.Event) error {
	var payload outbox.DevicePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("worker: decode retirement payload: %w", err)
	}
	if payload.UserID == "" {
		return nil
	}

	s := saga.NewRetirementSaga(tx, d.tenancy, d.email, d.deviceService, d.tenancyBreaker, d.emailBreaker, d.logger)
	s.Start(ctx, e.TenantID, payload.DeviceID, payload.UserID, payload.Reason)
	return nil
}

// notify sends a simple, non-compensated notification for device.
// created/device.activated. A circuit-open outcome propagates to the
// caller distinctly from any other failure.
func (d *Dispatcher) notify(ctx context.Context, e outbox.Event, subject, body string) error {
	var payload outbox.DevicePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("worker: decode notify payload: %w", err)
	}
	if payload.UserID == "" {
		return nil
	}

	email, err := d.tenancyBreaker.Call(func() (string, error) {
		return d.tenancy.ResolveEmail(ctx, payload.UserID)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return err
		}
		return fmt.Errorf("worker: resolve email: %w", err)
	}
	if email == "" {
		return nil
	}

	htmlBody := fmt.Sprintf("<p>%s</p>", html.EscapeString(body))
	_, err = d.emailBreaker.Call(func() (struct{}, error) {
		return struct{}{}, d.email.Send(ctx, email, subject, htmlBody)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return err
		}
		return fmt.Errorf("worker: send notification: %w", err)
	}
	return nil
}
