// Package saga implements DeviceRetirementSaga: the forward
// notification step and its reactivate compensation, with durable
// state recorded for diagnosis (not automatic resumption — see §9).
package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Ascinocco/device-management/internal/clients"
	"github.com/Ascinocco/device-management/internal/resilience"
)

const SagaTypeDeviceRetirement = "device.retirement"

type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

// State is a row in the saga_state table.
type State struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	SagaType    string
	Status      Status
	CurrentStep string
	Payload     []byte
	Error       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RetirementSaga orchestrates post-retirement side effects with
// compensation. One instance is constructed per invocation; it carries
// the caller's transaction so the saga-state writes share the same
// transactional boundary as the outbox claim (§9 Open Question 2).
type RetirementSaga struct {
	tx             pgx.Tx
	tenancy        *clients.TenancyClient
	email          *clients.EmailClient
	deviceService  *clients.DeviceServiceClient
	tenancyBreaker *resilience.Breaker[string]
	emailBreaker   *resilience.Breaker[struct{}]
	logger         *zap.Logger
}

func NewRetirementSaga(
	tx pgx.Tx,
	tenancy *clients.TenancyClient,
	email *clients.EmailClient,
	deviceService *clients.DeviceServiceClient,
	tenancyBreaker *resilience.Breaker[string],
	emailBreaker *resilience.Breaker[struct{}],
	logger *zap.Logger,
) *RetirementSaga {
	return &RetirementSaga{
		tx:             tx,
		tenancy:        tenancy,
		email:          email,
		deviceService:  deviceService,
		tenancyBreaker: tenancyBreaker,
		emailBreaker:   emailBreaker,
		logger:         logger,
	}
}

type startPayload struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	Reason   string `json:"reason"`
}

// Start runs the saga to completion (or documented failure). It never
// returns an error to the caller: every outcome is recorded in
// saga_state, matching the worker's "no error escapes the poll loop"
// policy (§7).
func (s *RetirementSaga) Start(ctx context.Context, tenantID uuid.UUID, deviceID, userID, reason string) {
	sagaID := uuid.New()
	now := time.Now().UTC()

	payload, err := json.Marshal(startPayload{DeviceID: deviceID, UserID: userID, Reason: reason})
	if err != nil {
		s.logger.Error("saga: marshal start payload failed", zap.Error(err))
		return
	}

	if err := s.insert(ctx, sagaID, tenantID, payload, now); err != nil {
		s.logger.Error("saga: failed to persist initial state", zap.String("saga_id", sagaID.String()), zap.Error(err))
		return
	}

	s.logger.Info("saga starting notify step", zap.String("saga_id", sagaID.String()))
	if err := s.stepNotify(ctx, userID, deviceID, reason); err != nil {
		s.logger.Warn("saga notify failed", zap.String("saga_id", sagaID.String()), zap.Error(err))
		s.update(ctx, sagaID, StatusCompensating, "reactivate", err.Error())

		s.logger.Info("saga compensating — reactivating device", zap.String("saga_id", sagaID.String()))
		if compErr := s.stepCompensate(ctx, tenantID, deviceID, reason); compErr != nil {
			s.logger.Error("saga compensation failed", zap.String("saga_id", sagaID.String()), zap.Error(compErr))
			s.update(ctx, sagaID, StatusFailed, "reactivate", compErr.Error())
			return
		}
		s.update(ctx, sagaID, StatusCompensated, "done", "")
		s.logger.Info("saga compensated", zap.String("saga_id", sagaID.String()))
		return
	}

	s.update(ctx, sagaID, StatusCompleted, "done", "")
	s.logger.Info("saga completed", zap.String("saga_id", sagaID.String()))
}

// stepNotify resolves the user's email and sends the retirement
// notice. A missing email or non-200 resolution is a notify-failure.
func (s *RetirementSaga) stepNotify(ctx context.Context, userID, deviceID, reason string) error {
	email, err := s.tenancyBreaker.Call(func() (string, error) {
		return s.tenancy.ResolveEmailStrict(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("saga: resolve email: %w", err)
	}

	displayReason := reason
	if displayReason == "" {
		displayReason = "No reason provided"
	}
	htmlBody := fmt.Sprintf("<p>Device <code>%s</code> was retired.</p><p>Reason: %s</p>",
		html.EscapeString(deviceID), html.EscapeString(displayReason))

	_, err = s.emailBreaker.Call(func() (struct{}, error) {
		return struct{}{}, s.email.Send(ctx, email, "Device retired", htmlBody)
	})
	if err != nil {
		return fmt.Errorf("saga: send notification: %w", err)
	}
	return nil
}

// stepCompensate reverses the retirement by calling back into the
// device service's own activate endpoint with a system identity.
func (s *RetirementSaga) stepCompensate(ctx context.Context, tenantID uuid.UUID, deviceID, reason string) error {
	if err := s.deviceService.Activate(ctx, tenantID.String(), deviceID, compensationReason(reason)); err != nil {
		return fmt.Errorf("saga: reactivate device: %w", err)
	}
	return nil
}

// compensationReason is the reason sent with the reactivation, marking
// it as a saga compensation.
func compensationReason(reason string) string {
	return fmt.Sprintf("Saga compensation: notification failed after retirement (original reason: %s)", reason)
}

func (s *RetirementSaga) insert(ctx context.Context, sagaID, tenantID uuid.UUID, payload []byte, now time.Time) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO saga_state (id, tenant_id, saga_type, status, current_step, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, sagaID, tenantID, SagaTypeDeviceRetirement, string(StatusRunning), "notify", payload, now)
	return err
}

// update persists a status/step transition. Errors are logged, not
// returned: a failure to record saga state must not block the rest of
// the outbox batch (§4.3 failure isolation).
func (s *RetirementSaga) update(ctx context.Context, sagaID uuid.UUID, status Status, step, errMsg string) {
	var errArg any
	if errMsg != "" {
		errArg = truncate(errMsg, 512)
	}
	_, err := s.tx.Exec(ctx, `
		UPDATE saga_state
		SET status = $1, current_step = $2, error = $3, updated_at = $4
		WHERE id = $5
	`, string(status), step, errArg, time.Now().UTC(), sagaID)
	if err != nil {
		s.logger.Error("saga: failed to update state", zap.String("saga_id", sagaID.String()), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
