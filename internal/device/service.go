package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ascinocco/device-management/internal/domain"
	"github.com/Ascinocco/device-management/internal/outbox"
)

// withTx runs fn inside a single transaction, committing on success and
// rolling back on any error (including a panic re-raised after
// rollback). Every Service method is exactly one such transaction.
func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("device: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("device: commit tx: %w", err)
	}
	return nil
}

// RequestContext carries the caller identity every command and query
// is scoped to.
type RequestContext struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// View is the API-facing projection of a Device.
type View struct {
	ID         uuid.UUID
	MACAddress string
	Status     domain.Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int
}

func toView(d domain.Device) View {
	return View{
		ID:         d.ID,
		MACAddress: d.MACAddress,
		Status:     d.Status,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		Version:    d.Version,
	}
}

type PageMeta struct {
	Limit   int
	Offset  int
	Total   int
	HasNext bool
	OrderBy []string
}

type ListResult struct {
	Data []View
	Page PageMeta
}

// Service is the device aggregate's application service: it composes
// the repository and the outbox writer inside one transaction per
// command, so the mutation and the event that announces it commit or
// roll back together.
type Service struct {
	pool       *pgxpool.Pool
	repo       *Repository
	outboxRepo *outbox.Repository
	writer     *outbox.Writer
}

func NewService(pool *pgxpool.Pool, repo *Repository, outboxRepo *outbox.Repository) *Service {
	return &Service{
		pool:       pool,
		repo:       repo,
		outboxRepo: outboxRepo,
		writer:     outbox.NewWriter(outboxRepo),
	}
}

func (s *Service) Create(ctx context.Context, rc RequestContext, macAddress string) (View, error) {
	mac, err := domain.NormalizeMAC(macAddress)
	if err != nil {
		return View{}, err
	}

	var result View
	err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
		exists, err := s.repo.ExistsByMAC(ctx, tx, rc.TenantID, mac)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("device: %w: %s", domain.ErrValidation, "MAC address already exists for tenant")
		}

		now := time.Now().UTC()
		d := domain.Device{
			ID:         uuid.New(),
			TenantID:   rc.TenantID,
			MACAddress: mac,
			Status:     domain.StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    1,
		}
		if err := s.repo.Add(ctx, tx, d); err != nil {
			return err
		}
		if err := s.writer.AppendDeviceEvent(ctx, tx, rc.TenantID, outbox.EventDeviceCreated, d.ID.String(), rc.UserID.String(), "", now); err != nil {
			return err
		}
		result = toView(d)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, rc RequestContext, deviceID uuid.UUID) (View, error) {
	var result View
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		d, err := s.repo.GetByID(ctx, tx, rc.TenantID, deviceID)
		if err != nil {
			return err
		}
		result = toView(d)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return result, nil
}

func (s *Service) List(ctx context.Context, rc RequestContext, limit, offset int) (ListResult, error) {
	var result ListResult
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		total, err := s.repo.CountByTenant(ctx, tx, rc.TenantID)
		if err != nil {
			return err
		}
		devices, err := s.repo.ListByTenant(ctx, tx, rc.TenantID, limit, offset)
		if err != nil {
			return err
		}
		views := make([]View, 0, len(devices))
		for _, d := range devices {
			views = append(views, toView(d))
		}
		result = ListResult{
			Data: views,
			Page: PageMeta{
				Limit:   limit,
				Offset:  offset,
				Total:   total,
				HasNext: offset+len(views) < total,
				OrderBy: []string{"created_at", "id"},
			},
		}
		return nil
	})
	if err != nil {
		return ListResult{}, err
	}
	return result, nil
}

// Retire transitions the device to RETIRED and appends the
// device.retired event atomically. A failed optimistic-concurrency
// update is disambiguated from not-found by re-reading the row (§4.1).
func (s *Service) Retire(ctx context.Context, rc RequestContext, deviceID uuid.UUID, reason string, expectedVersion int) (View, error) {
	return s.changeStatus(ctx, rc, deviceID, reason, expectedVersion, outbox.EventDeviceRetired, func(d domain.Device, reason string, now time.Time) (domain.Device, error) {
		return d.Retire(reason, now)
	})
}

// Activate transitions the device to ACTIVE and appends the
// device.activated event atomically.
func (s *Service) Activate(ctx context.Context, rc RequestContext, deviceID uuid.UUID, reason string, expectedVersion int) (View, error) {
	return s.changeStatus(ctx, rc, deviceID, reason, expectedVersion, outbox.EventDeviceActivated, func(d domain.Device, reason string, now time.Time) (domain.Device, error) {
		return d.Activate(reason, now)
	})
}

func (s *Service) changeStatus(
	ctx context.Context,
	rc RequestContext,
	deviceID uuid.UUID,
	reason string,
	expectedVersion int,
	eventType string,
	transition func(domain.Device, string, time.Time) (domain.Device, error),
) (View, error) {
	var result View
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		d, err := s.repo.GetByID(ctx, tx, rc.TenantID, deviceID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		next, err := transition(d, reason, now)
		if err != nil {
			return err
		}

		updated, err := s.repo.Update(ctx, tx, next, expectedVersion)
		if err != nil {
			return err
		}
		if !updated {
			if _, stillErr := s.repo.GetByID(ctx, tx, rc.TenantID, deviceID); errors.Is(stillErr, ErrNotFound) {
				return ErrNotFound
			}
			return ErrConflict
		}
		next.Version = expectedVersion + 1

		if err := s.writer.AppendDeviceEvent(ctx, tx, rc.TenantID, eventType, deviceID.String(), rc.UserID.String(), reason, now); err != nil {
			return err
		}
		result = toView(next)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return result, nil
}
