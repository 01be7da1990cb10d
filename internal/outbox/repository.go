package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository performs raw SQL access to the outbox table within a
// caller-supplied transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Add appends a single event row. Callers are responsible for running
// this inside the same transaction as the aggregate mutation that
// produced it — the atomic co-commit is what makes the outbox
// crash-safe.
func (r *Repository) Add(ctx context.Context, tx pgx.Tx, e Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, tenant_id, event_type, payload, created_at, attempts)
		VALUES ($1, $2, $3, $4, $5, 0)
	`, e.ID, e.TenantID, e.EventType, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox: add: %w", err)
	}
	return nil
}

// ClaimBatch selects up to limit unprocessed rows ordered by
// created_at ASC, holding a row-level lock that skips rows already
// locked by a peer poller. Written assuming multiple pollers even
// though the default deployment is a single worker process (§9).
func (r *Repository) ClaimBatch(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, event_type, payload, created_at, processed_at, attempts, last_error
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim_batch: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &e.Payload, &e.CreatedAt, &e.ProcessedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("outbox: claim_batch scan: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: claim_batch: %w", err)
	}
	return events, nil
}

// MarkProcessed sets processed_at, making the row terminal and
// successful (last_error stays whatever it was, typically nil).
func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE outbox SET processed_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("outbox: mark_processed: %w", err)
	}
	return nil
}

// RecordFailure increments attempts and records the truncated error,
// leaving processed_at NULL so the row is retried on a later poll.
func (r *Repository) RecordFailure(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET attempts = $1, last_error = $2 WHERE id = $3
	`, attempts, truncate(lastError, 512), id)
	if err != nil {
		return fmt.Errorf("outbox: record_failure: %w", err)
	}
	return nil
}

// DeadLetter sets processed_at on a row whose attempts has reached
// retry_max_attempts. The row stays in the outbox for inspection;
// last_error being non-null is what distinguishes this from success.
func (r *Repository) DeadLetter(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int, lastError string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET attempts = $1, last_error = $2, processed_at = $3 WHERE id = $4
	`, attempts, truncate(lastError, 512), now, id)
	if err != nil {
		return fmt.Errorf("outbox: dead_letter: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
