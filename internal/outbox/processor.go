package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Ascinocco/device-management/internal/resilience"
)

// EventDispatcher applies one claimed event's side effects (and, ahead
// of them, the read-model projection). Defined here — rather than
// importing the worker package directly — to avoid an import cycle:
// the worker package needs outbox.Event and the outbox event-type
// constants.
type EventDispatcher interface {
	Dispatch(ctx context.Context, tx pgx.Tx, e Event) error
}

// ProcessorConfig holds the poller's tunables, all sourced from
// config.Config at construction time.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Processor is the event-worker poll loop: claim a batch, dispatch
// each row in turn, and commit the resulting state transitions in the
// same transaction that held the claim locks.
//
// Rows are processed sequentially, not via a worker pool: a side
// effect (sending an email, calling back into the device service) runs
// against the claiming transaction's tenant context, and the claim
// transaction must not be shared across goroutines.
type Processor struct {
	db           *pgxpool.Pool
	dispatcher   EventDispatcher
	retryPolicy  *resilience.RetryPolicy
	logger       *zap.Logger
	metrics      *Metrics
	repo         *Repository
	pollInterval time.Duration
	batchSize    int

	stopCh       chan struct{}
	doneCh       chan struct{}
	processing   bool
	processingMu sync.Mutex
}

func NewProcessor(db *pgxpool.Pool, dispatcher EventDispatcher, retryPolicy *resilience.RetryPolicy, logger *zap.Logger, cfg ProcessorConfig) *Processor {
	return NewProcessorWithMetrics(db, dispatcher, retryPolicy, logger, cfg, DefaultMetrics)
}

func NewProcessorWithMetrics(db *pgxpool.Pool, dispatcher EventDispatcher, retryPolicy *resilience.RetryPolicy, logger *zap.Logger, cfg ProcessorConfig, metrics *Metrics) *Processor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	if metrics == nil {
		metrics = DefaultMetrics
	}
	return &Processor{
		db:           db,
		dispatcher:   dispatcher,
		retryPolicy:  retryPolicy,
		logger:       logger,
		metrics:      metrics,
		repo:         NewRepository(),
		pollInterval: cfg.PollInterval,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start runs the poll loop until the context is cancelled or Stop is
// called. It blocks.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting outbox processor",
		zap.Duration("poll_interval", p.pollInterval),
		zap.Int("batch_size", p.batchSize))

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	defer close(p.doneCh)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox processor stopping due to context cancellation, waiting for current batch...")
			p.waitForCurrentBatch()
			p.logger.Info("outbox processor stopped")
			return
		case <-p.stopCh:
			p.logger.Info("outbox processor stopping, waiting for current batch...")
			p.waitForCurrentBatch()
			p.logger.Info("outbox processor stopped")
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.logger.Error("poll cycle failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight batch (if
// any) to finish.
func (p *Processor) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Processor) setProcessing(v bool) {
	p.processingMu.Lock()
	p.processing = v
	p.processingMu.Unlock()
}

func (p *Processor) isProcessing() bool {
	p.processingMu.Lock()
	defer p.processingMu.Unlock()
	return p.processing
}

func (p *Processor) waitForCurrentBatch() {
	for p.isProcessing() {
		time.Sleep(10 * time.Millisecond)
	}
}

// pollOnce claims a batch and processes every row sequentially within
// that single transaction, then commits once.
func (p *Processor) pollOnce(ctx context.Context) error {
	p.setProcessing(true)
	defer p.setProcessing(false)

	start := time.Now()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	events, err := p.repo.ClaimBatch(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}
	p.metrics.BatchSize.Observe(float64(len(events)))
	p.metrics.PendingCount.Set(float64(len(events)))

	if len(events) == 0 {
		return tx.Commit(ctx)
	}

	for _, e := range events {
		p.processOne(ctx, tx, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	p.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("batch processed", zap.Int("count", len(events)), zap.Duration("duration", time.Since(start)))
	return nil
}

// rowOutcome classifies what processOne should do with a claimed row
// after dispatch returns. Kept as a pure function of (err, attempts,
// maxAttempts) so the branching in §4.3 is testable without a live
// transaction.
type rowOutcome int

const (
	outcomeProcessed rowOutcome = iota
	outcomeCircuitSkipped
	outcomeRetry
	outcomeDeadLetter
)

func classifyOutcome(err error, nextAttempts, maxAttempts int) rowOutcome {
	switch {
	case err == nil:
		return outcomeProcessed
	case errors.Is(err, resilience.ErrCircuitOpen):
		return outcomeCircuitSkipped
	case nextAttempts >= maxAttempts:
		return outcomeDeadLetter
	default:
		return outcomeRetry
	}
}

// processOne dispatches a single claimed row and reconciles its
// outcome against the outbox table. It never returns an error: a
// failure here is itself a row-level outcome, recorded via
// RecordFailure/DeadLetter rather than aborting the whole batch.
func (p *Processor) processOne(ctx context.Context, tx pgx.Tx, e Event) {
	err := p.dispatcher.Dispatch(ctx, tx, e)
	now := time.Now().UTC()
	attempts := e.Attempts + 1

	switch classifyOutcome(err, attempts, p.retryPolicy.MaxAttempts()) {
	case outcomeProcessed:
		if markErr := p.repo.MarkProcessed(ctx, tx, e.ID, now); markErr != nil {
			p.logger.Error("failed to mark event processed", zap.String("event_id", e.ID.String()), zap.Error(markErr))
		}
		p.metrics.ProcessedTotal.Inc()

	case outcomeCircuitSkipped:
		// Distinct outcome (§4.3): the row is left untouched — attempts
		// is not incremented, so a later poll retries it once the
		// breaker recovers.
		p.logger.Warn("skipping event, circuit open", zap.String("event_id", e.ID.String()), zap.String("event_type", e.EventType), zap.Error(err))
		p.metrics.CircuitSkippedTotal.Inc()

	case outcomeDeadLetter:
		p.logger.Warn("event dispatch failed", zap.String("event_id", e.ID.String()), zap.Int("attempts", attempts), zap.Error(err))
		p.metrics.DispatchErrorsTotal.Inc()
		if dlErr := p.repo.DeadLetter(ctx, tx, e.ID, attempts, err.Error(), now); dlErr != nil {
			p.logger.Error("failed to dead-letter event", zap.String("event_id", e.ID.String()), zap.Error(dlErr))
		} else {
			p.metrics.DLQTotal.Inc()
			p.logger.Error("event dead-lettered after reaching max attempts", zap.String("event_id", e.ID.String()), zap.Int("attempts", attempts))
		}

	case outcomeRetry:
		p.logger.Warn("event dispatch failed", zap.String("event_id", e.ID.String()), zap.Int("attempts", attempts), zap.Error(err))
		p.metrics.DispatchErrorsTotal.Inc()
		delay := p.retryPolicy.NextDelay(attempts)
		if recErr := p.repo.RecordFailure(ctx, tx, e.ID, attempts, err.Error()); recErr != nil {
			p.logger.Error("failed to record event failure", zap.String("event_id", e.ID.String()), zap.Error(recErr))
		}
		p.logger.Debug("event will retry", zap.String("event_id", e.ID.String()), zap.Duration("next_delay", delay))
	}
}
