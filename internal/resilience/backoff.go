package resilience

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy computes the advisory backoff hint for a failed outbox
// row: delay = uniform(0, min(base*2^attempts, max_delay)).
//
// The doubling envelope itself is produced by driving
// cenkalti/backoff/v4's ExponentialBackOff.NextBackOff with
// RandomizationFactor and MaxElapsedTime both zeroed out, so each call
// returns the bare currentInterval (no +/-jitter band, no elapsed-time
// cutoff) before advancing by Multiplier, capped at MaxInterval. That
// is not the same distribution as the spec's full uniform(0, delay)
// jitter, so NextDelay layers its own uniform draw on top of the
// library-produced envelope rather than trusting NextBackOff's own
// randomization.
type RetryPolicy struct {
	cfg         backoff.ExponentialBackOff
	maxAttempts int
}

func NewRetryPolicy(base, maxDelay time.Duration, maxAttempts int) *RetryPolicy {
	cfg := *backoff.NewExponentialBackOff()
	cfg.InitialInterval = base
	cfg.MaxInterval = maxDelay
	cfg.Multiplier = 2
	cfg.RandomizationFactor = 0
	cfg.MaxElapsedTime = 0
	return &RetryPolicy{cfg: cfg, maxAttempts: maxAttempts}
}

// NextDelay returns the backoff hint after the row has failed
// `attempts` times (attempts already incremented by the caller). It
// replays the envelope from a fresh copy of cfg so that repeated calls
// with different attempt counts are independent of call order.
func (p *RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	cfg := p.cfg
	cfg.Reset()
	var envelope time.Duration
	for i := 0; i <= attempts; i++ {
		envelope = cfg.NextBackOff()
		if envelope == backoff.Stop {
			envelope = cfg.MaxInterval
			break
		}
	}
	if envelope <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(envelope) + 1))
}

// MaxAttempts is the dead-letter threshold: once a row's attempts
// reaches this value, the poller marks it processed as dead-lettered
// instead of leaving it for another retry.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}
