// Package resilience implements the per-dependency circuit breaker used
// by the event worker when calling the tenancy service and the email
// provider, and the exponential-backoff-with-jitter retry policy that
// computes the backoff hint for failed outbox rows.
package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen signals a call was refused because the breaker is
// open. It is distinct from a generic failure: the worker must not
// increment an outbox row's attempts for this outcome (§4.3).
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Breaker wraps a named external dependency call with CLOSED/OPEN/
// HALF_OPEN fail-fast behaviour. One instance per dependency (tenancy
// service, email provider).
//
// Not required to be concurrency-safe beyond what gobreaker itself
// guards internally — the worker drives one poller loop at a time.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

// New constructs a breaker that opens after failureThreshold
// consecutive failures and attempts one trial call recoveryTimeout
// after the last failure, using a monotonic clock (gobreaker uses
// time.Now() internally, which on all supported platforms is backed by
// the runtime's monotonic reading — consistent with §4.7's requirement
// that system-clock jumps cannot prematurely close the breaker).
func New[T any](name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker[T] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
	}
	return &Breaker[T]{name: name, cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Call executes fn through the breaker. When the breaker is open, fn is
// never invoked and the returned error wraps ErrCircuitOpen.
func (b *Breaker[T]) Call(fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(fn)
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	}
	return result, err
}

// State exposes the breaker's current state for diagnostics.
func (b *Breaker[T]) State() gobreaker.State {
	return b.cb.State()
}
