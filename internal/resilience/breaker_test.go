package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("dependency unavailable")

func TestProperty_TripsAfterNConsecutiveFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("after failure_threshold consecutive failures, the next call fails fast", prop.ForAll(
		func(threshold int) bool {
			b := New[int]("dep", threshold, time.Hour)

			for i := 0; i < threshold; i++ {
				_, err := b.Call(func() (int, error) { return 0, errBoom })
				if !errors.Is(err, errBoom) && !errors.Is(err, ErrCircuitOpen) {
					return false
				}
			}

			invoked := false
			_, err := b.Call(func() (int, error) {
				invoked = true
				return 0, nil
			})
			return !invoked && errors.Is(err, ErrCircuitOpen)
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New[int]("dep", 3, time.Hour)

	_, err := b.Call(func() (int, error) { return 0, errBoom })
	require.ErrorIs(t, err, errBoom)
	_, err = b.Call(func() (int, error) { return 1, nil })
	require.NoError(t, err)

	// Two more failures shouldn't trip a threshold-3 breaker since the
	// success reset the consecutive-failure count.
	for i := 0; i < 2; i++ {
		_, err := b.Call(func() (int, error) { return 0, errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	invoked := false
	_, err = b.Call(func() (int, error) {
		invoked = true
		return 0, nil
	})
	assert.True(t, invoked, "breaker should not have tripped yet")
	assert.NoError(t, err)
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New[int]("dep", 1, 10*time.Millisecond)

	_, err := b.Call(func() (int, error) { return 0, errBoom })
	require.ErrorIs(t, err, errBoom)

	_, err = b.Call(func() (int, error) { return 0, nil })
	require.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)

	invoked := false
	_, err = b.Call(func() (int, error) {
		invoked = true
		return 7, nil
	})
	require.NoError(t, err)
	assert.True(t, invoked, "half-open should allow one trial call through")
}
