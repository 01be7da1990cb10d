package resilience

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestProperty_DelayNeverExceedsEnvelope(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("delay is within [0, min(base*2^attempts, max_delay)]", prop.ForAll(
		func(attempts int) bool {
			policy := NewRetryPolicy(1*time.Second, 60*time.Second, 5)
			delay := policy.NextDelay(attempts)
			if delay < 0 {
				return false
			}
			envelope := time.Second << uint(attempts)
			if envelope > 60*time.Second {
				envelope = 60 * time.Second
			}
			return delay <= envelope
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

func TestNextDelay_CapsAtMaxDelay(t *testing.T) {
	policy := NewRetryPolicy(1*time.Second, 4*time.Second, 5)
	for attempt := 1; attempt <= 10; attempt++ {
		delay := policy.NextDelay(attempt)
		assert.LessOrEqual(t, delay, 4*time.Second)
	}
}

func TestNextDelay_GrowsWithAttempts(t *testing.T) {
	policy := NewRetryPolicy(1*time.Second, 60*time.Second, 5)
	// With jitter removed via many samples, the envelope at attempt 3
	// must exceed the envelope at attempt 1.
	var maxAt1, maxAt3 time.Duration
	for i := 0; i < 200; i++ {
		if d := policy.NextDelay(1); d > maxAt1 {
			maxAt1 = d
		}
		if d := policy.NextDelay(3); d > maxAt3 {
			maxAt3 = d
		}
	}
	assert.Greater(t, maxAt3, maxAt1)
}

func TestMaxAttempts(t *testing.T) {
	policy := NewRetryPolicy(time.Second, 60*time.Second, 5)
	assert.Equal(t, 5, policy.MaxAttempts())
}
