package outbox

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/Ascinocco/device-management/internal/resilience"
)

func TestClassifyOutcome_Success(t *testing.T) {
	assert.Equal(t, outcomeProcessed, classifyOutcome(nil, 1, 5))
}

func TestClassifyOutcome_CircuitOpenTakesPriorityOverAttempts(t *testing.T) {
	got := classifyOutcome(resilience.ErrCircuitOpen, 99, 5)
	assert.Equal(t, outcomeCircuitSkipped, got)
}

func TestClassifyOutcome_RetryBelowMaxAttempts(t *testing.T) {
	got := classifyOutcome(errors.New("boom"), 4, 5)
	assert.Equal(t, outcomeRetry, got)
}

func TestClassifyOutcome_DeadLetterAtMaxAttempts(t *testing.T) {
	got := classifyOutcome(errors.New("boom"), 5, 5)
	assert.Equal(t, outcomeDeadLetter, got)
}

func TestProperty_ClassifyOutcomeNeverMisroutesCircuitOpen(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("a circuit-open error always classifies as skipped, regardless of attempts", prop.ForAll(
		func(attempts, maxAttempts int) bool {
			return classifyOutcome(resilience.ErrCircuitOpen, attempts, maxAttempts) == outcomeCircuitSkipped
		},
		gen.IntRange(0, 20),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestProperty_ClassifyOutcomeDeadLettersExactlyAtThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("a generic failure dead-letters iff attempts has reached maxAttempts", prop.ForAll(
		func(attempts, maxAttempts int) bool {
			got := classifyOutcome(errors.New("boom"), attempts, maxAttempts)
			if attempts >= maxAttempts {
				return got == outcomeDeadLetter
			}
			return got == outcomeRetry
		},
		gen.IntRange(0, 20),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
