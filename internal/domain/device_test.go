package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genHexMAC() gopter.Gen {
	return gen.SliceOfN(12, gen.OneConstOf(
		'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f',
	)).Map(func(chars []rune) string {
		return string(chars)
	})
}

func TestProperty_NormalizeMACIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize(normalize(x)) == normalize(x)", prop.ForAll(
		func(raw string) bool {
			once, err := NormalizeMAC(raw)
			if err != nil {
				return true // only valid inputs are asserted on below
			}
			twice, err := NormalizeMAC(once)
			if err != nil {
				return false
			}
			return once == twice
		},
		genHexMAC(),
	))

	properties.TestingRun(t)
}

func TestNormalizeMAC_CanonicalForm(t *testing.T) {
	got, err := NormalizeMAC("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", got)

	got, err = NormalizeMAC("aa-bb-cc-dd-ee-ff")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", got)
}

func TestNormalizeMAC_RejectsInvalid(t *testing.T) {
	_, err := NormalizeMAC("not-a-mac")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NormalizeMAC("   ")
	assert.ErrorIs(t, err, ErrValidation)
}

func newActiveDevice() Device {
	now := time.Now().UTC()
	return Device{
		ID:         uuid.New(),
		TenantID:   uuid.New(),
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

func TestDevice_RetireThenActivate(t *testing.T) {
	d := newActiveDevice()

	retired, err := d.Retire("decommissioned", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, StatusRetired, retired.Status)

	_, err = retired.Retire("again", time.Now().UTC())
	assert.ErrorIs(t, err, ErrValidation)

	activated, err := retired.Activate("re-provisioned", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, StatusActive, activated.Status)
}

func TestDevice_RetireRequiresReason(t *testing.T) {
	d := newActiveDevice()
	_, err := d.Retire("  ", time.Now().UTC())
	assert.ErrorIs(t, err, ErrValidation)
}
