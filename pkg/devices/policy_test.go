package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

func fleet() []types.Device {
	return []types.Device{
		{ID: "opt", Name: "lights", PowerKW: 2, Type: types.DeviceOptional, Priority: 4, IsActive: true},
		{ID: "flex", Name: "pump", PowerKW: 3, Type: types.DeviceFlexible, Priority: 3, IsActive: true, IrrigationPump: true,
			PreferredHours: &types.HourWindow{StartHour: 10, EndHour: 14}},
		{ID: "ess", Name: "cold storage", PowerKW: 5, Type: types.DeviceEssential, Priority: 1, IsActive: true},
	}
}

func TestSchedulingOrder(t *testing.T) {
	in := fleet()
	got := SchedulingOrder(in)

	require.Len(t, got, 3)
	assert.Equal(t, "ess", got[0].ID)
	assert.Equal(t, "flex", got[1].ID)
	assert.Equal(t, "opt", got[2].ID)

	// input untouched
	assert.Equal(t, "opt", in[0].ID)
}

func TestEligible(t *testing.T) {
	d := fleet()[1]

	assert.True(t, Eligible(d, 10))
	assert.True(t, Eligible(d, 13))
	assert.False(t, Eligible(d, 14))
	assert.False(t, Eligible(d, 9))

	d.IsActive = false
	assert.False(t, Eligible(d, 10))

	// no window means always eligible
	any := fleet()[2]
	assert.True(t, Eligible(any, 3))
}

func TestMinRuntimeBuckets(t *testing.T) {
	d := types.Device{MinRuntimeMinutes: 0}
	assert.Equal(t, 0, MinRuntimeBuckets(d))

	d.MinRuntimeMinutes = 60
	assert.Equal(t, 1, MinRuntimeBuckets(d))

	d.MinRuntimeMinutes = 90
	assert.Equal(t, 2, MinRuntimeBuckets(d))

	d.MinRuntimeMinutes = 121
	assert.Equal(t, 3, MinRuntimeBuckets(d))
}

func TestFitsHorizon(t *testing.T) {
	d := types.Device{MinRuntimeMinutes: 26 * 60}
	assert.False(t, FitsHorizon(d, 24))
	assert.True(t, FitsHorizon(d, 26))
}

func TestEssentialLoadKW(t *testing.T) {
	f := fleet()
	assert.InDelta(t, 5.0, EssentialLoadKW(f, 12), 1e-9)

	// inactive essential loads do not count
	f[2].IsActive = false
	assert.Zero(t, EssentialLoadKW(f, 12))
}

func TestValidateFleet(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateFleet(fleet()))
	})

	t.Run("duplicate id", func(t *testing.T) {
		f := fleet()
		f = append(f, f[0])
		err := ValidateFleet(f)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrConfigurationInvalid))
	})

	t.Run("invalid device", func(t *testing.T) {
		f := fleet()
		f[0].PowerKW = -1
		assert.Error(t, ValidateFleet(f))
	})
}
