package forecast

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suryadrishti/suryadrishti/pkg/solar"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// plausibleSeries builds a physically consistent daytime series: GHI at a
// fraction of clear sky, power converted at the nominal efficiency.
func plausibleSeries(frac, capacityKW float64) types.ForecastSeries {
	return plausibleSeriesAt(istMidnight, frac, capacityKW)
}

func plausibleSeriesAt(start time.Time, frac, capacityKW float64) types.ForecastSeries {
	series := types.ForecastSeries{HorizonHours: 24}
	for i := 0; i < 24; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		p := types.ForecastPoint{
			Timestamp:         ts,
			SolarElevationDeg: solar.ElevationDeg(gurugram, ts),
			GHIClearSkyWm2:    solar.ClearSkyGHI(gurugram, ts),
			IsDaytime:         solar.IsDaytime(gurugram, ts),
		}
		if p.IsDaytime {
			p.GHIWm2 = p.GHIClearSkyWm2 * frac
			p.PowerKW = p.GHIWm2 / 1000 * capacityKW * 0.77
		}
		series.Points = append(series.Points, p)
	}
	return series
}

func TestValidate(t *testing.T) {
	t.Run("realistic", func(t *testing.T) {
		v, err := Validate(plausibleSeries(0.7, 50), gurugram, 50)
		require.NoError(t, err)
		assert.Equal(t, types.VerdictRealistic, v.Verdict)
		assert.Empty(t, v.Issues)
		assert.Empty(t, v.Warnings)
		assert.NotEmpty(t, v.Passed)
	})

	t.Run("incorrect on impossible ghi and capacity factor", func(t *testing.T) {
		series := plausibleSeries(0.7, 50)
		series.Points[12].GHIWm2 = 1050
		series.Points[12].PowerKW = 44
		v, err := Validate(series, gurugram, 50)
		require.NoError(t, err)
		assert.Equal(t, types.VerdictIncorrect, v.Verdict)
		assert.Equal(t, types.SeverityCritical, v.Severity)
		require.NotEmpty(t, v.Issues)
		assert.Contains(t, v.Issues[0], "GHI")
		assert.NotEmpty(t, v.Causes)
		assert.NotEmpty(t, v.Recommendations)

		found := false
		for _, is := range v.Issues {
			if strings.Contains(is, "capacity factor") {
				found = true
			}
		}
		assert.True(t, found, "expected a capacity factor issue in %v", v.Issues)
	})

	t.Run("optimistic on two warnings", func(t *testing.T) {
		series := plausibleSeries(0.7, 50)
		// unusually high but not impossible GHI, with power implying a
		// capacity factor past the warning bound
		series.Points[12].GHIWm2 = 950
		series.Points[12].PowerKW = 40
		v, err := Validate(series, gurugram, 50)
		require.NoError(t, err)
		assert.Equal(t, types.VerdictOptimistic, v.Verdict)
		assert.Equal(t, types.SeverityWarning, v.Severity)
		assert.GreaterOrEqual(t, len(v.Warnings), 2)
		assert.Empty(t, v.Issues)
	})

	t.Run("mostly realistic on one warning", func(t *testing.T) {
		series := plausibleSeries(0.7, 50)
		series.Points[12].GHIWm2 = 950
		series.Points[12].PowerKW = 950.0 / 1000 * 50 * 0.77
		v, err := Validate(series, gurugram, 50)
		require.NoError(t, err)
		assert.Equal(t, types.VerdictMostlyRealistic, v.Verdict)
		assert.Equal(t, types.SeverityInfo, v.Severity)
		assert.Len(t, v.Warnings, 1)
	})

	t.Run("daytime detection issue", func(t *testing.T) {
		series := plausibleSeries(0.7, 50)
		series.Points[12].IsDaytime = false
		series.Points[12].GHIWm2 = 0
		series.Points[12].PowerKW = 0
		v, err := Validate(series, gurugram, 50)
		require.NoError(t, err)
		assert.Equal(t, types.VerdictIncorrect, v.Verdict)
	})

	t.Run("noon irradiance above the elevation envelope", func(t *testing.T) {
		// mid-December the sun tops out near 38 degrees, so the elevation
		// envelope sin(el)*clear_sky sits well below the clear-sky value and
		// near-clear-sky GHI must trip the consistency warning
		decemberMidnight := time.Date(2025, 12, 14, 18, 30, 0, 0, time.UTC)
		series := plausibleSeriesAt(decemberMidnight, 0.9, 50)
		v, err := Validate(series, gurugram, 50)
		require.NoError(t, err)
		assert.Equal(t, types.VerdictMostlyRealistic, v.Verdict)
		require.Len(t, v.Warnings, 1)
		assert.Contains(t, v.Warnings[0], "peak elevation")
	})

	t.Run("heavy overcast warns", func(t *testing.T) {
		series := plausibleSeries(0.2, 50)
		v, err := Validate(series, gurugram, 50)
		require.NoError(t, err)
		assert.Equal(t, types.VerdictMostlyRealistic, v.Verdict)
		assert.Len(t, v.Warnings, 1)
	})

	t.Run("empty series malformed", func(t *testing.T) {
		_, err := Validate(types.ForecastSeries{}, gurugram, 50)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrMalformedForecast))
	})

	t.Run("sun never up malformed", func(t *testing.T) {
		series := plausibleSeries(0.7, 50)
		for i := range series.Points {
			series.Points[i].SolarElevationDeg = -10
		}
		_, err := Validate(series, gurugram, 50)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrMalformedForecast))
	})

	t.Run("zero capacity malformed", func(t *testing.T) {
		_, err := Validate(plausibleSeries(0.7, 50), gurugram, 0)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrMalformedForecast))
	})
}
