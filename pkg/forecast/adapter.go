// Package forecast normalizes upstream irradiance forecasts onto the
// scheduling grid and validates their physical plausibility before the
// dispatch engine is allowed to act on them.
package forecast

import (
	"sort"
	"time"

	"github.com/suryadrishti/suryadrishti/pkg/solar"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// LossFactors compose the GHI-to-power conversion efficiency. Defaults are
// fixed; per-site overrides are a future extension.
type LossFactors struct {
	System      float64
	Temperature float64
	Pollution   float64
	Soiling     float64
}

// DefaultLossFactors is the standard composite (~0.77).
var DefaultLossFactors = LossFactors{
	System:      0.85,
	Temperature: 0.95,
	Pollution:   0.95,
	Soiling:     0.97,
}

// Composite returns the overall GHI-to-power efficiency.
func (lf LossFactors) Composite() float64 {
	return lf.System * lf.Temperature * lf.Pollution * lf.Soiling
}

const (
	maxGHI               = 1000.0
	clearSkyCapRatio     = 1.10
	lowElevationTaperDeg = 5.0
	// more than this fraction of daytime buckets synthesized makes the
	// forecast unusable
	maxSynthesizedRatio = 0.25
)

// Adapt resamples a raw upstream forecast onto uniform 1-hour buckets
// starting at the IST hour boundary at or after start, applies night
// clamping, daytime zero-repair and realistic-bounds post-processing, and
// converts GHI to power with the composite loss factors.
func Adapt(raw types.RawForecast, loc types.Location, start time.Time, horizonHours int, capacityKW float64, lf LossFactors) (types.ForecastSeries, error) {
	if horizonHours < 1 || horizonHours > 48 {
		return types.ForecastSeries{}, types.Errorf(types.ErrMalformedForecast, "horizon_hours %d out of range [1,48]", horizonHours)
	}
	if len(raw.Points) == 0 {
		return types.ForecastSeries{}, types.Errorf(types.ErrMalformedForecast, "forecast has no points")
	}
	if capacityKW <= 0 {
		return types.ForecastSeries{}, types.Errorf(types.ErrConfigurationInvalid, "capacity_kw must be > 0, got %g", capacityKW)
	}

	gridStart := solar.NextHourBoundary(start)

	// Timestamp normalization: interpret in UTC, align to the hour grid,
	// resolve duplicates last-write-wins.
	sorted := make([]types.RawForecastPoint, len(raw.Points))
	copy(sorted, raw.Points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	byHour := make(map[int64]types.RawForecastPoint, len(sorted))
	var lastHour time.Time
	for _, p := range sorted {
		if p.Timestamp.IsZero() {
			return types.ForecastSeries{}, types.Errorf(types.ErrMalformedForecast, "forecast point has no timestamp")
		}
		h := p.Timestamp.UTC().Truncate(time.Hour)
		byHour[h.Unix()] = p
		if h.After(lastHour) {
			lastHour = h
		}
	}

	lastBucket := gridStart.Add(time.Duration(horizonHours-1) * time.Hour)
	if lastHour.Before(lastBucket.UTC().Truncate(time.Hour)) {
		return types.ForecastSeries{}, types.Errorf(types.ErrUnusableForecast,
			"forecast ends at %s, horizon requires %s", lastHour.Format(time.RFC3339), lastBucket.Format(time.RFC3339))
	}

	points := make([]types.ForecastPoint, horizonHours)
	for i := range points {
		ts := gridStart.Add(time.Duration(i) * time.Hour)
		fp := types.ForecastPoint{
			Timestamp:         ts,
			SolarElevationDeg: solar.ElevationDeg(loc, ts),
			GHIClearSkyWm2:    solar.ClearSkyGHI(loc, ts),
			IsDaytime:         solar.IsDaytime(loc, ts),
		}
		if rp, ok := byHour[ts.UTC().Truncate(time.Hour).Unix()]; ok {
			fp.GHIWm2 = rp.GHIWm2
			fp.P10KW = rp.P10KW
			fp.P50KW = rp.P50KW
			fp.P90KW = rp.P90KW
			fp.StdKW = rp.StdKW
		} else {
			fp.Synthesized = fp.IsDaytime
		}
		points[i] = fp
	}

	// Median daytime ghi/clear-sky ratio drives both gap interpolation and
	// daytime zero-repair.
	medianRatio := medianDaytimeRatio(points)

	var daytime, synthesized int
	for i := range points {
		p := &points[i]
		if !p.IsDaytime {
			// Nighttime clamping.
			p.GHIWm2, p.P10KW, p.P50KW, p.P90KW, p.StdKW = 0, 0, 0, 0, 0
			continue
		}
		daytime++
		if p.GHIWm2 == 0 {
			// Zero GHI with the sun up is model or sensor dropout, not
			// weather; even heavy overcast leaves diffuse irradiance. Fill
			// from the clear-sky curve scaled by the ratio observed
			// elsewhere in the series so daytime irradiance is never zero
			// downstream.
			p.GHIWm2 = p.GHIClearSkyWm2 * medianRatio
			p.Synthesized = true
		}
		if p.Synthesized {
			synthesized++
		}
	}

	if daytime > 0 && float64(synthesized) > maxSynthesizedRatio*float64(daytime) {
		return types.ForecastSeries{}, types.Errorf(types.ErrUnusableForecast,
			"%d of %d daytime buckets synthesized", synthesized, daytime)
	}

	eta := lf.Composite()
	for i := range points {
		p := &points[i]
		rawGHI := p.GHIWm2

		// Realistic-bounds post-processing.
		if p.GHIWm2 > maxGHI {
			p.GHIWm2 = maxGHI
		}
		if p.GHIClearSkyWm2 > 0 && p.GHIWm2 > clearSkyCapRatio*p.GHIClearSkyWm2 {
			p.GHIWm2 = clearSkyCapRatio * p.GHIClearSkyWm2
		}
		if p.SolarElevationDeg < lowElevationTaperDeg {
			taper := p.SolarElevationDeg / lowElevationTaperDeg
			if taper < 0 {
				taper = 0
			}
			p.GHIWm2 *= taper
		}

		// GHI to power with composite loss factors.
		p.PowerKW = p.GHIWm2 / 1000 * capacityKW * eta

		// Quantiles rescale by the same factor applied to ghi, preserving
		// relative spread; isotonic clipping repairs any inversion.
		factor := 1.0
		if rawGHI > 0 {
			factor = p.GHIWm2 / rawGHI
		}
		p.P10KW *= factor
		p.P50KW *= factor
		p.P90KW *= factor
		p.StdKW *= factor
		if p.P50KW < p.P10KW {
			p.P50KW = p.P10KW
		}
		if p.P90KW < p.P50KW {
			p.P90KW = p.P50KW
		}
	}

	series := types.ForecastSeries{Points: points, HorizonHours: horizonHours}
	if err := series.Validate(); err != nil {
		return types.ForecastSeries{}, err
	}
	return series, nil
}

func medianDaytimeRatio(points []types.ForecastPoint) float64 {
	var ratios []float64
	for _, p := range points {
		if p.IsDaytime && p.GHIWm2 > 0 && p.GHIClearSkyWm2 > 0 {
			ratios = append(ratios, p.GHIWm2/p.GHIClearSkyWm2)
		}
	}
	if len(ratios) == 0 {
		// no observed daytime signal; fall back to a conservative overcast
		// fraction of clear sky
		return 0.5
	}
	sort.Float64s(ratios)
	mid := len(ratios) / 2
	if len(ratios)%2 == 1 {
		return ratios[mid]
	}
	return (ratios[mid-1] + ratios[mid]) / 2
}
