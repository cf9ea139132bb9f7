package forecast

import (
	"fmt"
	"math"

	"github.com/suryadrishti/suryadrishti/pkg/solar"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// Validation thresholds. The checks mirror what operations sees in practice:
// GHI beyond ~1000 W/m2 or capacity factors beyond ~0.85 indicate a model
// that will over-commit the microgrid.
const (
	ghiIssueWm2          = 1000.0
	ghiWarnWm2           = 900.0
	peakCFIssue          = 0.85
	peakCFWarn           = 0.75
	avgCFWarn            = 0.40
	clearSkyRatioIssue   = 1.15
	clearSkyRatioWarn    = 1.10
	clearSkyRatioLow     = 0.30
	elevationExcessRatio = 1.2
	nominalEfficiency    = 0.77
	efficiencyTolerance  = 0.15
)

// Validate applies the physical-plausibility rules to a forecast series and
// reduces them to a verdict. It has no side effects. Structurally broken
// input (empty series, missing timestamps, the sun never above the horizon)
// fails with a MalformedForecast error instead of a verdict.
func Validate(series types.ForecastSeries, loc types.Location, capacityKW float64) (types.ValidationVerdict, error) {
	v := types.ValidationVerdict{}

	if len(series.Points) == 0 {
		return v, types.Errorf(types.ErrMalformedForecast, "empty forecast series")
	}
	anyAboveHorizon := false
	for i, p := range series.Points {
		if p.Timestamp.IsZero() {
			return v, types.Errorf(types.ErrMalformedForecast, "point %d has no timestamp", i)
		}
		if p.SolarElevationDeg >= 0 {
			anyAboveHorizon = true
		}
	}
	if !anyAboveHorizon {
		return v, types.Errorf(types.ErrMalformedForecast, "solar elevation negative for the whole series")
	}
	if capacityKW <= 0 {
		return v, types.Errorf(types.ErrMalformedForecast, "capacity_kw must be > 0, got %g", capacityKW)
	}

	pass := func(msg string) { v.Passed = append(v.Passed, msg) }
	warn := func(msg, cause, rec string) {
		v.Warnings = append(v.Warnings, msg)
		if cause != "" {
			v.Causes = append(v.Causes, cause)
		}
		if rec != "" {
			v.Recommendations = append(v.Recommendations, rec)
		}
	}
	issue := func(msg, cause, rec string) {
		v.Issues = append(v.Issues, msg)
		if cause != "" {
			v.Causes = append(v.Causes, cause)
		}
		if rec != "" {
			v.Recommendations = append(v.Recommendations, rec)
		}
	}

	// Rule 1: maximum GHI.
	var maxGHIVal float64
	for _, p := range series.Points {
		maxGHIVal = math.Max(maxGHIVal, p.GHIWm2)
	}
	switch {
	case maxGHIVal > ghiIssueWm2:
		issue(fmt.Sprintf("peak GHI %.0f W/m2 exceeds physical maximum %.0f", maxGHIVal, ghiIssueWm2),
			"irradiance above terrestrial clear-sky limits",
			"clamp GHI to 1000 W/m2 or retrain the forecast model")
	case maxGHIVal > ghiWarnWm2:
		warn(fmt.Sprintf("peak GHI %.0f W/m2 is unusually high", maxGHIVal),
			"irradiance near terrestrial clear-sky limits", "")
	default:
		pass(fmt.Sprintf("peak GHI %.0f W/m2 within bounds", maxGHIVal))
	}

	// Rule 2: peak capacity factor.
	var maxPower float64
	for _, p := range series.Points {
		maxPower = math.Max(maxPower, p.PowerKW)
	}
	peakCF := maxPower / capacityKW
	switch {
	case peakCF > peakCFIssue:
		issue(fmt.Sprintf("peak capacity factor %.2f exceeds %.2f", peakCF, peakCFIssue),
			"forecast power beyond realistic system output",
			"verify installed capacity and loss factors")
	case peakCF > peakCFWarn:
		warn(fmt.Sprintf("peak capacity factor %.2f exceeds %.2f", peakCF, peakCFWarn), "", "")
	default:
		pass(fmt.Sprintf("peak capacity factor %.2f within bounds", peakCF))
	}

	// Rule 3: average capacity factor.
	var sumPower float64
	for _, p := range series.Points {
		sumPower += p.PowerKW
	}
	avgCF := sumPower / float64(len(series.Points)) / capacityKW
	if avgCF > avgCFWarn {
		warn(fmt.Sprintf("average capacity factor %.2f exceeds %.2f", avgCF, avgCFWarn),
			"sustained output above typical solar duty cycle", "")
	} else {
		pass(fmt.Sprintf("average capacity factor %.2f within bounds", avgCF))
	}

	// Rule 4: average clear-sky ratio over daytime.
	var ratioSum float64
	var ratioN int
	for _, p := range series.Points {
		if p.IsDaytime && p.GHIClearSkyWm2 > 0 {
			ratioSum += p.GHIWm2 / p.GHIClearSkyWm2
			ratioN++
		}
	}
	if ratioN > 0 {
		avgRatio := ratioSum / float64(ratioN)
		switch {
		case avgRatio > clearSkyRatioIssue:
			issue(fmt.Sprintf("average clear-sky ratio %.2f exceeds %.2f", avgRatio, clearSkyRatioIssue),
				"forecast consistently above the clear-sky envelope",
				"check the clear-sky model alignment")
		case avgRatio > clearSkyRatioWarn:
			warn(fmt.Sprintf("average clear-sky ratio %.2f exceeds %.2f", avgRatio, clearSkyRatioWarn), "", "")
		case avgRatio < clearSkyRatioLow:
			warn(fmt.Sprintf("average clear-sky ratio %.2f below %.2f", avgRatio, clearSkyRatioLow),
				"forecast far below clear-sky; heavy overcast or a scaling fault", "")
		default:
			pass(fmt.Sprintf("average clear-sky ratio %.2f within bounds", avgRatio))
		}
	}

	// Rule 5: elevation consistency at the solar-noon point.
	noonIdx := 0
	for i, p := range series.Points {
		if p.SolarElevationDeg > series.Points[noonIdx].SolarElevationDeg {
			noonIdx = i
		}
	}
	noon := series.Points[noonIdx]
	if noon.SolarElevationDeg > 0 && noon.GHIClearSkyWm2 > 0 {
		expected := math.Sin(noon.SolarElevationDeg*math.Pi/180) * noon.GHIClearSkyWm2
		if noon.GHIWm2 > elevationExcessRatio*expected {
			warn(fmt.Sprintf("GHI %.0f at peak elevation exceeds %.1fx expected %.0f", noon.GHIWm2, elevationExcessRatio, expected),
				"irradiance inconsistent with solar elevation", "")
		} else {
			pass("GHI consistent with peak solar elevation")
		}
	}

	// Rule 6: daytime-detection consistency.
	daytimeBroken := 0
	for _, p := range series.Points {
		h := solar.LocalTimeIST(p.Timestamp).Hour()
		if !p.IsDaytime && h >= solar.DaytimeStartHour && h < solar.DaytimeEndHour && p.SolarElevationDeg >= 0 {
			daytimeBroken++
		}
	}
	if daytimeBroken > 0 {
		issue(fmt.Sprintf("%d points flagged night during the daytime window with the sun up", daytimeBroken),
			"daytime detection disagrees with solar geometry",
			"recompute is_daytime from elevation and local time")
	} else {
		pass("daytime detection consistent")
	}

	// Rule 7: power-GHI conversion efficiency at the daytime peak.
	peakIdx := -1
	for i, p := range series.Points {
		if p.IsDaytime && p.GHIWm2 > 0 && (peakIdx < 0 || p.PowerKW > series.Points[peakIdx].PowerKW) {
			peakIdx = i
		}
	}
	if peakIdx >= 0 {
		peak := series.Points[peakIdx]
		eff := peak.PowerKW / (peak.GHIWm2 / 1000 * capacityKW)
		if math.Abs(eff-nominalEfficiency) > efficiencyTolerance {
			warn(fmt.Sprintf("implied conversion efficiency %.2f deviates from nominal %.2f", eff, nominalEfficiency),
				"power and GHI disagree on system losses", "")
		} else {
			pass(fmt.Sprintf("conversion efficiency %.2f near nominal", eff))
		}
	}

	// Verdict reduction.
	switch {
	case len(v.Issues) > 0:
		v.Verdict = types.VerdictIncorrect
		v.Severity = types.SeverityCritical
	case len(v.Warnings) >= 2:
		v.Verdict = types.VerdictOptimistic
		v.Severity = types.SeverityWarning
	case len(v.Warnings) == 1:
		v.Verdict = types.VerdictMostlyRealistic
		v.Severity = types.SeverityInfo
	default:
		v.Verdict = types.VerdictRealistic
	}
	v.Summary = fmt.Sprintf("%s: %d issues, %d warnings, %d checks passed",
		v.Verdict, len(v.Issues), len(v.Warnings), len(v.Passed))
	return v, nil
}
