// Package metrics derives the optimization and audit figures from a
// completed dispatch schedule. All computations are pure and run on the
// schedule's own bucket snapshots, so a stored schedule can be re-audited
// without re-running the engine.
package metrics

import (
	"fmt"
	"math"

	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// Grid and diesel emission coefficients in kg CO2 per kWh.
const (
	gridCarbonKGPerKWH      = 0.5
	generatorCarbonKGPerKWH = 2.7
)

// Audit-side warning thresholds. These mirror the forecast validator so
// operations can reconcile forecast over-optimism with realized dispatch.
const (
	peakCFWarnPercent = 85.0
	peakGHIWarnWm2    = 900.0
)

// Compute produces schedule metrics and audit warnings. The baseline is the
// counterfactual where every kWh of load is imported from the grid at the
// hour's peak or off-peak rate, with no battery, export or generator.
func Compute(buckets []types.Bucket, series types.ForecastSeries, cfg types.SystemConfiguration) (types.ScheduleMetrics, []string) {
	var m types.ScheduleMetrics
	var warnings []string

	var (
		solarTotal, solarUsed    float64
		energyIn, energyOut      float64
		gridImport, gridExport   float64
		baselineGrid             float64
		actualCost, baselineCost float64
		generatorEnergy          float64
		peakSolar                float64
	)
	fuelRate := cfg.GeneratorFuelCostPerKWH()
	for _, b := range buckets {
		rate := cfg.GridRateAt(b.StartTime.Hour())

		solarTotal += b.SolarKW
		solarUsed += math.Min(b.SolarKW, b.LoadKW+b.BatteryChargeKW+b.GridExportKW)
		energyIn += b.BatteryChargeKW
		energyOut += b.BatteryDischargeKW
		gridImport += b.GridImportKW
		gridExport += b.GridExportKW
		generatorEnergy += b.GeneratorKW
		peakSolar = math.Max(peakSolar, b.SolarKW)

		baselineGrid += b.LoadKW
		baselineCost += b.LoadKW * rate
		actualCost += b.GridImportKW*rate + b.GeneratorKW*fuelRate - b.GridExportKW*cfg.GridExportRatePerKWH
	}

	if solarTotal > 0 {
		m.SolarUtilizationPercent = 100 * solarUsed / solarTotal
	}
	m.EstimatedCostSavings = baselineCost - actualCost
	if energyIn > 0 {
		m.BatteryCycleEfficiency = energyOut / energyIn
	}
	if baselineGrid > 0 {
		m.GridImportReductionPercent = 100 * (baselineGrid - gridImport) / baselineGrid
	}
	m.GridExportEnergyKWH = gridExport
	m.GridExportRevenue = gridExport * cfg.GridExportRatePerKWH
	m.CarbonReductionKG = gridCarbonKGPerKWH*(baselineGrid-gridImport) +
		generatorCarbonKGPerKWH*(0-generatorEnergy)

	if cfg.CapacityKW > 0 {
		m.CapacityFactor.PeakPercent = 100 * peakSolar / cfg.CapacityKW
		if n := len(buckets); n > 0 {
			m.CapacityFactor.AveragePercent = 100 * solarTotal / float64(n) / cfg.CapacityKW
		}
	}

	if m.CapacityFactor.PeakPercent > peakCFWarnPercent {
		warnings = append(warnings, fmt.Sprintf("peak capacity factor %.1f%% exceeds %.0f%%",
			m.CapacityFactor.PeakPercent, peakCFWarnPercent))
	}
	var peakGHI float64
	for _, p := range series.Points {
		peakGHI = math.Max(peakGHI, p.GHIWm2)
	}
	if peakGHI > peakGHIWarnWm2 {
		warnings = append(warnings, fmt.Sprintf("peak GHI %.0f W/m2 exceeds %.0f", peakGHI, peakGHIWarnWm2))
	}
	return m, warnings
}
