package types

import (
	"time"
)

// Location is the geographic position of a microgrid. The display/scheduling
// timezone is fixed to Asia/Kolkata (UTC+05:30, no DST).
type Location struct {
	LatitudeDeg  float64 `json:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg"`
}

// Validate checks latitude/longitude ranges.
func (l Location) Validate() error {
	if l.LatitudeDeg < -90 || l.LatitudeDeg > 90 {
		return Errorf(ErrConfigurationInvalid, "latitude %.4f out of range [-90,90]", l.LatitudeDeg)
	}
	if l.LongitudeDeg < -180 || l.LongitudeDeg > 180 {
		return Errorf(ErrConfigurationInvalid, "longitude %.4f out of range [-180,180]", l.LongitudeDeg)
	}
	return nil
}

// OptimizationMode selects the dispatch objective bias.
type OptimizationMode string

const (
	ModeCost            OptimizationMode = "cost"
	ModeSelfConsumption OptimizationMode = "self-consumption"
	ModeBackup          OptimizationMode = "backup"
)

// HourWindow is a local-hour range [Start, End). Start may exceed End, in
// which case the window wraps past midnight (start=22, end=6 covers
// 22,23,0,...,5).
type HourWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether local hour h falls inside the window.
func (w HourWindow) Contains(h int) bool {
	if w.StartHour == w.EndHour {
		// degenerate window covers the whole day
		return true
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// Validate checks the hour bounds.
func (w HourWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return Errorf(ErrConfigurationInvalid, "hour window {%d,%d} out of range 0..23", w.StartHour, w.EndHour)
	}
	return nil
}

// SystemConfiguration holds the physical and economic constraints for a
// microgrid. Exactly one exists per microgrid.
type SystemConfiguration struct {
	MicrogridID string   `json:"microgrid_id"`
	Location    Location `json:"location"`
	CapacityKW  float64  `json:"capacity_kw"` // nominal PV capacity

	BatteryCapacityKWH    float64 `json:"battery_capacity_kwh"`
	BatteryMaxChargeKW    float64 `json:"battery_max_charge_kw"`
	BatteryMaxDischargeKW float64 `json:"battery_max_discharge_kw"`
	BatteryMinSOC         float64 `json:"battery_min_soc"`
	BatteryMaxSOC         float64 `json:"battery_max_soc"`
	BatteryEfficiency     float64 `json:"battery_efficiency"`

	GridPeakRatePerKWH    float64    `json:"grid_peak_rate_per_kwh"`
	GridOffPeakRatePerKWH float64    `json:"grid_off_peak_rate_per_kwh"`
	GridPeakHours         HourWindow `json:"grid_peak_hours"`
	GridExportRatePerKWH  float64    `json:"grid_export_rate_per_kwh"`
	GridExportEnabled     bool       `json:"grid_export_enabled"`

	GeneratorFuelCostPerLiter       float64 `json:"generator_fuel_cost_per_liter"`
	GeneratorFuelConsumptionLPerKWH float64 `json:"generator_fuel_consumption_l_per_kwh"`
	GeneratorMinRuntimeMinutes      int     `json:"generator_min_runtime_minutes"`
	GeneratorMaxPowerKW             float64 `json:"generator_max_power_kw"`

	OptimizationMode          OptimizationMode `json:"optimization_mode"`
	SafetyMarginCriticalLoads float64          `json:"safety_margin_critical_loads"`
}

// GeneratorFuelCostPerKWH is the marginal cost of generator energy.
func (c SystemConfiguration) GeneratorFuelCostPerKWH() float64 {
	return c.GeneratorFuelCostPerLiter * c.GeneratorFuelConsumptionLPerKWH
}

// GridRateAt returns the import rate for a local hour.
func (c SystemConfiguration) GridRateAt(hour int) float64 {
	if c.GridPeakHours.Contains(hour) {
		return c.GridPeakRatePerKWH
	}
	return c.GridOffPeakRatePerKWH
}

// SOCRange is the usable SOC span.
func (c SystemConfiguration) SOCRange() float64 {
	return c.BatteryMaxSOC - c.BatteryMinSOC
}

// Validate enforces the configuration invariants. It returns a
// ConfigurationInvalid error describing the first violation.
func (c SystemConfiguration) Validate() error {
	if err := c.Location.Validate(); err != nil {
		return err
	}
	if c.BatteryCapacityKWH <= 0 {
		return Errorf(ErrConfigurationInvalid, "battery_capacity_kwh must be > 0, got %g", c.BatteryCapacityKWH)
	}
	if c.BatteryMaxChargeKW <= 0 {
		return Errorf(ErrConfigurationInvalid, "battery_max_charge_kw must be > 0, got %g", c.BatteryMaxChargeKW)
	}
	if c.BatteryMaxDischargeKW <= 0 {
		return Errorf(ErrConfigurationInvalid, "battery_max_discharge_kw must be > 0, got %g", c.BatteryMaxDischargeKW)
	}
	if c.BatteryMinSOC < 0 || c.BatteryMinSOC > 1 {
		return Errorf(ErrConfigurationInvalid, "battery_min_soc %g out of range [0,1]", c.BatteryMinSOC)
	}
	if c.BatteryMaxSOC < 0 || c.BatteryMaxSOC > 1 {
		return Errorf(ErrConfigurationInvalid, "battery_max_soc %g out of range [0,1]", c.BatteryMaxSOC)
	}
	if c.BatteryMaxSOC <= c.BatteryMinSOC {
		return Errorf(ErrConfigurationInvalid, "battery_max_soc %g must exceed battery_min_soc %g", c.BatteryMaxSOC, c.BatteryMinSOC)
	}
	if c.BatteryEfficiency <= 0 || c.BatteryEfficiency > 1 {
		return Errorf(ErrConfigurationInvalid, "battery_efficiency %g out of range (0,1]", c.BatteryEfficiency)
	}
	if err := c.GridPeakHours.Validate(); err != nil {
		return err
	}
	if c.GeneratorFuelConsumptionLPerKWH <= 0 {
		return Errorf(ErrConfigurationInvalid, "generator_fuel_consumption_l_per_kwh must be > 0, got %g", c.GeneratorFuelConsumptionLPerKWH)
	}
	if c.GeneratorMinRuntimeMinutes < 0 {
		return Errorf(ErrConfigurationInvalid, "generator_min_runtime_minutes must be >= 0, got %d", c.GeneratorMinRuntimeMinutes)
	}
	if c.GeneratorMaxPowerKW < 0 {
		return Errorf(ErrConfigurationInvalid, "generator_max_power_kw must be >= 0, got %g", c.GeneratorMaxPowerKW)
	}
	switch c.OptimizationMode {
	case ModeCost, ModeSelfConsumption, ModeBackup:
	default:
		return Errorf(ErrConfigurationInvalid, "unknown optimization_mode %q", c.OptimizationMode)
	}
	if c.SafetyMarginCriticalLoads < 0 || c.SafetyMarginCriticalLoads >= 1 {
		return Errorf(ErrConfigurationInvalid, "safety_margin_critical_loads %g out of range [0,1)", c.SafetyMarginCriticalLoads)
	}
	return nil
}

// SensorReading is the latest battery telemetry used to seed the engine's
// initial SOC.
type SensorReading struct {
	MicrogridID string    `json:"microgrid_id"`
	SOC         float64   `json:"soc"`
	Timestamp   time.Time `json:"timestamp"`
}
