package types

import (
	"time"
)

// PowerSource is the nominal source attributed to a device within a bucket.
type PowerSource string

const (
	SourceSolar     PowerSource = "solar"
	SourceBattery   PowerSource = "battery"
	SourceGrid      PowerSource = "grid"
	SourceGenerator PowerSource = "generator"
)

// DeviceAllocation is a snapshot of a device active within a bucket. Storing
// the snapshot (rather than a reference) keeps schedules self-contained and
// replayable.
type DeviceAllocation struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	PowerKW     float64     `json:"power_kw"`
	PowerSource PowerSource `json:"power_source"`
}

// Bucket is one hour of the dispatch plan.
type Bucket struct {
	Index              int                `json:"index"`
	StartTime          time.Time          `json:"start_time"`
	SolarKW            float64            `json:"solar_kw"`
	LoadKW             float64            `json:"load_kw"`
	BatteryChargeKW    float64            `json:"battery_charge_kw"`
	BatteryDischargeKW float64            `json:"battery_discharge_kw"`
	GridImportKW       float64            `json:"grid_import_kw"`
	GridExportKW       float64            `json:"grid_export_kw"`
	GeneratorKW        float64            `json:"generator_kw"`
	SOCEnd             float64            `json:"soc_end"`
	Devices            []DeviceAllocation `json:"devices"`
	EssentialUnserved  bool               `json:"essential_unserved,omitempty"`
}

// CapacityFactor holds peak and average capacity factors in percent.
type CapacityFactor struct {
	PeakPercent    float64 `json:"peak_percent"`
	AveragePercent float64 `json:"average_percent"`
}

// ScheduleMetrics are the optimization figures derived from a completed
// schedule.
type ScheduleMetrics struct {
	SolarUtilizationPercent    float64        `json:"solar_utilization_percent"`
	EstimatedCostSavings       float64        `json:"estimated_cost_savings"`
	BatteryCycleEfficiency     float64        `json:"battery_cycle_efficiency"`
	GridImportReductionPercent float64        `json:"grid_import_reduction_percent"`
	GridExportEnergyKWH        float64        `json:"grid_export_energy_kwh"`
	GridExportRevenue          float64        `json:"grid_export_revenue"`
	CarbonReductionKG          float64        `json:"carbon_footprint_reduction_kg"`
	CapacityFactor             CapacityFactor `json:"capacity_factor"`
}

// Schedule is the dispatch plan for one microgrid day (or requested horizon).
// One schedule is active per (microgrid, date); a newer save supersedes.
type Schedule struct {
	MicrogridID   string          `json:"microgrid_id"`
	Date          string          `json:"date"` // YYYY-MM-DD, IST
	Buckets       []Bucket        `json:"buckets"`
	Metrics       ScheduleMetrics `json:"metrics"`
	Warnings      []string        `json:"warnings"`
	StaleForecast bool            `json:"stale_forecast,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
