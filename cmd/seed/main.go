package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/suryadrishti/suryadrishti/pkg/log"
	"github.com/suryadrishti/suryadrishti/pkg/solar"
	"github.com/suryadrishti/suryadrishti/pkg/storage"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// Seeds a demo microgrid (a village site near Jodhpur, Rajasthan) with a
// system configuration, a device fleet and a day of battery telemetry so the
// API can serve schedule runs against the emulator without real hardware.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding demo microgrid")

	const microgridID = "mg-jodhpur-01"

	cfg := types.SystemConfiguration{
		MicrogridID: microgridID,
		Location:    types.Location{LatitudeDeg: 26.29, LongitudeDeg: 73.02},
		CapacityKW:  40,

		BatteryCapacityKWH:    120,
		BatteryMaxChargeKW:    30,
		BatteryMaxDischargeKW: 30,
		BatteryMinSOC:         0.20,
		BatteryMaxSOC:         0.95,
		BatteryEfficiency:     0.92,

		GridPeakRatePerKWH:    9.50,
		GridOffPeakRatePerKWH: 5.25,
		GridPeakHours:         types.HourWindow{StartHour: 18, EndHour: 23},
		GridExportRatePerKWH:  3.00,
		GridExportEnabled:     true,

		GeneratorFuelCostPerLiter:       96,
		GeneratorFuelConsumptionLPerKWH: 0.30,
		GeneratorMinRuntimeMinutes:      60,
		GeneratorMaxPowerKW:             15,

		OptimizationMode:          types.ModeCost,
		SafetyMarginCriticalLoads: 0.10,
	}
	if err := s.SaveConfig(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed config", "error", err)
		os.Exit(1)
	}

	fleet := []types.Device{
		{
			ID: "dev-water-purifier", Name: "Water purifier", PowerKW: 1.2,
			Type: types.DeviceEssential, Priority: 1, IsActive: true,
		},
		{
			ID: "dev-cold-storage", Name: "Cold storage", PowerKW: 4.5,
			Type: types.DeviceEssential, Priority: 1, IsActive: true,
		},
		{
			ID: "dev-health-center", Name: "Health center", PowerKW: 2.0,
			Type: types.DeviceEssential, Priority: 2, IsActive: true,
			PreferredHours: &types.HourWindow{StartHour: 8, EndHour: 20},
		},
		{
			ID: "dev-irrigation-pump", Name: "Irrigation pump", PowerKW: 7.5,
			Type: types.DeviceFlexible, Priority: 3, MinRuntimeMinutes: 120,
			PreferredHours: &types.HourWindow{StartHour: 9, EndHour: 17},
			IsActive:       true, IrrigationPump: true,
		},
		{
			ID: "dev-grain-mill", Name: "Grain mill", PowerKW: 5.0,
			Type: types.DeviceFlexible, Priority: 3, MinRuntimeMinutes: 60,
			PreferredHours: &types.HourWindow{StartHour: 10, EndHour: 16},
			IsActive:       true,
		},
		{
			ID: "dev-street-lights", Name: "Street lights", PowerKW: 1.5,
			Type: types.DeviceOptional, Priority: 4,
			PreferredHours: &types.HourWindow{StartHour: 19, EndHour: 5},
			IsActive:       true,
		},
		{
			ID: "dev-community-tv", Name: "Community TV hall", PowerKW: 0.8,
			Type: types.DeviceOptional, Priority: 5, IsActive: true,
		},
	}
	if err := s.SaveDevices(ctx, microgridID, fleet); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed devices", "error", err)
		os.Exit(1)
	}

	// One day of hourly telemetry: SOC climbs through the solar window and
	// drains in the evening.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dayStart := solar.DayStartIST(time.Now())
	soc := 0.45
	for t := dayStart; t.Before(time.Now()); t = t.Add(time.Hour) {
		h := solar.LocalTimeIST(t).Hour()
		switch {
		case h >= 9 && h < 16:
			soc += 0.04 + rng.Float64()*0.02
		case h >= 18 || h < 5:
			soc -= 0.03 + rng.Float64()*0.02
		}
		soc = math.Max(cfg.BatteryMinSOC, math.Min(cfg.BatteryMaxSOC, soc))

		reading := types.SensorReading{
			MicrogridID: microgridID,
			SOC:         soc,
			Timestamp:   t,
		}
		if err := s.SaveSensorReading(ctx, reading); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed sensor reading", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded reading at %s: SOC %.0f%%\n",
			solar.LocalTimeIST(t).Format(time.Kitchen), soc*100)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded demo microgrid successfully")
}
