// Package engine converts a bucketized forecast, a device fleet and a system
// configuration into a validated dispatch schedule. The engine is pure CPU:
// it performs no I/O, reads no clocks and holds no state between runs, so
// identical inputs always produce identical schedules.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/suryadrishti/suryadrishti/pkg/devices"
	"github.com/suryadrishti/suryadrishti/pkg/log"
	"github.com/suryadrishti/suryadrishti/pkg/solar"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// Irrigation-pump deferral thresholds, taken from the documented operational
// policy. TODO: lift these into SystemConfiguration once field experience
// justifies per-site tuning.
const (
	deferralDropRatioSoft = 0.25
	deferralDropRatioHard = 0.40
	deferralSOCThreshold  = 0.40
)

// balanceTolerance is the absolute per-bucket power balance tolerance in kW.
const balanceTolerance = 0.01

// Request carries everything a single engine run needs. All fields are
// read-only snapshots owned by the caller for the duration of the run.
type Request struct {
	MicrogridID   string
	Date          time.Time // any instant within the IST schedule day
	Series        types.ForecastSeries
	Devices       []types.Device
	Config        types.SystemConfiguration
	InitialSOC    float64
	GridAvailable bool
}

// Deferral records an irrigation pump held back by the look-ahead rule.
type Deferral struct {
	DeviceID    string
	DeviceName  string
	BucketStart time.Time
	DropKW      float64
	SOC         float64
}

// Result is a completed engine run. Infeasible and Degraded mirror the
// failure semantics: both still carry a full schedule.
type Result struct {
	Schedule   types.Schedule
	Deferrals  []Deferral
	Infeasible bool
	Degraded   bool
}

// Engine is the dispatch scheduler. It is stateless and safe for concurrent
// use across microgrids.
type Engine struct{}

// New creates an Engine.
func New() *Engine {
	return &Engine{}
}

// bucketState tracks the running allocation for one bucket.
type bucketState struct {
	solarAvail float64 // uncommitted solar in this bucket
	load       float64 // committed device load
	charge     float64
	discharge  float64
	gridImport float64
	gridExport float64
	generator  float64
	active     []types.DeviceAllocation
	unserved   float64
}

// Run executes the dispatch pass. The returned error is non-nil only for
// programmer-visible faults (invalid configuration, malformed forecast,
// cancellation); operational shortfalls are surfaced on the Result.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := devices.ValidateFleet(req.Devices); err != nil {
		return nil, err
	}
	if err := req.Series.Validate(); err != nil {
		return nil, err
	}
	if req.InitialSOC < cfg.BatteryMinSOC || req.InitialSOC > cfg.BatteryMaxSOC {
		return nil, types.Errorf(types.ErrConfigurationInvalid,
			"initial_soc %g outside [%g,%g]", req.InitialSOC, cfg.BatteryMinSOC, cfg.BatteryMaxSOC)
	}

	horizon := req.Series.HorizonHours
	fleet := devices.SchedulingOrder(req.Devices)

	res := &Result{
		Schedule: types.Schedule{
			MicrogridID:   req.MicrogridID,
			Date:          solar.DateIST(req.Date),
			Buckets:       make([]types.Bucket, 0, horizon),
			StaleForecast: req.Series.Stale,
		},
	}
	warnf := func(format string, args ...any) {
		res.Schedule.Warnings = append(res.Schedule.Warnings, fmt.Sprintf(format, args...))
	}

	// Devices whose minimum runtime cannot fit the horizon are ineligible for
	// the whole run.
	eligibleFleet := fleet[:0:0]
	for _, d := range fleet {
		if !devices.FitsHorizon(d, horizon) {
			warnf("device %s min runtime %dm exceeds horizon %dh, excluded", d.Name, d.MinRuntimeMinutes, horizon)
			continue
		}
		eligibleFleet = append(eligibleFleet, d)
	}

	soc := req.InitialSOC
	essentialFloor := cfg.BatteryMinSOC + cfg.SafetyMarginCriticalLoads*cfg.SOCRange()
	midSOC := (cfg.BatteryMinSOC + cfg.BatteryMaxSOC) / 2
	genMinBuckets := cfg.GeneratorMinRuntimeMinutes / 60

	// runningUntil maps a device to the bucket index (exclusive) through
	// which an earlier admission commits it.
	runningUntil := make(map[string]int)
	genForcedRemaining := 0
	skippedDevices := make(map[string]struct{})
	clipWarned := false

	for b := 0; b < horizon; b++ {
		// cancellation is permitted at bucket boundaries only
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("engine run canceled at bucket %d: %w", b, err)
		}

		point := req.Series.Points[b]
		hour := solar.LocalTimeIST(point.Timestamp).Hour()
		st := bucketState{solarAvail: point.PowerKW}

		// Step 1: commit essential load and devices already inside a
		// minimum-runtime window.
		for _, d := range eligibleFleet {
			committed := runningUntil[d.ID] > b
			if d.Type == types.DeviceEssential && devices.Eligible(d, hour) {
				committed = true
			}
			if committed {
				st.load += d.PowerKW
				st.active = append(st.active, types.DeviceAllocation{ID: d.ID, Name: d.Name, PowerKW: d.PowerKW})
			}
		}

		// Steps 3-5: admit flexible then optional devices.
		for _, d := range eligibleFleet {
			if d.Type == types.DeviceEssential || runningUntil[d.ID] > b || !devices.Eligible(d, hour) {
				continue
			}
			// a device with a minimum runtime runs once per schedule; having
			// completed its window it is neither re-admitted nor re-deferred
			if runningUntil[d.ID] > 0 && devices.MinRuntimeBuckets(d) > 0 {
				continue
			}
			runtime := maxInt(1, devices.MinRuntimeBuckets(d))
			if b+runtime > horizon {
				skippedDevices[d.ID] = struct{}{}
				continue
			}
			if devices.IsIrrigationPump(d) {
				if drop, defer_ := e.shouldDeferPump(req.Series, b, soc, cfg); defer_ {
					res.Deferrals = append(res.Deferrals, Deferral{
						DeviceID:    d.ID,
						DeviceName:  d.Name,
						BucketStart: point.Timestamp,
						DropKW:      drop,
						SOC:         soc,
					})
					continue
				}
			}
			if !e.admit(req.Series, eligibleFleet, cfg, d, b, runtime, soc, st.load, essentialFloor, midSOC) {
				skippedDevices[d.ID] = struct{}{}
				continue
			}
			st.load += d.PowerKW
			st.active = append(st.active, types.DeviceAllocation{ID: d.ID, Name: d.Name, PowerKW: d.PowerKW})
			runningUntil[d.ID] = b + runtime
		}

		// Step 2 + 8: dispatch supply to the committed load.
		deficit := st.load - st.solarAvail
		if deficit > 0 {
			st.solarAvail = 0
			deficit = e.dischargeBattery(&st, cfg, deficit, soc, essentialFloor)

			// a generator inside its minimum-runtime window serves the
			// deficit ahead of the grid
			if deficit > 0 && genForcedRemaining > 0 {
				gen := math.Min(deficit, cfg.GeneratorMaxPowerKW)
				st.generator += gen
				deficit -= gen
			}
			if deficit > 0 && req.GridAvailable {
				st.gridImport = deficit
				deficit = 0
			}
			if deficit > 0 {
				generatorAllowed := cfg.OptimizationMode != types.ModeBackup || soc <= cfg.BatteryMinSOC+1e-9
				if generatorAllowed && cfg.GeneratorMaxPowerKW > st.generator {
					gen := math.Min(deficit, cfg.GeneratorMaxPowerKW-st.generator)
					if st.generator == 0 && gen > 0 {
						genForcedRemaining = genMinBuckets
					}
					st.generator += gen
					deficit -= gen
				}
			}
			if deficit > balanceTolerance {
				st.unserved = deficit
			} else {
				deficit = 0
			}
		} else {
			st.solarAvail = -deficit
		}

		// Steps 6-7: surplus to battery and grid, ordered by mode.
		surplus := st.solarAvail
		if surplus > 0 {
			switch cfg.OptimizationMode {
			case types.ModeCost:
				surplus = e.exportSurplus(&st, cfg, req.GridAvailable, surplus)
				surplus = e.chargeBattery(&st, cfg, surplus, soc)
			case types.ModeSelfConsumption:
				surplus = e.chargeBattery(&st, cfg, surplus, soc)
				surplus = e.exportSurplus(&st, cfg, req.GridAvailable, surplus)
			case types.ModeBackup:
				surplus = e.chargeBattery(&st, cfg, surplus, soc)
			}
			// any residual surplus is curtailed
			_ = surplus
		}

		// Forced generator runtime with no deficit: charge the battery
		// within headroom rather than burning fuel idle.
		if genForcedRemaining > 0 && st.generator == 0 {
			headroom := (cfg.BatteryMaxSOC - soc) * cfg.BatteryCapacityKWH / cfg.BatteryEfficiency
			gen := math.Min(cfg.GeneratorMaxPowerKW, math.Min(cfg.BatteryMaxChargeKW-st.charge, headroom))
			if gen > 0 && st.discharge == 0 {
				st.generator = gen
				st.charge += gen
			}
		}
		// the runtime window counts down even in buckets where the
		// generator ends up idle
		if genForcedRemaining > 0 {
			genForcedRemaining--
		}

		// Repair: charge and discharge must never both be positive; retain
		// the larger magnitude.
		if st.charge > 0 && st.discharge > 0 {
			warnf("bucket %d: charge/discharge conflict repaired", b)
			if st.charge >= st.discharge {
				st.discharge = 0
			} else {
				st.charge = 0
			}
		}

		// Battery state update.
		energyIn := st.charge * cfg.BatteryEfficiency
		energyOut := st.discharge / cfg.BatteryEfficiency
		socEnd := soc + (energyIn-energyOut)/cfg.BatteryCapacityKWH
		if socEnd < cfg.BatteryMinSOC-1e-9 || socEnd > cfg.BatteryMaxSOC+1e-9 {
			if !clipWarned {
				warnf("bucket %d: SOC %0.4f clipped to [%g,%g]", b, socEnd, cfg.BatteryMinSOC, cfg.BatteryMaxSOC)
				clipWarned = true
			}
			socEnd = clamp(socEnd, cfg.BatteryMinSOC, cfg.BatteryMaxSOC)
		}
		socEnd = clamp(socEnd, cfg.BatteryMinSOC, cfg.BatteryMaxSOC)

		bucket := types.Bucket{
			Index:              b,
			StartTime:          solar.LocalTimeIST(point.Timestamp),
			SolarKW:            round3(point.PowerKW),
			LoadKW:             round3(st.load - st.unserved),
			BatteryChargeKW:    round3(st.charge),
			BatteryDischargeKW: round3(st.discharge),
			GridImportKW:       round3(st.gridImport),
			GridExportKW:       round3(st.gridExport),
			GeneratorKW:        round3(st.generator),
			SOCEnd:             socEnd,
			Devices:            st.active,
			EssentialUnserved:  st.unserved > 0,
		}

		// Unused solar beyond load, charge and export was curtailed; reflect
		// it so the bucket balances.
		supplied := bucket.SolarKW + bucket.BatteryDischargeKW + bucket.GridImportKW + bucket.GeneratorKW
		demanded := bucket.LoadKW + bucket.BatteryChargeKW + bucket.GridExportKW
		if excess := supplied - demanded; excess > balanceTolerance {
			bucket.SolarKW = round3(bucket.SolarKW - excess)
		}

		e.attributeSources(&bucket)

		if st.unserved > 0 {
			res.Infeasible = true
			warnf("bucket %d: essential load short by %.3f kW", b, st.unserved)
		}

		res.Schedule.Buckets = append(res.Schedule.Buckets, bucket)
		soc = socEnd
	}

	if len(skippedDevices) > 0 {
		res.Degraded = true
		warnf("%d device(s) skipped for lack of solar or battery headroom", len(skippedDevices))
	}

	log.Ctx(ctx).DebugContext(ctx, "engine run complete",
		slog.String("microgridID", req.MicrogridID),
		slog.Int("horizon", horizon),
		slog.Float64("terminalSOC", soc),
		slog.Bool("infeasible", res.Infeasible),
		slog.Int("deferrals", len(res.Deferrals)),
	)
	return res, nil
}

// dischargeBattery covers as much of the deficit as the battery allows and
// returns the remaining deficit.
func (e *Engine) dischargeBattery(st *bucketState, cfg types.SystemConfiguration, deficit, soc, floor float64) float64 {
	byEnergy := (soc - floor) * cfg.BatteryCapacityKWH * cfg.BatteryEfficiency
	if byEnergy <= 0 {
		return deficit
	}
	dis := math.Min(deficit, math.Min(cfg.BatteryMaxDischargeKW, byEnergy))
	st.discharge += dis
	return deficit - dis
}

// chargeBattery stores surplus in the battery and returns the remainder.
func (e *Engine) chargeBattery(st *bucketState, cfg types.SystemConfiguration, surplus, soc float64) float64 {
	headroom := (cfg.BatteryMaxSOC - soc) * cfg.BatteryCapacityKWH / cfg.BatteryEfficiency
	if headroom <= 0 {
		return surplus
	}
	charge := math.Min(surplus, math.Min(cfg.BatteryMaxChargeKW-st.charge, headroom))
	if charge <= 0 {
		return surplus
	}
	st.charge += charge
	return surplus - charge
}

// exportSurplus sends surplus to the grid when export is enabled and returns
// the remainder. Export and import never coexist: surplus implies no import.
func (e *Engine) exportSurplus(st *bucketState, cfg types.SystemConfiguration, gridAvailable bool, surplus float64) float64 {
	if !cfg.GridExportEnabled || !gridAvailable || cfg.OptimizationMode == types.ModeBackup {
		return surplus
	}
	st.gridExport += surplus
	return 0
}

// shouldDeferPump applies the look-ahead deferral rule: an imminent sharp
// forecast drop defers the pump outright, a moderate drop defers it only when
// the battery is already low.
func (e *Engine) shouldDeferPump(series types.ForecastSeries, b int, soc float64, cfg types.SystemConfiguration) (float64, bool) {
	now := series.Points[b].PowerKW
	if now <= 0 {
		return 0, false
	}
	low := now
	for k := b + 1; k <= b+2 && k < len(series.Points); k++ {
		low = math.Min(low, series.Points[k].PowerKW)
	}
	drop := now - low
	if drop > deferralDropRatioHard*now {
		return drop, true
	}
	if drop > deferralDropRatioSoft*now && soc < deferralSOCThreshold {
		return drop, true
	}
	return drop, false
}

// admit projects the device's whole minimum runtime over the forecast and
// accepts it only if solar surplus plus permissible battery contribution can
// carry it. Optional devices are held to the stricter rule that battery use
// may not dip below the midpoint SOC.
func (e *Engine) admit(series types.ForecastSeries, fleet []types.Device, cfg types.SystemConfiguration, d types.Device, b, runtime int, soc, committedLoad, essentialFloor, midSOC float64) bool {
	floor := essentialFloor
	if d.Type == types.DeviceOptional {
		floor = midSOC
	}
	batteryAllowed := cfg.OptimizationMode != types.ModeBackup
	projSOC := soc
	for k := 0; k < runtime; k++ {
		p := series.Points[b+k]
		baseLoad := committedLoad
		if k > 0 {
			h := solar.LocalTimeIST(p.Timestamp).Hour()
			baseLoad = devices.EssentialLoadKW(fleet, h)
		}
		need := baseLoad + d.PowerKW - p.PowerKW
		if need <= 0 {
			// solar surplus covers the bucket; battery untouched by this
			// projection
			continue
		}
		if !batteryAllowed {
			return false
		}
		maxDis := math.Min(cfg.BatteryMaxDischargeKW, (projSOC-floor)*cfg.BatteryCapacityKWH*cfg.BatteryEfficiency)
		if need > maxDis {
			return false
		}
		projSOC -= need / cfg.BatteryEfficiency / cfg.BatteryCapacityKWH
		if projSOC < floor {
			return false
		}
	}
	return true
}

// attributeSources assigns the single nominal power source shown for each
// device in the bucket.
func (e *Engine) attributeSources(b *types.Bucket) {
	var src types.PowerSource
	switch {
	case b.SolarKW >= b.LoadKW && b.LoadKW >= 0 && b.SolarKW > 0:
		src = types.SourceSolar
	case b.BatteryDischargeKW > 0:
		src = types.SourceBattery
	case b.GridImportKW > 0:
		src = types.SourceGrid
	case b.GeneratorKW > 0:
		src = types.SourceGenerator
	default:
		src = types.SourceSolar
	}
	for i := range b.Devices {
		b.Devices[i].PowerSource = src
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
