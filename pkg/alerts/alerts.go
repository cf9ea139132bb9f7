// Package alerts scans a forecast series and the schedule derived from it
// and emits operational alerts. Alert IDs are deterministic so a re-run over
// identical inputs produces the identical set and persistence stays
// idempotent.
package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/suryadrishti/suryadrishti/pkg/engine"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// Rule thresholds.
const (
	powerDropRatio       = 0.20
	socCriticalMargin    = 0.02
	cycleEfficiencyFloor = 0.70
)

// alertNamespace seeds the deterministic v5 alert IDs.
var alertNamespace = uuid.MustParse("7b9f83a4-16c2-4d6e-9a57-2f4f6f2aa3c1")

// ID derives the deterministic alert ID for (microgrid, kind, bucket start).
func ID(microgridID string, kind types.AlertKind, bucketStart time.Time) string {
	key := fmt.Sprintf("%s|%s|%s", microgridID, kind, bucketStart.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(alertNamespace, []byte(key)).String()
}

// Input bundles everything the rule set inspects.
type Input struct {
	MicrogridID string
	Series      types.ForecastSeries
	Result      *engine.Result
	Verdict     types.ValidationVerdict
	Config      types.SystemConfiguration
	Now         time.Time
}

// Evaluate runs all alert rules and returns the alerts in rule order.
func Evaluate(in Input) []types.Alert {
	var out []types.Alert
	emit := func(kind types.AlertKind, sev types.Severity, bucketStart time.Time, format string, args ...any) {
		out = append(out, types.Alert{
			ID:           ID(in.MicrogridID, kind, bucketStart),
			MicrogridID:  in.MicrogridID,
			ScheduleDate: in.Result.Schedule.Date,
			Kind:         kind,
			Severity:     sev,
			Message:      fmt.Sprintf(format, args...),
			BucketStart:  bucketStart,
			CreatedAt:    in.Now,
		})
	}

	// Imminent power drops: a daytime bucket whose output falls sharply
	// within the next hour or two.
	for i, p := range in.Series.Points {
		if !p.IsDaytime || p.PowerKW <= 0 {
			continue
		}
		low := p.PowerKW
		for k := i + 1; k <= i+2 && k < len(in.Series.Points); k++ {
			low = math.Min(low, in.Series.Points[k].PowerKW)
		}
		if drop := p.PowerKW - low; drop >= powerDropRatio*p.PowerKW {
			emit(types.AlertPowerDropImminent, types.SeverityWarning, p.Timestamp,
				"solar output drops %.1f kW (%.0f%%) within the next hour", drop, 100*drop/p.PowerKW)
		}
	}

	// Forecast plausibility.
	if len(in.Series.Points) > 0 {
		first := in.Series.Points[0].Timestamp
		switch in.Verdict.Verdict {
		case types.VerdictOptimistic:
			emit(types.AlertForecastImplausible, types.SeverityWarning, first,
				"forecast judged optimistic: %s", in.Verdict.Summary)
		case types.VerdictIncorrect:
			emit(types.AlertForecastImplausible, types.SeverityCritical, first,
				"forecast judged incorrect: %s", in.Verdict.Summary)
		}
	}

	for _, b := range in.Result.Schedule.Buckets {
		if b.SOCEnd <= in.Config.BatteryMinSOC+socCriticalMargin {
			emit(types.AlertSOCCritical, types.SeverityCritical, b.StartTime,
				"battery SOC %.2f at or near floor %.2f", b.SOCEnd, in.Config.BatteryMinSOC)
		}
		if b.EssentialUnserved {
			emit(types.AlertEssentialUnserved, types.SeverityCritical, b.StartTime,
				"essential load cannot be fully served at %s", b.StartTime.Format("15:04"))
		}
	}

	for _, d := range in.Result.Deferrals {
		emit(types.AlertIrrigationDeferred, types.SeverityWarning, d.BucketStart,
			"%s deferred: forecast drops %.1f kW with SOC at %.2f", d.DeviceName, d.DropKW, d.SOC)
	}

	if m := in.Result.Schedule.Metrics; m.BatteryCycleEfficiency > 0 && m.BatteryCycleEfficiency < cycleEfficiencyFloor {
		if len(in.Result.Schedule.Buckets) > 0 {
			emit(types.AlertBatteryCycleAnomaly, types.SeverityInfo, in.Result.Schedule.Buckets[0].StartTime,
				"battery cycle efficiency %.2f below %.2f", m.BatteryCycleEfficiency, cycleEfficiencyFloor)
		}
	}
	return out
}
