package types

import (
	"time"
)

// Severity grades an alert or validation verdict.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// AlertKind enumerates the rule set of the alert engine.
type AlertKind string

const (
	AlertPowerDropImminent   AlertKind = "power_drop_imminent"
	AlertForecastImplausible AlertKind = "forecast_implausible"
	AlertSOCCritical         AlertKind = "soc_critical"
	AlertEssentialUnserved   AlertKind = "essential_unserved"
	AlertIrrigationDeferred  AlertKind = "irrigation_deferred"
	AlertBatteryCycleAnomaly AlertKind = "battery_cycle_anomaly"
)

// Alert is an operational condition surfaced to users. IDs are deterministic
// on (microgrid_id, kind, bucket_start) so re-running the engine on identical
// inputs emits the same set.
type Alert struct {
	ID             string     `json:"id"`
	MicrogridID    string     `json:"microgrid_id"`
	ScheduleDate   string     `json:"schedule_date,omitempty"`
	Kind           AlertKind  `json:"kind"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	BucketStart    time.Time  `json:"bucket_start"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// Verdict is the forecast validator's overall judgement.
type Verdict string

const (
	VerdictRealistic       Verdict = "realistic"
	VerdictMostlyRealistic Verdict = "mostly realistic"
	VerdictOptimistic      Verdict = "optimistic"
	VerdictIncorrect       Verdict = "incorrect"
)

// ValidationVerdict is the structured result of the forecast validator.
type ValidationVerdict struct {
	Verdict         Verdict  `json:"verdict"`
	Severity        Severity `json:"severity,omitempty"`
	Summary         string   `json:"summary"`
	Passed          []string `json:"passed"`
	Warnings        []string `json:"warnings"`
	Issues          []string `json:"issues"`
	Causes          []string `json:"causes"`
	Recommendations []string `json:"recommendations"`
}
