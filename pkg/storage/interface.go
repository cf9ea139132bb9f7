// Package storage persists microgrid configuration, device fleets, sensor
// readings, schedules and alerts behind a provider-neutral Repository.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/suryadrishti/suryadrishti/pkg/types"
)

var (
	ErrConfigNotFound   = errors.New("configuration not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrReadingNotFound  = errors.New("sensor reading not found")
	ErrAlertNotFound    = errors.New("alert not found")
)

// validateAckTime rejects an acknowledgement stamped before the alert was
// created.
func validateAckTime(alertID string, createdAt, at time.Time) error {
	if at.Before(createdAt) {
		return types.Errorf(types.ErrConfigurationInvalid,
			"acknowledgement time %s for alert %s precedes creation at %s",
			at.Format(time.RFC3339), alertID, createdAt.Format(time.RFC3339))
	}
	return nil
}

// Repository defines the persistence surface of the dispatch service.
type Repository interface {
	// Configuration
	LoadConfig(ctx context.Context, microgridID string) (types.SystemConfiguration, error)
	SaveConfig(ctx context.Context, cfg types.SystemConfiguration) error

	// Devices
	LoadDevices(ctx context.Context, microgridID string, activeOnly bool) ([]types.Device, error)
	SaveDevices(ctx context.Context, microgridID string, fleet []types.Device) error

	// Telemetry
	LoadLatestSOC(ctx context.Context, microgridID string) (types.SensorReading, error)
	SaveSensorReading(ctx context.Context, reading types.SensorReading) error

	// Schedules. Saving for an existing (microgrid, date) supersedes the
	// earlier schedule.
	SaveSchedule(ctx context.Context, schedule types.Schedule) error
	LatestSchedule(ctx context.Context, microgridID string) (types.Schedule, error)

	// Alerts. AppendAlerts is idempotent on alert ID.
	AppendAlerts(ctx context.Context, alerts []types.Alert) error
	AlertsSince(ctx context.Context, microgridID string, since time.Time) ([]types.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error

	// WithLock runs fn while holding the per-microgrid advisory lock that
	// serializes the read-run-write cycle of a schedule request. A lock that
	// cannot be acquired within the provider's bound fails with a
	// PersistenceConflict error.
	WithLock(ctx context.Context, microgridID string, fn func(ctx context.Context) error) error

	// Lifecycle
	Close() error
}
