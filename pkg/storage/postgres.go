package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	_ "github.com/lib/pq"

	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// PostgresRepository implements Repository on PostgreSQL. Rows store the
// record as a JSONB blob next to the columns used for keys and range scans.
// Per-microgrid serialization uses session advisory locks, so the provider
// is safe across replicas sharing one database.
type PostgresRepository struct {
	db  *sql.DB
	dsn string
}

// pgLockWait bounds how long a schedule run polls for the advisory lock
// before failing with PersistenceConflict.
const (
	pgLockWait     = 30 * time.Second
	pgLockInterval = 250 * time.Millisecond
)

// configuredPostgres sets up the Postgres repository.
func configuredPostgres() *PostgresRepository {
	dsn := lflag.String("postgres-dsn", "", "PostgreSQL connection string")

	p := &PostgresRepository{}
	lflag.Do(func() {
		p.dsn = *dsn
	})
	return p
}

// Validate checks if the repository is properly configured.
func (p *PostgresRepository) Validate() error {
	if p.dsn == "" {
		return fmt.Errorf("postgres-dsn is required")
	}
	return nil
}

// Init opens the pool and creates the schema.
func (p *PostgresRepository) Init(ctx context.Context) error {
	db, err := sql.Open("postgres", p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	p.db = db
	return p.createSchema(ctx)
}

func (p *PostgresRepository) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS microgrid_configs (
			microgrid_id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			microgrid_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (microgrid_id, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			microgrid_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (microgrid_id, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			microgrid_id TEXT NOT NULL,
			schedule_date TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (microgrid_id, schedule_date)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			microgrid_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS alerts_microgrid_created_idx
			ON alerts (microgrid_id, created_at)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the pool.
func (p *PostgresRepository) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// LoadConfig retrieves the system configuration.
func (p *PostgresRepository) LoadConfig(ctx context.Context, microgridID string) (types.SystemConfiguration, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM microgrid_configs WHERE microgrid_id = $1`, microgridID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SystemConfiguration{}, fmt.Errorf("%w: %s", ErrConfigNotFound, microgridID)
	}
	if err != nil {
		return types.SystemConfiguration{}, fmt.Errorf("failed to load config: %w", err)
	}
	var cfg types.SystemConfiguration
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return types.SystemConfiguration{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// SaveConfig upserts the system configuration.
func (p *PostgresRepository) SaveConfig(ctx context.Context, cfg types.SystemConfiguration) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO microgrid_configs (microgrid_id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (microgrid_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		cfg.MicrogridID, doc)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// LoadDevices retrieves the device fleet ordered by device ID.
func (p *PostgresRepository) LoadDevices(ctx context.Context, microgridID string, activeOnly bool) ([]types.Device, error) {
	q := `SELECT doc FROM devices WHERE microgrid_id = $1 ORDER BY device_id`
	if activeOnly {
		q = `SELECT doc FROM devices WHERE microgrid_id = $1 AND is_active ORDER BY device_id`
	}
	rows, err := p.db.QueryContext(ctx, q, microgridID)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	defer rows.Close()

	var fleet []types.Device
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		var d types.Device
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device: %w", err)
		}
		fleet = append(fleet, d)
	}
	return fleet, rows.Err()
}

// SaveDevices upserts the fleet.
func (p *PostgresRepository) SaveDevices(ctx context.Context, microgridID string, fleet []types.Device) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range fleet {
		doc, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal device %s: %w", d.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices (microgrid_id, device_id, is_active, doc)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (microgrid_id, device_id)
			DO UPDATE SET is_active = EXCLUDED.is_active, doc = EXCLUDED.doc`,
			microgridID, d.ID, d.IsActive, doc)
		if err != nil {
			return fmt.Errorf("failed to save device %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// SaveSensorReading appends a battery telemetry reading.
func (p *PostgresRepository) SaveSensorReading(ctx context.Context, reading types.SensorReading) error {
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("sensor reading missing timestamp")
	}
	doc, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal sensor reading: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sensor_readings (microgrid_id, ts, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (microgrid_id, ts) DO UPDATE SET doc = EXCLUDED.doc`,
		reading.MicrogridID, reading.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("failed to save sensor reading: %w", err)
	}
	return nil
}

// LoadLatestSOC retrieves the most recent battery telemetry reading.
func (p *PostgresRepository) LoadLatestSOC(ctx context.Context, microgridID string) (types.SensorReading, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT doc FROM sensor_readings
		WHERE microgrid_id = $1 ORDER BY ts DESC LIMIT 1`, microgridID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SensorReading{}, fmt.Errorf("%w: %s", ErrReadingNotFound, microgridID)
	}
	if err != nil {
		return types.SensorReading{}, fmt.Errorf("failed to load latest sensor reading: %w", err)
	}
	var r types.SensorReading
	if err := json.Unmarshal(doc, &r); err != nil {
		return types.SensorReading{}, fmt.Errorf("failed to unmarshal sensor reading: %w", err)
	}
	return r, nil
}

// SaveSchedule upserts the schedule for its (microgrid, date) key.
func (p *PostgresRepository) SaveSchedule(ctx context.Context, schedule types.Schedule) error {
	if schedule.Date == "" {
		return fmt.Errorf("schedule missing date")
	}
	doc, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO schedules (microgrid_id, schedule_date, created_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (microgrid_id, schedule_date)
		DO UPDATE SET created_at = EXCLUDED.created_at, doc = EXCLUDED.doc`,
		schedule.MicrogridID, schedule.Date, schedule.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// LatestSchedule retrieves the most recently created schedule.
func (p *PostgresRepository) LatestSchedule(ctx context.Context, microgridID string) (types.Schedule, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT doc FROM schedules
		WHERE microgrid_id = $1 ORDER BY created_at DESC LIMIT 1`, microgridID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Schedule{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, microgridID)
	}
	if err != nil {
		return types.Schedule{}, fmt.Errorf("failed to load latest schedule: %w", err)
	}
	var s types.Schedule
	if err := json.Unmarshal(doc, &s); err != nil {
		return types.Schedule{}, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return s, nil
}

// AppendAlerts upserts alerts keyed by their deterministic IDs.
func (p *PostgresRepository) AppendAlerts(ctx context.Context, alerts []types.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, a := range alerts {
		doc, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal alert %s: %w", a.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO alerts (alert_id, microgrid_id, created_at, doc)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (alert_id) DO UPDATE SET doc = EXCLUDED.doc`,
			a.ID, a.MicrogridID, a.CreatedAt, doc)
		if err != nil {
			return fmt.Errorf("failed to save alert %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// AlertsSince retrieves alerts created at or after since, oldest first.
func (p *PostgresRepository) AlertsSince(ctx context.Context, microgridID string, since time.Time) ([]types.Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT doc FROM alerts
		WHERE microgrid_id = $1 AND created_at >= $2
		ORDER BY created_at`, microgridID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		var a types.Alert
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert stamps an alert with the acknowledgement time. The stamp
// must not precede the alert's creation.
func (p *PostgresRepository) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	var createdAt time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT created_at FROM alerts WHERE alert_id = $1`, alertID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up alert %s: %w", alertID, err)
	}
	if err := validateAckTime(alertID, createdAt, at); err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE alerts
		SET doc = jsonb_set(doc, '{acknowledged_at}', to_jsonb($2::timestamptz))
		WHERE alert_id = $1`, alertID, at)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", alertID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	return nil
}

// WithLock serializes schedule runs per microgrid with a session advisory
// lock held on a dedicated connection for the duration of fn.
func (p *PostgresRepository) WithLock(ctx context.Context, microgridID string, fn func(ctx context.Context) error) error {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to check out connection: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(pgLockWait)
	for {
		var acquired bool
		err := conn.QueryRowContext(ctx,
			`SELECT pg_try_advisory_lock(hashtext($1))`, microgridID).Scan(&acquired)
		if err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			return types.Errorf(types.ErrPersistenceConflict, "microgrid %s is locked by another run", microgridID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pgLockInterval):
		}
	}
	defer conn.ExecContext(context.WithoutCancel(ctx),
		`SELECT pg_advisory_unlock(hashtext($1))`, microgridID)

	return fn(ctx)
}
