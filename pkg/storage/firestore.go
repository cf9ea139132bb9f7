package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/suryadrishti/suryadrishti/pkg/log"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// FirestoreRepository implements Repository using Google Cloud Firestore.
// Documents are stored as JSON strings under a "json" field for portability,
// with a "timestamp" field where range queries need one.
type FirestoreRepository struct {
	client    *firestore.Client
	projectID string
	database  string

	// Firestore offers no advisory locks; schedule runs are serialized per
	// microgrid inside the process. Deployments backing multiple replicas
	// onto one Firestore database should use the postgres provider instead.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// firestoreLockWait bounds how long a schedule run waits for the
// per-microgrid lock before failing with PersistenceConflict.
const firestoreLockWait = 30 * time.Second

// configuredFirestore sets up the Firestore repository.
// It registers flags for configuration.
func configuredFirestore() *FirestoreRepository {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreRepository{locks: make(map[string]*sync.Mutex)}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the repository is properly configured.
func (f *FirestoreRepository) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the repository methods.
func (f *FirestoreRepository) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreRepository) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreRepository) getCollection(microgridID, name string) (*firestore.CollectionRef, error) {
	if microgridID == "" {
		return nil, fmt.Errorf("microgridID cannot be empty")
	}
	return f.client.Collection("microgrids").Doc(microgridID).Collection(name), nil
}

func marshalDoc(v any) (map[string]interface{}, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return map[string]interface{}{"json": string(jsonBytes)}, nil
}

func unmarshalDoc(doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// LoadConfig retrieves the system configuration from the "config/system"
// document.
func (f *FirestoreRepository) LoadConfig(ctx context.Context, microgridID string) (types.SystemConfiguration, error) {
	coll, err := f.getCollection(microgridID, "config")
	if err != nil {
		return types.SystemConfiguration{}, err
	}
	doc, err := coll.Doc("system").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.SystemConfiguration{}, fmt.Errorf("%w: %s", ErrConfigNotFound, microgridID)
		}
		return types.SystemConfiguration{}, fmt.Errorf("failed to fetch config doc: %w", err)
	}
	var cfg types.SystemConfiguration
	if err := unmarshalDoc(doc, &cfg); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "bad config doc", slog.String("microgridID", microgridID), slog.Any("err", err))
		return types.SystemConfiguration{}, err
	}
	return cfg, nil
}

// SaveConfig saves the system configuration to the "config/system" document.
func (f *FirestoreRepository) SaveConfig(ctx context.Context, cfg types.SystemConfiguration) error {
	coll, err := f.getCollection(cfg.MicrogridID, "config")
	if err != nil {
		return err
	}
	data, err := marshalDoc(cfg)
	if err != nil {
		return err
	}
	if _, err := coll.Doc("system").Set(ctx, data); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// LoadDevices retrieves the device fleet, one document per device.
func (f *FirestoreRepository) LoadDevices(ctx context.Context, microgridID string, activeOnly bool) ([]types.Device, error) {
	coll, err := f.getCollection(microgridID, "devices")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var fleet []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}
		var d types.Device
		if err := unmarshalDoc(doc, &d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad device doc", slog.String("deviceID", doc.Ref.ID), slog.String("microgridID", microgridID), slog.Any("err", err))
			return nil, err
		}
		if activeOnly && !d.IsActive {
			continue
		}
		fleet = append(fleet, d)
	}
	return fleet, nil
}

// SaveDevices writes the fleet in a single batch, keyed by device ID.
func (f *FirestoreRepository) SaveDevices(ctx context.Context, microgridID string, fleet []types.Device) error {
	coll, err := f.getCollection(microgridID, "devices")
	if err != nil {
		return err
	}
	bw := f.client.BulkWriter(ctx)
	for _, d := range fleet {
		data, err := marshalDoc(d)
		if err != nil {
			return err
		}
		if _, err := bw.Set(coll.Doc(d.ID), data); err != nil {
			return fmt.Errorf("failed to queue device %s: %w", d.ID, err)
		}
	}
	bw.End()
	return nil
}

// SaveSensorReading appends a battery telemetry reading. The document ID is
// the RFC3339 timestamp for lexicographic ordering and range queries.
func (f *FirestoreRepository) SaveSensorReading(ctx context.Context, reading types.SensorReading) error {
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("sensor reading missing timestamp")
	}
	coll, err := f.getCollection(reading.MicrogridID, "sensor_readings")
	if err != nil {
		return err
	}
	data, err := marshalDoc(reading)
	if err != nil {
		return err
	}
	data["timestamp"] = reading.Timestamp
	docID := reading.Timestamp.UTC().Format(time.RFC3339)
	if _, err := coll.Doc(docID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to save sensor reading: %w", err)
	}
	return nil
}

// LoadLatestSOC retrieves the most recent battery telemetry reading.
func (f *FirestoreRepository) LoadLatestSOC(ctx context.Context, microgridID string) (types.SensorReading, error) {
	coll, err := f.getCollection(microgridID, "sensor_readings")
	if err != nil {
		return types.SensorReading{}, err
	}
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.SensorReading{}, fmt.Errorf("%w: %s", ErrReadingNotFound, microgridID)
	}
	if err != nil {
		return types.SensorReading{}, fmt.Errorf("failed to get latest sensor reading: %w", err)
	}
	var r types.SensorReading
	if err := unmarshalDoc(doc, &r); err != nil {
		return types.SensorReading{}, err
	}
	return r, nil
}

// SaveSchedule stores the schedule under its date; a re-run for the same day
// supersedes the earlier document.
func (f *FirestoreRepository) SaveSchedule(ctx context.Context, schedule types.Schedule) error {
	if schedule.Date == "" {
		return fmt.Errorf("schedule missing date")
	}
	coll, err := f.getCollection(schedule.MicrogridID, "schedules")
	if err != nil {
		return err
	}
	data, err := marshalDoc(schedule)
	if err != nil {
		return err
	}
	data["created_at"] = schedule.CreatedAt
	if _, err := coll.Doc(schedule.Date).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// LatestSchedule retrieves the most recently created schedule.
func (f *FirestoreRepository) LatestSchedule(ctx context.Context, microgridID string) (types.Schedule, error) {
	coll, err := f.getCollection(microgridID, "schedules")
	if err != nil {
		return types.Schedule{}, err
	}
	iter := coll.
		OrderBy("created_at", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.Schedule{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, microgridID)
	}
	if err != nil {
		return types.Schedule{}, fmt.Errorf("failed to get latest schedule: %w", err)
	}
	var s types.Schedule
	if err := unmarshalDoc(doc, &s); err != nil {
		return types.Schedule{}, err
	}
	return s, nil
}

// AppendAlerts writes alerts keyed by their deterministic IDs, so re-running
// the engine over identical inputs overwrites rather than duplicates. Alerts
// live in a top-level collection so acknowledgement can look them up by ID
// alone.
func (f *FirestoreRepository) AppendAlerts(ctx context.Context, alerts []types.Alert) error {
	coll := f.client.Collection("alerts")
	for _, a := range alerts {
		data, err := marshalDoc(a)
		if err != nil {
			return err
		}
		data["microgrid_id"] = a.MicrogridID
		data["created_at"] = a.CreatedAt
		if _, err := coll.Doc(a.ID).Set(ctx, data); err != nil {
			return fmt.Errorf("failed to save alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// AlertsSince retrieves alerts created at or after since, oldest first.
func (f *FirestoreRepository) AlertsSince(ctx context.Context, microgridID string, since time.Time) ([]types.Alert, error) {
	iter := f.client.Collection("alerts").
		Where("microgrid_id", "==", microgridID).
		Where("created_at", ">=", since).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var alerts []types.Alert
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating alerts: %w", err)
		}
		var a types.Alert
		if err := unmarshalDoc(doc, &a); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad alert doc", slog.String("alertID", doc.Ref.ID), slog.String("microgridID", microgridID), slog.Any("err", err))
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// AcknowledgeAlert stamps an alert with the acknowledgement time.
func (f *FirestoreRepository) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	ref := f.client.Collection("alerts").Doc(alertID)
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
		}
		return fmt.Errorf("failed to look up alert %s: %w", alertID, err)
	}

	var a types.Alert
	if err := unmarshalDoc(doc, &a); err != nil {
		return err
	}
	if err := validateAckTime(alertID, a.CreatedAt, at); err != nil {
		return err
	}
	a.AcknowledgedAt = &at
	data, err := marshalDoc(a)
	if err != nil {
		return err
	}
	data["microgrid_id"] = a.MicrogridID
	data["created_at"] = a.CreatedAt
	if _, err := ref.Set(ctx, data); err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", alertID, err)
	}
	return nil
}

// WithLock serializes schedule runs per microgrid within the process.
func (f *FirestoreRepository) WithLock(ctx context.Context, microgridID string, fn func(ctx context.Context) error) error {
	f.locksMu.Lock()
	mu, ok := f.locks[microgridID]
	if !ok {
		mu = &sync.Mutex{}
		f.locks[microgridID] = mu
	}
	f.locksMu.Unlock()

	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(firestoreLockWait):
		// the goroutine still holds the pending Lock; pair it with an
		// Unlock once it lands so the mutex is not leaked
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return types.Errorf(types.ErrPersistenceConflict, "microgrid %s is locked by another run", microgridID)
	case <-ctx.Done():
		go func() {
			<-acquired
			mu.Unlock()
		}()
		return ctx.Err()
	}
	defer mu.Unlock()
	return fn(ctx)
}
