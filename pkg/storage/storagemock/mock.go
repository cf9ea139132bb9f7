package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/suryadrishti/suryadrishti/pkg/storage"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

type MockRepository struct {
	mock.Mock
}

var _ storage.Repository = (*MockRepository)(nil)

func (m *MockRepository) LoadConfig(ctx context.Context, microgridID string) (types.SystemConfiguration, error) {
	args := m.Called(ctx, microgridID)
	return args.Get(0).(types.SystemConfiguration), args.Error(1)
}

func (m *MockRepository) SaveConfig(ctx context.Context, cfg types.SystemConfiguration) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockRepository) LoadDevices(ctx context.Context, microgridID string, activeOnly bool) ([]types.Device, error) {
	args := m.Called(ctx, microgridID, activeOnly)
	if v := args.Get(0); v != nil {
		return v.([]types.Device), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) SaveDevices(ctx context.Context, microgridID string, fleet []types.Device) error {
	args := m.Called(ctx, microgridID, fleet)
	return args.Error(0)
}

func (m *MockRepository) LoadLatestSOC(ctx context.Context, microgridID string) (types.SensorReading, error) {
	args := m.Called(ctx, microgridID)
	return args.Get(0).(types.SensorReading), args.Error(1)
}

func (m *MockRepository) SaveSensorReading(ctx context.Context, reading types.SensorReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockRepository) SaveSchedule(ctx context.Context, schedule types.Schedule) error {
	args := m.Called(ctx, schedule)
	return args.Error(0)
}

func (m *MockRepository) LatestSchedule(ctx context.Context, microgridID string) (types.Schedule, error) {
	args := m.Called(ctx, microgridID)
	return args.Get(0).(types.Schedule), args.Error(1)
}

func (m *MockRepository) AppendAlerts(ctx context.Context, alerts []types.Alert) error {
	args := m.Called(ctx, alerts)
	return args.Error(0)
}

func (m *MockRepository) AlertsSince(ctx context.Context, microgridID string, since time.Time) ([]types.Alert, error) {
	args := m.Called(ctx, microgridID, since)
	if v := args.Get(0); v != nil {
		return v.([]types.Alert), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	args := m.Called(ctx, alertID, at)
	return args.Error(0)
}

// WithLock invokes fn inline so handler tests exercise the locked section.
func (m *MockRepository) WithLock(ctx context.Context, microgridID string, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, microgridID)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
