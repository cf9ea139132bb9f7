package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/suryadrishti/suryadrishti/pkg/engine"
	"github.com/suryadrishti/suryadrishti/pkg/forecast"
	"github.com/suryadrishti/suryadrishti/pkg/solar"
	"github.com/suryadrishti/suryadrishti/pkg/storage"
	"github.com/suryadrishti/suryadrishti/pkg/storage/storagemock"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// serverNow is 00:00 IST on 2025-06-15, on an exact hour boundary so the
// schedule grid starts right here.
var serverNow = time.Date(2025, 6, 14, 18, 30, 0, 0, time.UTC)

func serverConfig() types.SystemConfiguration {
	return types.SystemConfiguration{
		MicrogridID:           "mg-1",
		Location:              types.Location{LatitudeDeg: 28.4595, LongitudeDeg: 77.0266},
		CapacityKW:            50,
		BatteryCapacityKWH:    50,
		BatteryMaxChargeKW:    20,
		BatteryMaxDischargeKW: 20,
		BatteryMinSOC:         0.2,
		BatteryMaxSOC:         0.95,
		BatteryEfficiency:     0.95,
		GridPeakRatePerKWH:    10,
		GridOffPeakRatePerKWH: 5,
		GridPeakHours:         types.HourWindow{StartHour: 8, EndHour: 20},
		GridExportRatePerKWH:  4,
		GridExportEnabled:     true,

		GeneratorFuelCostPerLiter:       100,
		GeneratorFuelConsumptionLPerKWH: 0.3,
		GeneratorMinRuntimeMinutes:      60,
		GeneratorMaxPowerKW:             10,

		OptimizationMode: types.ModeCost,
	}
}

func serverFleet() []types.Device {
	return []types.Device{
		{ID: "purifier", Name: "water purifier", PowerKW: 1.0, Type: types.DeviceEssential, Priority: 1, IsActive: true},
		{ID: "coldstore", Name: "cold storage", PowerKW: 1.5, Type: types.DeviceEssential, Priority: 1, IsActive: true},
	}
}

func serverRawForecast() types.RawForecast {
	loc := serverConfig().Location
	raw := types.RawForecast{MicrogridID: "mg-1", IssuedAt: serverNow}
	for i := 0; i < 48; i++ {
		ts := serverNow.Add(time.Duration(i) * time.Hour)
		raw.Points = append(raw.Points, types.RawForecastPoint{
			Timestamp: ts,
			GHIWm2:    solar.ClearSkyGHI(loc, ts) * 0.7,
		})
	}
	return raw
}

func newTestServer(repo storage.Repository, src forecast.Source) *Server {
	return &Server{
		repo:         repo,
		forecasts:    forecast.NewCachingSource(src, time.Hour),
		engine:       engine.New(),
		serverName:   "suryadrishti",
		horizonHours: 24,
		allowStale:   true,
		now:          func() time.Time { return serverNow },
	}
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.setupHandler().ServeHTTP(w, r)
	return w
}

func TestHandleRunSchedule(t *testing.T) {
	t.Run("full cycle", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("WithLock", mock.Anything, "mg-1").Return(nil)
		repo.On("LoadConfig", mock.Anything, "mg-1").Return(serverConfig(), nil)
		repo.On("LoadDevices", mock.Anything, "mg-1", true).Return(serverFleet(), nil)
		repo.On("LoadLatestSOC", mock.Anything, "mg-1").Return(types.SensorReading{
			MicrogridID: "mg-1", Timestamp: serverNow, SOC: 0.5,
		}, nil)
		repo.On("SaveSchedule", mock.Anything, mock.MatchedBy(func(s types.Schedule) bool {
			return s.MicrogridID == "mg-1" && len(s.Buckets) == 24 && s.Date == "2025-06-15"
		})).Return(nil)
		repo.On("AppendAlerts", mock.Anything, mock.Anything).Return(nil)

		s := newTestServer(repo, &forecast.StaticSource{Forecast: serverRawForecast()})
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "suryadrishti", w.Header().Get("Server"))

		var resp RunScheduleResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Len(t, resp.Schedule.Buckets, 24)
		assert.Equal(t, "2025-06-15", resp.Schedule.Date)
		assert.Equal(t, serverNow, resp.Schedule.CreatedAt)
		assert.False(t, resp.Schedule.StaleForecast)
		assert.Equal(t, types.VerdictRealistic, resp.Validation.Verdict)
		repo.AssertExpectations(t)
	})

	t.Run("missing sensor reading falls back to midpoint", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("WithLock", mock.Anything, "mg-1").Return(nil)
		repo.On("LoadConfig", mock.Anything, "mg-1").Return(serverConfig(), nil)
		repo.On("LoadDevices", mock.Anything, "mg-1", true).Return(serverFleet(), nil)
		repo.On("LoadLatestSOC", mock.Anything, "mg-1").Return(types.SensorReading{}, storage.ErrReadingNotFound)
		repo.On("SaveSchedule", mock.Anything, mock.Anything).Return(nil)
		repo.On("AppendAlerts", mock.Anything, mock.Anything).Return(nil)

		s := newTestServer(repo, &forecast.StaticSource{Forecast: serverRawForecast()})
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("custom horizon", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("WithLock", mock.Anything, "mg-1").Return(nil)
		repo.On("LoadConfig", mock.Anything, "mg-1").Return(serverConfig(), nil)
		repo.On("LoadDevices", mock.Anything, "mg-1", true).Return(serverFleet(), nil)
		repo.On("LoadLatestSOC", mock.Anything, "mg-1").Return(types.SensorReading{SOC: 0.5}, nil)
		repo.On("SaveSchedule", mock.Anything, mock.MatchedBy(func(s types.Schedule) bool {
			return len(s.Buckets) == 12
		})).Return(nil)
		repo.On("AppendAlerts", mock.Anything, mock.Anything).Return(nil)

		s := newTestServer(repo, &forecast.StaticSource{Forecast: serverRawForecast()})
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", `{"horizon_hours":12}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("horizon out of bounds", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		s := newTestServer(repo, &forecast.StaticSource{Forecast: serverRawForecast()})
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", `{"horizon_hours":100}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		repo.AssertNotCalled(t, "WithLock", mock.Anything, mock.Anything)
	})

	t.Run("invalid body", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		s := newTestServer(repo, &forecast.StaticSource{Forecast: serverRawForecast()})
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "{")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("config not found", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("WithLock", mock.Anything, "mg-1").Return(nil)
		repo.On("LoadConfig", mock.Anything, "mg-1").Return(types.SystemConfiguration{}, storage.ErrConfigNotFound)

		s := newTestServer(repo, &forecast.StaticSource{Forecast: serverRawForecast()})
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("upstream down with no cache", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("WithLock", mock.Anything, "mg-1").Return(nil)
		repo.On("LoadConfig", mock.Anything, "mg-1").Return(serverConfig(), nil)
		repo.On("LoadDevices", mock.Anything, "mg-1", true).Return(serverFleet(), nil)
		repo.On("LoadLatestSOC", mock.Anything, "mg-1").Return(types.SensorReading{SOC: 0.5}, nil)

		src := &forecast.StaticSource{Err: types.Errorf(types.ErrUpstreamUnavailable, "forecast api down")}
		s := newTestServer(repo, src)
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("upstream down serves cached forecast as stale", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("WithLock", mock.Anything, "mg-1").Return(nil)
		repo.On("LoadConfig", mock.Anything, "mg-1").Return(serverConfig(), nil)
		repo.On("LoadDevices", mock.Anything, "mg-1", true).Return(serverFleet(), nil)
		repo.On("LoadLatestSOC", mock.Anything, "mg-1").Return(types.SensorReading{SOC: 0.5}, nil)
		repo.On("SaveSchedule", mock.Anything, mock.Anything).Return(nil)
		repo.On("AppendAlerts", mock.Anything, mock.Anything).Return(nil)

		src := &forecast.StaticSource{Forecast: serverRawForecast()}
		s := newTestServer(repo, src)
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		src.Err = types.Errorf(types.ErrUpstreamUnavailable, "forecast api down")
		w = doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp RunScheduleResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp.Schedule.StaleForecast)
	})

	t.Run("lock conflict", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("WithLock", mock.Anything, "mg-1").
			Return(types.Errorf(types.ErrPersistenceConflict, "mg-1 is locked"))

		s := newTestServer(repo, &forecast.StaticSource{Forecast: serverRawForecast()})
		w := doRequest(t, s, http.MethodPost, "/api/microgrids/mg-1/schedule/run", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandleLatestSchedule(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("LatestSchedule", mock.Anything, "mg-1").Return(types.Schedule{
			MicrogridID: "mg-1", Date: "2025-06-15",
		}, nil)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-1/schedule/latest", "")
		require.Equal(t, http.StatusOK, w.Code)

		var got types.Schedule
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, "2025-06-15", got.Date)
	})

	t.Run("not found", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("LatestSchedule", mock.Anything, "mg-1").Return(types.Schedule{}, storage.ErrScheduleNotFound)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-1/schedule/latest", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleAlerts(t *testing.T) {
	t.Run("defaults to the last 24 hours", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("AlertsSince", mock.Anything, "mg-1", serverNow.Add(-24*time.Hour)).
			Return([]types.Alert{{ID: "a-1", MicrogridID: "mg-1"}}, nil)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-1/alerts", "")
		require.Equal(t, http.StatusOK, w.Code)

		var got []types.Alert
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "a-1", got[0].ID)
		repo.AssertExpectations(t)
	})

	t.Run("explicit since", func(t *testing.T) {
		since := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
		repo := &storagemock.MockRepository{}
		repo.On("AlertsSince", mock.Anything, "mg-1", since).Return(nil, nil)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-1/alerts?since=2025-06-14T00:00:00Z", "")
		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("bad since", func(t *testing.T) {
		s := newTestServer(&storagemock.MockRepository{}, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-1/alerts?since=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("acknowledge", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("AcknowledgeAlert", mock.Anything, "a-1", serverNow).Return(nil)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodPost, "/api/alerts/a-1/acknowledge", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"acknowledged":true`)
	})

	t.Run("acknowledge unknown alert", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("AcknowledgeAlert", mock.Anything, "nope", serverNow).Return(storage.ErrAlertNotFound)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodPost, "/api/alerts/nope/acknowledge", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleConfig(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("LoadConfig", mock.Anything, "mg-1").Return(serverConfig(), nil)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-1/config", "")
		require.Equal(t, http.StatusOK, w.Code)

		var got types.SystemConfiguration
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, 50.0, got.CapacityKW)
	})

	t.Run("get not found", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("LoadConfig", mock.Anything, "mg-x").Return(types.SystemConfiguration{}, storage.ErrConfigNotFound)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-x/config", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("put overrides the body's microgrid id", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("SaveConfig", mock.Anything, mock.MatchedBy(func(cfg types.SystemConfiguration) bool {
			return cfg.MicrogridID == "mg-1"
		})).Return(nil)
		s := newTestServer(repo, &forecast.StaticSource{})

		cfg := serverConfig()
		cfg.MicrogridID = "spoofed"
		body, err := json.Marshal(cfg)
		require.NoError(t, err)
		w := doRequest(t, s, http.MethodPut, "/api/microgrids/mg-1/config", string(body))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		repo.AssertExpectations(t)
	})

	t.Run("put invalid config", func(t *testing.T) {
		s := newTestServer(&storagemock.MockRepository{}, &forecast.StaticSource{})
		cfg := serverConfig()
		cfg.BatteryMinSOC = 0.9
		cfg.BatteryMaxSOC = 0.2
		body, err := json.Marshal(cfg)
		require.NoError(t, err)
		w := doRequest(t, s, http.MethodPut, "/api/microgrids/mg-1/config", string(body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleDevices(t *testing.T) {
	t.Run("get active only", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("LoadDevices", mock.Anything, "mg-1", true).Return(serverFleet(), nil)
		s := newTestServer(repo, &forecast.StaticSource{})
		w := doRequest(t, s, http.MethodGet, "/api/microgrids/mg-1/devices?active=true", "")
		require.Equal(t, http.StatusOK, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("put valid fleet", func(t *testing.T) {
		repo := &storagemock.MockRepository{}
		repo.On("SaveDevices", mock.Anything, "mg-1", mock.Anything).Return(nil)
		s := newTestServer(repo, &forecast.StaticSource{})
		body, err := json.Marshal(serverFleet())
		require.NoError(t, err)
		w := doRequest(t, s, http.MethodPut, "/api/microgrids/mg-1/devices", string(body))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("put duplicate ids", func(t *testing.T) {
		s := newTestServer(&storagemock.MockRepository{}, &forecast.StaticSource{})
		fleet := serverFleet()
		fleet[1].ID = fleet[0].ID
		body, err := json.Marshal(fleet)
		require.NoError(t, err)
		w := doRequest(t, s, http.MethodPut, "/api/microgrids/mg-1/devices", string(body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&storagemock.MockRepository{}, &forecast.StaticSource{})
	w := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "suryadrishti", w.Header().Get("Server"))
}
