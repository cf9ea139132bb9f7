package types

import (
	"time"
)

// ForecastPoint is one hour of irradiance + power forecast on the scheduling
// grid. Timestamps are UTC instants; display conversion to IST happens in the
// solar package.
type ForecastPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	GHIWm2            float64   `json:"ghi_w_m2"`
	GHIClearSkyWm2    float64   `json:"ghi_clear_sky_w_m2"`
	SolarElevationDeg float64   `json:"solar_elevation_deg"`
	IsDaytime         bool      `json:"is_daytime"`
	PowerKW           float64   `json:"power_kw"`
	P10KW             float64   `json:"p10_kw"`
	P50KW             float64   `json:"p50_kw"`
	P90KW             float64   `json:"p90_kw"`
	StdKW             float64   `json:"std_kw"`
	Synthesized       bool      `json:"synthesized,omitempty"`
}

// ForecastSeries is an ordered, uniformly spaced (1 hour) sequence of points
// covering the scheduling horizon.
type ForecastSeries struct {
	Points       []ForecastPoint `json:"points"`
	HorizonHours int             `json:"horizon_hours"`
	Stale        bool            `json:"stale,omitempty"`
}

// Validate checks the structural invariants of an adapted series: length
// matches horizon, timestamps are monotonic at 1-hour spacing, quantiles are
// ordered, and night points carry no power.
func (s ForecastSeries) Validate() error {
	if s.HorizonHours < 1 || s.HorizonHours > 48 {
		return Errorf(ErrMalformedForecast, "horizon_hours %d out of range [1,48]", s.HorizonHours)
	}
	if len(s.Points) != s.HorizonHours {
		return Errorf(ErrMalformedForecast, "series has %d points for horizon %d", len(s.Points), s.HorizonHours)
	}
	for i, p := range s.Points {
		if p.Timestamp.IsZero() {
			return Errorf(ErrMalformedForecast, "point %d has no timestamp", i)
		}
		if i > 0 {
			if got := p.Timestamp.Sub(s.Points[i-1].Timestamp); got != time.Hour {
				return Errorf(ErrMalformedForecast, "point %d spacing %s, want 1h", i, got)
			}
		}
		if p.GHIWm2 < 0 || p.PowerKW < 0 || p.P10KW < 0 || p.P50KW < 0 || p.P90KW < 0 || p.StdKW < 0 {
			return Errorf(ErrMalformedForecast, "point %d has negative magnitude", i)
		}
		if p.P10KW > p.P50KW || p.P50KW > p.P90KW {
			return Errorf(ErrMalformedForecast, "point %d quantiles out of order (%g, %g, %g)", i, p.P10KW, p.P50KW, p.P90KW)
		}
		if !p.IsDaytime && (p.GHIWm2 != 0 || p.PowerKW != 0) {
			return Errorf(ErrMalformedForecast, "point %d carries power at night", i)
		}
	}
	return nil
}

// RawForecastPoint is an un-normalized point as delivered by the upstream
// forecast producer. The adapter converts these onto the scheduling grid.
type RawForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	GHIWm2    float64   `json:"ghi_w_m2"`
	PowerKW   float64   `json:"power_kw,omitempty"`
	P10KW     float64   `json:"p10_kw,omitempty"`
	P50KW     float64   `json:"p50_kw,omitempty"`
	P90KW     float64   `json:"p90_kw,omitempty"`
	StdKW     float64   `json:"std_kw,omitempty"`
}

// RawForecast is the upstream payload for one microgrid.
type RawForecast struct {
	MicrogridID string             `json:"microgrid_id"`
	IssuedAt    time.Time          `json:"issued_at"`
	Points      []RawForecastPoint `json:"points"`
}
