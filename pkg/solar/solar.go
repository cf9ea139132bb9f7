// Package solar centralizes time and solar-geometry calculations for the
// scheduler. All civil-time decisions are anchored to IST (UTC+05:30, no
// DST); naive timestamps never enter the engine's data model.
package solar

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// IST is the fixed India Standard Time offset. India does not observe DST so
// a fixed zone avoids tzdata lookups in the hot path.
var IST = time.FixedZone("IST", 5*3600+30*60)

const (
	// DaytimeStartHour and DaytimeEndHour bound the local solar-time window
	// treated as daytime. The interval is closed-open: 19:00 is the first
	// nighttime bucket.
	DaytimeStartHour = 6
	DaytimeEndHour   = 19
)

// LocalTimeIST converts a UTC instant to IST civil time.
func LocalTimeIST(t time.Time) time.Time {
	return t.In(IST)
}

// ElevationDeg returns the solar elevation angle in degrees for a location
// and instant.
func ElevationDeg(loc types.Location, t time.Time) float64 {
	pos := suncalc.GetPosition(t, loc.LatitudeDeg, loc.LongitudeDeg)
	return pos.Altitude * 180 / math.Pi
}

// IsDaytime reports whether the instant counts as daytime for scheduling:
// the sun is at or above the horizon and the IST hour is within
// [DaytimeStartHour, DaytimeEndHour).
func IsDaytime(loc types.Location, t time.Time) bool {
	h := LocalTimeIST(t).Hour()
	if h < DaytimeStartHour || h >= DaytimeEndHour {
		return false
	}
	return ElevationDeg(loc, t) >= 0
}

// ClearSkyGHI returns a clear-sky global horizontal irradiance reference in
// W/m2 using the Haurwitz model. The engine only relies on it being smooth,
// nonnegative and monotonic with elevation.
func ClearSkyGHI(loc types.Location, t time.Time) float64 {
	return ClearSkyGHIForElevation(ElevationDeg(loc, t))
}

// ClearSkyGHIForElevation evaluates the Haurwitz clear-sky model for a given
// elevation angle, clipped at 0 when the sun is at or below the horizon.
func ClearSkyGHIForElevation(elevationDeg float64) float64 {
	if elevationDeg <= 0 {
		return 0
	}
	sinEl := math.Sin(elevationDeg * math.Pi / 180)
	return 1098 * sinEl * math.Exp(-0.057/sinEl)
}

// BucketIndex returns the hour index of the instant within its IST day.
func BucketIndex(t time.Time) int {
	return LocalTimeIST(t).Hour()
}

// DayStartIST returns IST midnight of the day containing the instant, as a
// UTC-comparable time.
func DayStartIST(t time.Time) time.Time {
	lt := LocalTimeIST(t)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, IST)
}

// NextHourBoundary returns the next whole-hour boundary in IST at or after
// the instant.
func NextHourBoundary(t time.Time) time.Time {
	lt := LocalTimeIST(t)
	truncated := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, IST)
	if truncated.Before(lt) {
		return truncated.Add(time.Hour)
	}
	return truncated
}

// DateIST formats the instant's IST calendar date as YYYY-MM-DD.
func DateIST(t time.Time) string {
	return LocalTimeIST(t).Format("2006-01-02")
}
