package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/suryadrishti/suryadrishti/pkg/common"
	"github.com/suryadrishti/suryadrishti/pkg/log"
	"github.com/suryadrishti/suryadrishti/pkg/types"
)

// Source produces raw irradiance forecasts for a microgrid. The engine is
// agnostic to the implementation; tests use StaticSource.
type Source interface {
	Fetch(ctx context.Context, microgridID string, loc types.Location, horizonHours int) (types.RawForecast, error)
}

// Configured sets up the forecast source from flags: an HTTP client against
// the upstream forecast API, wrapped in a stale-tolerant cache.
func Configured() *CachingSource {
	baseURL := lflag.String("forecast-url", "", "Base URL of the upstream forecast API")
	timeout := lflag.Duration("forecast-timeout", 45*time.Second, "Deadline for upstream forecast fetches")
	staleMax := lflag.Duration("forecast-stale-max", 6*time.Hour, "Maximum age of a cached forecast used as stale fallback")

	c := &CachingSource{}
	lflag.Do(func() {
		c.src = &httpSource{
			baseURL: *baseURL,
			client:  common.HTTPClient(*timeout),
		}
		c.maxAge = *staleMax
	})
	return c
}

type httpSource struct {
	baseURL string
	client  *http.Client
}

func (s *httpSource) Fetch(ctx context.Context, microgridID string, loc types.Location, horizonHours int) (types.RawForecast, error) {
	if s.baseURL == "" {
		return types.RawForecast{}, types.Errorf(types.ErrUpstreamUnavailable, "no forecast-url configured")
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return types.RawForecast{}, fmt.Errorf("invalid forecast-url: %w", err)
	}
	q := u.Query()
	q.Set("microgrid_id", microgridID)
	q.Set("lat", strconv.FormatFloat(loc.LatitudeDeg, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(loc.LongitudeDeg, 'f', -1, 64))
	q.Set("horizon_hours", strconv.Itoa(horizonHours))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return types.RawForecast{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return types.RawForecast{}, types.WrapError(types.ErrUpstreamUnavailable, err, "forecast fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.RawForecast{}, types.Errorf(types.ErrUpstreamUnavailable,
			"forecast API returned %d: %s", resp.StatusCode, string(body))
	}

	var raw types.RawForecast
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return types.RawForecast{}, types.WrapError(types.ErrMalformedForecast, err, "failed to decode forecast payload")
	}
	return raw, nil
}

// StaticSource returns a fixed forecast. Used by tests and the seed tool.
type StaticSource struct {
	Forecast types.RawForecast
	Err      error
}

func (s *StaticSource) Fetch(context.Context, string, types.Location, int) (types.RawForecast, error) {
	if s.Err != nil {
		return types.RawForecast{}, s.Err
	}
	return s.Forecast, nil
}

// CachingSource wraps a Source and retains the last successful fetch per
// microgrid so a request may run on stale data when the upstream is down.
type CachingSource struct {
	src    Source
	maxAge time.Duration

	mu    sync.Mutex
	cache map[string]cachedForecast
}

type cachedForecast struct {
	raw       types.RawForecast
	fetchedAt time.Time
}

// NewCachingSource wraps src for tests; production wiring uses Configured.
func NewCachingSource(src Source, maxAge time.Duration) *CachingSource {
	return &CachingSource{src: src, maxAge: maxAge}
}

// Fetch satisfies Source and never falls back to stale data.
func (c *CachingSource) Fetch(ctx context.Context, microgridID string, loc types.Location, horizonHours int) (types.RawForecast, error) {
	raw, _, err := c.FetchAllowStale(ctx, microgridID, loc, horizonHours, false)
	return raw, err
}

// FetchAllowStale fetches from the upstream, caching successes. When the
// upstream fails and allowStale is set, the last cached forecast within the
// age limit is returned with stale=true.
func (c *CachingSource) FetchAllowStale(ctx context.Context, microgridID string, loc types.Location, horizonHours int, allowStale bool) (types.RawForecast, bool, error) {
	raw, err := c.src.Fetch(ctx, microgridID, loc, horizonHours)
	if err == nil {
		c.mu.Lock()
		if c.cache == nil {
			c.cache = make(map[string]cachedForecast)
		}
		c.cache[microgridID] = cachedForecast{raw: raw, fetchedAt: time.Now()}
		c.mu.Unlock()
		return raw, false, nil
	}
	if !allowStale {
		return types.RawForecast{}, false, err
	}

	c.mu.Lock()
	cached, ok := c.cache[microgridID]
	c.mu.Unlock()
	if !ok || time.Since(cached.fetchedAt) > c.maxAge {
		return types.RawForecast{}, false, err
	}
	log.Ctx(ctx).WarnContext(ctx, "upstream forecast unavailable, using cached forecast",
		slog.String("microgridID", microgridID),
		slog.Time("fetchedAt", cached.fetchedAt),
		slog.Any("error", err),
	)
	return cached.raw, true, nil
}
