package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultCacheTTL   = 30 * time.Minute
	maxResponseSize   = 1 << 20

	// metersPerSecondToKmh converts the API's wind speed to km/h.
	metersPerSecondToKmh = 3.6
)

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is an OpenWeatherMap daily forecast client.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	lat, lon   float64
	maxRetries int
	cacheTTL   time.Duration
	logger     Logger

	// initialInterval is the first retry delay.
	initialInterval time.Duration
	now             func() time.Time

	mu       sync.Mutex
	cached   []plant.DayForecast
	cachedAt time.Time
}

// New creates a forecast client for the given location.
func New(cfg config.WeatherConfig, loc config.LocationConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}
	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		baseURL:         cfg.BaseURL,
		apiKey:          cfg.APIKey,
		lat:             loc.Latitude,
		lon:             loc.Longitude,
		maxRetries:      retries,
		cacheTTL:        defaultCacheTTL,
		logger:          logger,
		initialInterval: backoff.DefaultInitialInterval,
		now:             time.Now,
	}
}

// Forecast returns up to days daily forecasts starting today. The API
// covers eight days; callers asking for more get what is available.
func (c *Client) Forecast(ctx context.Context, days int) ([]plant.DayForecast, error) {
	if days <= 0 {
		return []plant.DayForecast{}, nil
	}

	all, err := c.daily(ctx)
	if err != nil {
		return nil, err
	}
	if days > len(all) {
		days = len(all)
	}
	out := make([]plant.DayForecast, days)
	copy(out, all)
	return out, nil
}

func (c *Client) daily(ctx context.Context) ([]plant.DayForecast, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.cacheTTL {
		cached := c.cached
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx) //nolint:gosec // maxRetries >= 0

	attempt := 0
	days, err := backoff.RetryWithData(func() ([]plant.DayForecast, error) {
		attempt++
		d, err := c.fetch(ctx)
		if err != nil {
			c.logger.Debug("forecast request failed", "attempt", attempt, "error", err)
		}
		return d, err
	}, retry)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = days
	c.cachedAt = c.now()
	c.mu.Unlock()
	return days, nil
}

// fetch performs one request. Errors that retrying cannot fix are wrapped
// with backoff.Permanent.
func (c *Client) fetch(ctx context.Context) ([]plant.DayForecast, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.lon, 'f', -1, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	q.Set("exclude", "current,minutely,hourly,alerts")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: creating request: %w", ErrRequestFailed, err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode))
	}

	days, err := decode(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return days, nil
}

type oneCallResponse struct {
	Daily []struct {
		Dt   int64 `json:"dt"`
		Temp struct {
			Day float64 `json:"day"`
		} `json:"temp"`
		Humidity  float64 `json:"humidity"`
		Pop       float64 `json:"pop"`
		WindSpeed float64 `json:"wind_speed"`
	} `json:"daily"`
}

func decode(body []byte) ([]plant.DayForecast, error) {
	var r oneCallResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if len(r.Daily) == 0 {
		return nil, fmt.Errorf("%w: no daily forecast", ErrBadResponse)
	}

	out := make([]plant.DayForecast, len(r.Daily))
	for i, d := range r.Daily {
		out[i] = plant.DayForecast{
			Date:            time.Unix(d.Dt, 0).UTC(),
			Temperature:     d.Temp.Day,
			Humidity:        d.Humidity,
			RainProbability: d.Pop * 100,
			WindSpeed:       d.WindSpeed * metersPerSecondToKmh,
		}
	}
	return out, nil
}
