// Package openweather implements the upstream weather client against the
// OpenWeatherMap current-conditions API.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/floodloop/risk-stream/internal/domain"
	"github.com/floodloop/risk-stream/internal/observability"
	"github.com/sony/gobreaker"
)

// Client fetches current conditions for a coordinate. It applies a bounded
// per-call timeout and a circuit breaker, but never retries: retry policy
// belongs to the cache layer.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an OpenWeatherMap client. baseURL is the API root
// (without the /data/2.5/weather path), overridable for tests.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		// A rejection means the input was bad, not that the provider is
		// unhealthy; it must not open the circuit for other coordinates.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrUpstreamRejected)
		},
	})

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    cb,
		logger:     logger,
		metrics:    metrics,
	}
}

// Fetch retrieves a current-conditions observation for the coordinate.
// Transient failures (network, timeout, 5xx, 429, open breaker) map to
// domain.ErrUpstreamUnavailable; 4xx responses map to
// domain.ErrUpstreamRejected.
func (c *Client) Fetch(ctx context.Context, coord domain.Coordinate) (domain.Observation, error) {
	if c.apiKey == "" {
		return domain.Observation{}, fmt.Errorf("%w: api key not configured", domain.ErrUpstreamUnavailable)
	}

	params := url.Values{
		"lat":   {fmt.Sprintf("%f", coord.Lat)},
		"lon":   {fmt.Sprintf("%f", coord.Lon)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	fullURL := fmt.Sprintf("%s/data/2.5/weather?%s", c.baseURL, params.Encode())

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, fullURL)
	})
	c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: circuit breaker open", domain.ErrUpstreamUnavailable)
		}
		c.metrics.UpstreamRequests.WithLabelValues(outcomeLabel(err)).Inc()
		return domain.Observation{}, err
	}

	c.metrics.UpstreamRequests.WithLabelValues("success").Inc()
	return result.(domain.Observation), nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("upstream error response", "status", resp.StatusCode, "body", string(body))
		return domain.Observation{}, err
	}

	var payload currentConditions
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.Observation{}, fmt.Errorf("%w: decode response: %v", domain.ErrUpstreamUnavailable, err)
	}

	return payload.toObservation(), nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy. 429 is the
// provider's own rate limiting — transient, not a rejection of the input.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, status)
	case status >= 400:
		return fmt.Errorf("%w: status %d", domain.ErrUpstreamRejected, status)
	default:
		return fmt.Errorf("%w: unexpected status %d", domain.ErrUpstreamUnavailable, status)
	}
}

func outcomeLabel(err error) string {
	if errors.Is(err, domain.ErrUpstreamRejected) {
		return "rejected"
	}
	return "unavailable"
}

// OpenWeatherMap current-conditions response, reduced to the fields the risk
// model and subscribers consume.
type currentConditions struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
		Pressure  float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Rain struct {
		OneH   float64 `json:"1h"`
		ThreeH float64 `json:"3h"`
	} `json:"rain"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

func (p currentConditions) toObservation() domain.Observation {
	obs := domain.Observation{
		Temperature: p.Main.Temp,
		FeelsLike:   p.Main.FeelsLike,
		Humidity:    p.Main.Humidity,
		Pressure:    p.Main.Pressure,
		WindSpeed:   p.Wind.Speed,
		WindDeg:     p.Wind.Deg,
		Clouds:      p.Clouds.All,
		Rain1h:      p.Rain.OneH,
		Rain3h:      p.Rain.ThreeH,
		FetchedAt:   time.Now().UTC(),
	}
	if len(p.Weather) > 0 {
		obs.Description = p.Weather[0].Description
		obs.Icon = p.Weather[0].Icon
	}
	if p.Dt > 0 {
		obs.FetchedAt = time.Unix(p.Dt, 0).UTC()
	}
	return obs
}
