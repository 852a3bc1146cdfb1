package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-etl/internal/models"
	"github.com/kjstillabower/weather-etl/internal/observability"
)

// CurrentFields is the fixed list of current-condition variables requested from Open-Meteo.
var CurrentFields = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"apparent_temperature",
	"precipitation",
	"rain",
	"weather_code",
	"cloud_cover",
	"pressure_msl",
	"wind_speed_10m",
}

type WeatherClient interface {
	GetCurrent(ctx context.Context) (models.ForecastPayload, error)
}

var (
	ErrBadRequest      = errors.New("upstream rejected request")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// OpenMeteoClient performs the extract step: one GET per call, no retries.
type OpenMeteoClient struct {
	apiURL    string
	latitude  string
	longitude string
	timezone  string
	timeout   time.Duration
	client    *http.Client
}

func NewOpenMeteoClient(apiURL, latitude, longitude, timezone string, timeout time.Duration) (*OpenMeteoClient, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("weather API URL is required")
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid weather API URL: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("weather API timeout must be positive, got %v", timeout)
	}

	return &OpenMeteoClient{
		apiURL:    apiURL,
		latitude:  latitude,
		longitude: longitude,
		timezone:  timezone,
		timeout:   timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// openMeteoError is the body Open-Meteo returns with a 4xx.
type openMeteoError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// GetCurrent fetches the current conditions and decodes the top-level JSON object.
// Any non-2xx status or transport failure is returned as an error.
func (c *OpenMeteoClient) GetCurrent(ctx context.Context) (models.ForecastPayload, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if err := c.handleErrorResponse(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var payload models.ForecastPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("parse response: body is not a JSON object")
	}
	return payload, nil
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	// Unset coordinates are left out of the query rather than sent empty.
	if c.latitude != "" {
		params.Set("latitude", c.latitude)
	}
	if c.longitude != "" {
		params.Set("longitude", c.longitude)
	}
	params.Set("current", strings.Join(CurrentFields, ","))
	if c.timezone != "" {
		params.Set("timezone", c.timezone)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenMeteoClient) handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, statusCode)
	case statusCode >= 400 && statusCode < 500:
		var apiErr openMeteoError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("%w: HTTP %d: %s", ErrBadRequest, statusCode, apiErr.Reason)
		}
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, statusCode)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
