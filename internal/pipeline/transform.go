// Package pipeline runs one extract, transform, load cycle against Open-Meteo
// and the weather_data store.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/weather-etl/internal/models"
)

var (
	ErrMissingField   = errors.New("missing field")
	ErrMalformedField = errors.New("malformed field")
)

// timeLayouts are tried in order. Open-Meteo reports minute precision in the
// requested timezone without an offset.
var timeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Transform maps a forecast body into an Observation. Coordinates come from
// the body, not the request, so upstream grid snapping is preserved.
// A key that is absent fails the transform; a key that is null maps to nil.
func Transform(payload models.ForecastPayload) (models.Observation, error) {
	var obs models.Observation

	current, err := object(payload, "current")
	if err != nil {
		return obs, err
	}

	ts, err := timestampField(current, "time")
	if err != nil {
		return obs, err
	}
	obs.Timestamp = ts

	floats := []struct {
		src  map[string]json.RawMessage
		key  string
		dest **float64
	}{
		{payload, "latitude", &obs.Latitude},
		{payload, "longitude", &obs.Longitude},
		{current, "temperature_2m", &obs.TemperatureC},
		{current, "apparent_temperature", &obs.ApparentTempC},
		{current, "wind_speed_10m", &obs.WindSpeedKmh},
		{current, "pressure_msl", &obs.PressureHpa},
		{current, "precipitation", &obs.PrecipitationMm},
	}
	for _, f := range floats {
		v, err := floatField(f.src, f.key)
		if err != nil {
			return models.Observation{}, err
		}
		*f.dest = v
	}

	ints := []struct {
		key  string
		dest **int
	}{
		{"relative_humidity_2m", &obs.Humidity},
		{"weather_code", &obs.WeatherCode},
		{"cloud_cover", &obs.CloudCover},
	}
	for _, f := range ints {
		v, err := intField(current, f.key)
		if err != nil {
			return models.Observation{}, err
		}
		*f.dest = v
	}

	return obs, nil
}

func object(src map[string]json.RawMessage, key string) (map[string]json.RawMessage, error) {
	raw, ok := src[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedField, key, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s is null", ErrMalformedField, key)
	}
	return obj, nil
}

func floatField(src map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := src[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedField, key, err)
	}
	return v, nil
}

// intField accepts integral JSON numbers and rounds fractional ones, matching
// the store's float-to-integer assignment cast.
func intField(src map[string]json.RawMessage, key string) (*int, error) {
	f, err := floatField(src, key)
	if err != nil || f == nil {
		return nil, err
	}
	if math.IsNaN(*f) || math.IsInf(*f, 0) || math.Abs(*f) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %s: %v out of range", ErrMalformedField, key, *f)
	}
	v := int(math.Round(*f))
	return &v, nil
}

// timestampField parses the wall-clock time as UTC so the stored value keeps
// the upstream local time unchanged.
func timestampField(src map[string]json.RawMessage, key string) (time.Time, error) {
	raw, ok := src[key]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: current.%s", ErrMissingField, key)
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return time.Time{}, fmt.Errorf("%w: current.%s: want time string, got %s", ErrMalformedField, key, raw)
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, *s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: current.%s: unrecognised time %q", ErrMalformedField, key, *s)
}
