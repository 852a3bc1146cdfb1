package models

import (
	"encoding/json"
	"time"
)

// Observation is one row of the weather_data table. Timestamp is the primary key;
// every other measured field is nullable because upstream may report null.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	TemperatureC    *float64 `json:"temperatureC"`
	ApparentTempC   *float64 `json:"apparentTempC"`
	Humidity        *int     `json:"humidity"`
	WeatherCode     *int     `json:"weatherCode"`
	CloudCover      *int     `json:"cloudCover"`
	WindSpeedKmh    *float64 `json:"windSpeedKmh"`
	PressureHpa     *float64 `json:"pressureHpa"`
	PrecipitationMm *float64 `json:"precipitationMm"`

	// CreatedAt is assigned by the store on insert; zero until read back.
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ForecastPayload is the decoded top level of an Open-Meteo forecast body.
// Values stay raw so an absent key can be told apart from an explicit null.
type ForecastPayload map[string]json.RawMessage
