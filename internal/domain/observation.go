package domain

import (
	"fmt"
	"math"
	"time"
)

// keyPrecision is the coordinate rounding used for session and cache keys:
// 4 decimal places, roughly 11 m at the equator. Coordinates that differ only
// below this precision intentionally collapse into one session.
const keyPrecision = 1e4

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewCoordinate validates lat ∈ [-90,90] and lon ∈ [-180,180].
// Non-finite values are rejected.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return Coordinate{}, fmt.Errorf("%w: non-finite value", ErrInvalidCoordinate)
	}
	if lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("%w: latitude %g out of range [-90,90]", ErrInvalidCoordinate, lat)
	}
	if lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("%w: longitude %g out of range [-180,180]", ErrInvalidCoordinate, lon)
	}
	return Coordinate{Lat: lat, Lon: lon}, nil
}

// Rounded returns the coordinate snapped to the key precision.
func (c Coordinate) Rounded() Coordinate {
	return Coordinate{
		Lat: math.Round(c.Lat*keyPrecision) / keyPrecision,
		Lon: math.Round(c.Lon*keyPrecision) / keyPrecision,
	}
}

// Key returns the canonical session/cache key for the coordinate.
func (c Coordinate) Key() string {
	r := c.Rounded()
	return fmt.Sprintf("%.4f,%.4f", r.Lat, r.Lon)
}

// Observation is an immutable snapshot of current conditions at a coordinate,
// produced only by the upstream client.
type Observation struct {
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feels_like"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	WindSpeed   float64   `json:"wind_speed"`
	WindDeg     float64   `json:"wind_deg"`
	Clouds      float64   `json:"clouds"`
	Rain1h      float64   `json:"rain_1h"`
	Rain3h      float64   `json:"rain_3h"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}
