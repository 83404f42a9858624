package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// RiskLevel buckets a risk score. The ordering LOW < MEDIUM < HIGH is load
// bearing for alert threshold comparisons.
type RiskLevel int

const (
	LevelLow RiskLevel = iota
	LevelMedium
	LevelHigh
)

// Level bucket boundaries: MEDIUM starts at 35, HIGH at 65 (inclusive).
const (
	mediumThreshold = 35
	highThreshold   = 65
)

func (l RiskLevel) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
}

// ParseRiskLevel converts "LOW"/"MEDIUM"/"HIGH" to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "LOW":
		return LevelLow, nil
	case "MEDIUM":
		return LevelMedium, nil
	case "HIGH":
		return LevelHigh, nil
	default:
		return LevelLow, fmt.Errorf("unknown risk level %q", s)
	}
}

func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// RiskScore is the derived flood-risk assessment of one Observation.
type RiskScore struct {
	Value int       `json:"score"`
	Level RiskLevel `json:"level"`
}

// Normalization maxima: measurements are clamped here, then scaled to 0–100
// before weighting. See the package documentation for rationale.
const (
	maxRain1hMM = 50.0
	maxRain3hMM = 50.0
	maxWindMS   = 20.0
	maxPercent  = 100.0
)

// Field weights. Must sum to 1.
const (
	weightRain1h   = 0.40
	weightRain3h   = 0.25
	weightHumidity = 0.20
	weightWind     = 0.10
	weightClouds   = 0.05
)

// ScoreObservation derives a flood-risk score from an observation. Pure and
// deterministic; the only failure mode is a malformed observation (non-finite
// or negative measurements), reported as ErrInvalidObservation.
func ScoreObservation(obs Observation) (RiskScore, error) {
	if err := validateMeasurements(obs); err != nil {
		return RiskScore{}, err
	}

	raw := normalize(obs.Rain1h, maxRain1hMM)*weightRain1h +
		normalize(obs.Rain3h, maxRain3hMM)*weightRain3h +
		normalize(obs.Humidity, maxPercent)*weightHumidity +
		normalize(obs.WindSpeed, maxWindMS)*weightWind +
		normalize(obs.Clouds, maxPercent)*weightClouds

	value := int(math.Round(math.Min(raw, 100)))
	return RiskScore{Value: value, Level: levelFor(value)}, nil
}

func levelFor(value int) RiskLevel {
	switch {
	case value >= highThreshold:
		return LevelHigh
	case value >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// normalize clamps v to [0,max] and scales it to 0–100.
func normalize(v, max float64) float64 {
	if v > max {
		v = max
	}
	return v / max * 100
}

func validateMeasurements(obs Observation) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"rain_1h", obs.Rain1h},
		{"rain_3h", obs.Rain3h},
		{"humidity", obs.Humidity},
		{"wind_speed", obs.WindSpeed},
		{"clouds", obs.Clouds},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidObservation, f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: %s is negative (%g)", ErrInvalidObservation, f.name, f.value)
		}
	}
	return nil
}
