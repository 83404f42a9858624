package domain

import "time"

// RiskSnapshot is one scored poll result for a coordinate, retained for the
// history endpoint and published to the snapshot topic when Kafka is enabled.
type RiskSnapshot struct {
	Coordinate  Coordinate  `json:"coordinate"`
	Observation Observation `json:"observation"`
	Score       RiskScore   `json:"risk"`
	At          time.Time   `json:"at"`
}
