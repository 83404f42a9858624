package domain

import "time"

// AlertDefinition attaches a risk threshold to a city. Definitions are owned
// by the persistence collaborator; this package only reads them.
type AlertDefinition struct {
	ID         string     `json:"id"`
	CityID     string     `json:"city_id"`
	Coordinate Coordinate `json:"coordinate"`
	Threshold  RiskLevel  `json:"threshold"`
	Label      string     `json:"label,omitempty"`
	OwnerID    string     `json:"owner_id,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AlertEvent is emitted when a definition fires. Events are side-channel
// output for the notification/persistence collaborator; nothing in this
// engine stores them.
type AlertEvent struct {
	DefinitionID string    `json:"definition_id"`
	CityID       string    `json:"city_id"`
	Label        string    `json:"label,omitempty"`
	Level        RiskLevel `json:"level"`
	Score        int       `json:"score"`
	FiredAt      time.Time `json:"fired_at"`
}

// EvaluateAlerts determines which of a city's definitions fire for the given
// score. A definition fires when the level reaches or exceeds its threshold
// AND the level differs from the last level recorded for it, so an unchanged
// level never re-fires. lastFired maps definition ID to the previously
// recorded level; definitions absent from the map have never been evaluated.
//
// The second return value holds only the levels that changed; callers persist
// it and pass the merged state back on the next evaluation. Levels are
// recorded on every change, including drops below threshold, so a city that
// recovers and then deteriorates again fires again.
func EvaluateAlerts(cityID string, score RiskScore, defs []AlertDefinition, lastFired map[string]RiskLevel, now time.Time) ([]AlertEvent, map[string]RiskLevel) {
	var events []AlertEvent
	changed := make(map[string]RiskLevel)

	for _, def := range defs {
		if !def.Active || def.CityID != cityID {
			continue
		}
		prev, seen := lastFired[def.ID]
		if seen && prev == score.Level {
			continue
		}
		changed[def.ID] = score.Level

		if score.Level < def.Threshold {
			continue
		}
		events = append(events, AlertEvent{
			DefinitionID: def.ID,
			CityID:       def.CityID,
			Label:        def.Label,
			Level:        score.Level,
			Score:        score.Value,
			FiredAt:      now,
		})
	}

	return events, changed
}
