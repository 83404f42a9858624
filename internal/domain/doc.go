// Package domain models flood-risk assessment of live weather conditions.
//
// # Risk Model
//
// A flood-risk score is a weighted sum of five observation fields, each
// normalized to a 0–100 scale before weighting:
//
//	rain_1h    ×0.40   clamped at 50 mm, scaled to 0–100
//	rain_3h    ×0.25   clamped at 50 mm, scaled to 0–100
//	humidity   ×0.20   already 0–100
//	wind_speed ×0.10   clamped at 20 m/s, scaled to 0–100
//	clouds     ×0.05   already 0–100
//
// The clamp maxima correspond to hourly rainfall and sustained wind values
// beyond which additional intensity no longer changes the flood outlook for
// scoring purposes. The weighted sum is clamped to [0,100] and rounded to the
// nearest integer. Missing fields contribute zero; they are unmeasured, not
// errors.
//
// Risk levels bucket the score:
//
//	LOW     [0,35)
//	MEDIUM  [35,65)
//	HIGH    [65,100]
//
// # Coordinate Keys
//
// Sessions and cache entries are keyed by the coordinate rounded to 4 decimal
// places (~11 m at the equator). Two subscriptions whose coordinates differ
// only below that precision share one upstream polling session; see
// [Coordinate.Key].
//
// # Alerts
//
// Alert definitions attach a threshold level to a city. An alert fires when
// the current level reaches or exceeds the threshold on the ordering
// LOW < MEDIUM < HIGH, and only when the level differs from the last level
// recorded for that definition — a city sitting at HIGH does not re-fire
// every tick. The evaluator is stateless: callers pass the prior levels in
// and persist the changed ones returned.
package domain
