// Package submodel implements the three independent outcome estimators feeding
// the ensemble: full-time, half-time and pattern-based. Each estimator is a
// pure function of match history and detected patterns; a nil Estimate means
// the estimator abstains and the ensemble renormalizes around it.
package submodel

import (
	"math"

	"github.com/winmix/engine/models"
)

// Estimate is one sub-model's outcome guess.
type Estimate struct {
	Prediction models.Outcome `json:"prediction"`
	Confidence float64        `json:"confidence"` // 0-1
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// mapSigned turns a signed differential in [-1, 1] into an outcome using a
// decision threshold and a draw deadband: values inside the deadband are a
// forced draw, values beyond the threshold a decisive side, and the remainder
// follows the sign of the value.
func mapSigned(value, threshold, deadband float64) models.Outcome {
	switch {
	case math.Abs(value) <= deadband:
		return models.OutcomeDraw
	case value > threshold:
		return models.OutcomeHomeWin
	case value < -threshold:
		return models.OutcomeAwayWin
	case value > 0:
		return models.OutcomeHomeWin
	}
	return models.OutcomeAwayWin
}

// formScore scores recent matches 0-100: win=20, draw=10, loss=0. Neutral 50
// when no history exists.
func formScore(matches []models.Match, teamID string) float64 {
	if len(matches) == 0 {
		return 50
	}
	score := 0.0
	for _, m := range matches {
		if m.IsWinFor(teamID) {
			score += 20
		} else if !m.IsLossFor(teamID) {
			score += 10
		}
	}
	return math.Min(score, 100)
}
