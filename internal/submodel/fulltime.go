package submodel

import (
	"math"

	"github.com/winmix/engine/models"
)

// Full-time estimator constants. Empirically tuned; kept as named values so
// callers can reason about the bands.
const (
	ftFormWeight        = 0.7
	ftHeadToHeadWeight  = 0.3
	ftDecisionThreshold = 0.08
	ftDrawDeadband      = 0.03
)

// FullTimeInput is the history the full-time estimator works from. Match
// slices are ordered most-recent-first.
type FullTimeInput struct {
	HomeTeamID string
	AwayTeamID string
	HomeRecent []models.Match
	AwayRecent []models.Match
	HeadToHead []models.Match
}

// FullTime combines a normalized recent-form differential with a normalized
// head-to-head win differential into a signed value and maps it to an outcome.
func FullTime(in FullTimeInput) *Estimate {
	if len(in.HomeRecent) == 0 && len(in.AwayRecent) == 0 {
		return nil
	}

	formDiff := (formScore(in.HomeRecent, in.HomeTeamID) - formScore(in.AwayRecent, in.AwayTeamID)) / 100

	h2hDiff := 0.0
	if len(in.HeadToHead) > 0 {
		homeWins, awayWins := 0, 0
		for _, m := range in.HeadToHead {
			if m.IsWinFor(in.HomeTeamID) {
				homeWins++
			} else if m.IsWinFor(in.AwayTeamID) {
				awayWins++
			}
		}
		h2hDiff = float64(homeWins-awayWins) / float64(len(in.HeadToHead))
	}

	value := ftFormWeight*formDiff + ftHeadToHeadWeight*h2hDiff
	outcome := mapSigned(value, ftDecisionThreshold, ftDrawDeadband)

	var confidence float64
	if outcome == models.OutcomeDraw {
		confidence = clamp(0.45-math.Abs(value)*0.2+0.35, 0.4, 0.6)
	} else {
		confidence = clamp(0.55+math.Abs(value)*0.5, 0.55, 0.92)
	}

	return &Estimate{Prediction: outcome, Confidence: confidence}
}
