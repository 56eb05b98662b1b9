package submodel

import (
	"math"

	"github.com/winmix/engine/models"
)

// Half-time estimator constants. The bands are tighter than full-time because
// half-time differentials carry less signal.
const (
	htDecisionThreshold = 0.12
	htDrawDeadband      = 0.04
	htNormalization     = 2.0 // divisor mapping avg goal diff into [-1, 1]
)

// HalfTimeInput is the history the half-time estimator works from.
type HalfTimeInput struct {
	HomeTeamID string
	AwayTeamID string
	HomeRecent []models.Match
	AwayRecent []models.Match
}

// avgHalfTimeDiff averages a team's half-time goal differential over its
// recent matches. Half-time scores fall back to the rounded half of the final
// score when not recorded directly; matches with neither are skipped.
func avgHalfTimeDiff(matches []models.Match, teamID string) (float64, int) {
	total := 0.0
	counted := 0
	for _, m := range matches {
		gf, ga, ok := m.HalfTimeGoals(teamID)
		if !ok {
			continue
		}
		total += gf - ga
		counted++
	}
	if counted == 0 {
		return 0, 0
	}
	return total / float64(counted), counted
}

// HalfTime maps the difference between the two sides' average half-time goal
// differentials to an outcome, with its own confidence curve. It abstains when
// neither side has a determinable half-time history.
func HalfTime(in HalfTimeInput) *Estimate {
	homeDiff, homeN := avgHalfTimeDiff(in.HomeRecent, in.HomeTeamID)
	awayDiff, awayN := avgHalfTimeDiff(in.AwayRecent, in.AwayTeamID)
	if homeN == 0 && awayN == 0 {
		return nil
	}

	value := clamp((homeDiff-awayDiff)/htNormalization, -1, 1)
	outcome := mapSigned(value, htDecisionThreshold, htDrawDeadband)

	var confidence float64
	if outcome == models.OutcomeDraw {
		confidence = clamp(0.75-math.Abs(value)*0.25, 0.35, 0.55)
	} else {
		confidence = clamp(0.5+math.Abs(value)*0.45, 0.5, 0.85)
	}

	return &Estimate{Prediction: outcome, Confidence: confidence}
}
