// Package detect implements pure pattern detection over a team's match
// history. Every detector takes matches ordered most-recent-first, is
// idempotent and side-effect-free, and returns nil when the pattern does not
// hold (which is not an error). Matches with unrecorded scores are treated as
// not determinable rather than silently coerced to losses or clean sheets.
package detect

import (
	"math"

	"github.com/winmix/engine/models"
)

// Result is a single detected pattern with its scoring and free-form numeric
// facts for downstream consumers.
type Result struct {
	PatternType      models.PatternType `json:"pattern_type"`
	PatternName      string             `json:"pattern_name"`
	Confidence       int                `json:"confidence"` // 0-100
	Strength         int                `json:"strength"`   // 0-100
	PredictionImpact float64            `json:"prediction_impact"`
	Metadata         map[string]any     `json:"metadata"`
}

// StreakOptions configures the streak-shaped detectors.
type StreakOptions struct {
	MinLength  int // minimum streak to report, default 3
	MaxMatches int // history window, default 10
}

func (o StreakOptions) withDefaults() StreakOptions {
	if o.MinLength == 0 {
		o.MinLength = 3
	}
	if o.MaxMatches == 0 {
		o.MaxMatches = 10
	}
	return o
}

// DominanceOptions configures home dominance detection.
type DominanceOptions struct {
	MinWinRate    float64 // default 0.7
	MinSampleSize int     // default 5
	MaxMatches    int     // default 10
}

func (o DominanceOptions) withDefaults() DominanceOptions {
	if o.MinWinRate == 0 {
		o.MinWinRate = 0.7
	}
	if o.MinSampleSize == 0 {
		o.MinSampleSize = 5
	}
	if o.MaxMatches == 0 {
		o.MaxMatches = 10
	}
	return o
}

// ScoringOptions configures high-scoring trend detection.
type ScoringOptions struct {
	MinAvgGoals   float64 // combined goals per match, default 3.0
	MinSampleSize int     // default 6
	MaxMatches    int     // default 10
}

func (o ScoringOptions) withDefaults() ScoringOptions {
	if o.MinAvgGoals == 0 {
		o.MinAvgGoals = 3.0
	}
	if o.MinSampleSize == 0 {
		o.MinSampleSize = 6
	}
	if o.MaxMatches == 0 {
		o.MaxMatches = 10
	}
	return o
}

// SurgeOptions configures form surge detection.
type SurgeOptions struct {
	SurgeThreshold float64 // relative form increase, default 0.30
	MaxMatches     int     // default 10
}

func (o SurgeOptions) withDefaults() SurgeOptions {
	if o.SurgeThreshold == 0 {
		o.SurgeThreshold = 0.30
	}
	if o.MaxMatches == 0 {
		o.MaxMatches = 10
	}
	return o
}

func clampWindow(matches []models.Match, max int) []models.Match {
	if len(matches) > max {
		return matches[:max]
	}
	return matches
}

// Streak scans from the most recent match counting consecutive wins, stopping
// at the first non-win.
func Streak(matches []models.Match, teamID string, opts StreakOptions) *Result {
	opts = opts.withDefaults()
	matches = clampWindow(matches, opts.MaxMatches)
	if len(matches) < opts.MinLength {
		return nil
	}

	streak := 0
	lastResults := make([]string, 0, 5)
	for _, m := range matches {
		win := m.IsWinFor(teamID)
		loss := m.IsLossFor(teamID)
		if len(lastResults) < 5 {
			switch {
			case win:
				lastResults = append(lastResults, "W")
			case loss:
				lastResults = append(lastResults, "L")
			default:
				lastResults = append(lastResults, "D")
			}
		}
		if !win {
			break
		}
		streak++
	}

	if streak < opts.MinLength {
		return nil
	}
	return &Result{
		PatternType:      models.PatternWinningStreak,
		PatternName:      "Winning Streak",
		Confidence:       min(95, 60+(streak-opts.MinLength+1)*8),
		Strength:         min(100, streak*20),
		PredictionImpact: 6,
		Metadata: map[string]any{
			"streak_length": streak,
			"min_streak":    opts.MinLength,
			"last_results":  lastResults,
			"sample_size":   len(matches),
		},
	}
}

// HomeDominance inspects only the matches teamID hosted and reports a pattern
// when the home win rate clears the threshold over a sufficient sample.
func HomeDominance(matches []models.Match, teamID string, opts DominanceOptions) *Result {
	opts = opts.withDefaults()

	home := make([]models.Match, 0, len(matches))
	for _, m := range matches {
		if m.HomeTeamID == teamID {
			home = append(home, m)
		}
	}
	home = clampWindow(home, opts.MaxMatches)
	if len(home) < opts.MinSampleSize {
		return nil
	}

	var wins, goalsFor, goalsAgainst, btts int
	for _, m := range home {
		if m.IsWinFor(teamID) {
			wins++
		}
		gf, okFor := m.GoalsFor(teamID)
		ga, okAgainst := m.GoalsAgainst(teamID)
		if okFor && okAgainst {
			goalsFor += gf
			goalsAgainst += ga
			if gf > 0 && ga > 0 {
				btts++
			}
		}
	}

	winRate := float64(wins) / float64(len(home))
	if winRate < opts.MinWinRate {
		return nil
	}

	// Confidence grows linearly with how far the win rate clears the threshold.
	rateScore := (winRate - opts.MinWinRate) / (1 - opts.MinWinRate)
	confidence := min(95, int(math.Round(65+math.Max(0, rateScore)*25)))
	strength := min(100, int(math.Round(winRate*100))+min(20, (len(home)-opts.MinSampleSize)*3))

	n := float64(len(home))
	return &Result{
		PatternType:      models.PatternHomeDominance,
		PatternName:      "Home Dominance",
		Confidence:       confidence,
		Strength:         strength,
		PredictionImpact: 5,
		Metadata: map[string]any{
			"home_win_rate":         int(math.Round(winRate * 100)),
			"sample_size":           len(home),
			"avg_goals_for":         round2(float64(goalsFor) / n),
			"avg_goals_against":     round2(float64(goalsAgainst) / n),
			"both_teams_score_rate": int(math.Round(float64(btts) / n * 100)),
		},
	}
}

// HighScoring reports a pattern when the combined goals per match over the
// sample meet the threshold.
func HighScoring(matches []models.Match, teamID string, opts ScoringOptions) *Result {
	opts = opts.withDefaults()
	matches = clampWindow(matches, opts.MaxMatches)
	if len(matches) < opts.MinSampleSize {
		return nil
	}

	var totalGoals, gfTotal, gaTotal, btts int
	for _, m := range matches {
		gf, okFor := m.GoalsFor(teamID)
		ga, okAgainst := m.GoalsAgainst(teamID)
		if !okFor || !okAgainst {
			continue
		}
		gfTotal += gf
		gaTotal += ga
		totalGoals += gf + ga
		if gf > 0 && ga > 0 {
			btts++
		}
	}

	n := float64(len(matches))
	avgGoals := float64(totalGoals) / n
	if avgGoals < opts.MinAvgGoals {
		return nil
	}

	overBy := avgGoals - opts.MinAvgGoals
	confidence := min(95, int(math.Round(60+math.Min(1, overBy/1.5)*25)))
	strength := min(100, int(math.Round(avgGoals/(opts.MinAvgGoals+1.5)*100)))

	return &Result{
		PatternType:      models.PatternHighScoringTrend,
		PatternName:      "High Scoring",
		Confidence:       confidence,
		Strength:         strength,
		PredictionImpact: 3,
		Metadata: map[string]any{
			"avg_goals_per_match":   round2(avgGoals),
			"goals_for":             gfTotal,
			"goals_against":         gaTotal,
			"both_teams_score_rate": int(math.Round(float64(btts) / n * 100)),
			"sample_size":           len(matches),
		},
	}
}

// formIndex scores a window of matches on a 0-100 scale: win=20, draw=10,
// loss=0, normalized against the 3-match maximum of 60 points.
func formIndex(matches []models.Match, teamID string) float64 {
	pts := 0
	for _, m := range matches {
		if m.IsWinFor(teamID) {
			pts += 20
		} else if !m.IsLossFor(teamID) {
			pts += 10
		}
	}
	return round2(math.Min(100, float64(pts)/60*100))
}

// FormSurge compares the form index of the latest three matches against the
// preceding three. A surge needs both a relative increase over the threshold
// and an absolute increase of at least 15 points. An all-loss baseline only
// counts when the recent index itself reaches 50, which avoids the division
// blow-up on a zero previous index.
func FormSurge(matches []models.Match, teamID string, opts SurgeOptions) *Result {
	opts = opts.withDefaults()
	matches = clampWindow(matches, opts.MaxMatches)
	if len(matches) < 6 {
		return nil
	}

	recent := matches[0:3]
	previous := matches[3:6]

	recentIndex := formIndex(recent, teamID)
	prevIndex := formIndex(previous, teamID)
	if prevIndex == 0 && recentIndex < 50 {
		return nil
	}

	increase := recentIndex - prevIndex
	var relative float64
	switch {
	case prevIndex > 0:
		relative = increase / prevIndex
	case recentIndex >= 50:
		relative = 1
	}

	if relative < opts.SurgeThreshold || increase < 15 {
		return nil
	}
	return &Result{
		PatternType:      models.PatternFormSurge,
		PatternName:      "Form Surge",
		Confidence:       min(95, int(math.Round(62+math.Min(1, relative)*23))),
		Strength:         min(100, int(math.Round(recentIndex))),
		PredictionImpact: 4,
		Metadata: map[string]any{
			"recent_index":      recentIndex,
			"previous_index":    prevIndex,
			"increase_absolute": round2(increase),
			"increase_relative": round2(relative),
			"recent_sample":     len(recent),
			"previous_sample":   len(previous),
		},
	}
}

// CleanSheetStreak counts consecutive matches without conceding, from the most
// recent backwards. A match with unrecorded scores ends the streak.
func CleanSheetStreak(matches []models.Match, teamID string, opts StreakOptions) *Result {
	opts = opts.withDefaults()
	matches = clampWindow(matches, opts.MaxMatches)
	if len(matches) < opts.MinLength {
		return nil
	}

	streak := 0
	for _, m := range matches {
		ga, ok := m.GoalsAgainst(teamID)
		if !ok || ga != 0 {
			break
		}
		streak++
	}

	if streak < opts.MinLength {
		return nil
	}
	return &Result{
		PatternType:      models.PatternCleanSheetStreak,
		PatternName:      "Clean Sheet Streak",
		Confidence:       min(95, 70+streak*5),
		Strength:         min(100, streak*25),
		PredictionImpact: 4,
		Metadata: map[string]any{
			"streak_length": streak,
			"min_streak":    opts.MinLength,
			"sample_size":   len(matches),
		},
	}
}

// BTTSStreak counts consecutive matches in which both sides scored. A match
// with unrecorded scores ends the streak.
func BTTSStreak(matches []models.Match, teamID string, opts StreakOptions) *Result {
	opts = opts.withDefaults()
	matches = clampWindow(matches, opts.MaxMatches)
	if len(matches) < opts.MinLength {
		return nil
	}

	streak := 0
	for _, m := range matches {
		gf, okFor := m.GoalsFor(teamID)
		ga, okAgainst := m.GoalsAgainst(teamID)
		if !okFor || !okAgainst || gf == 0 || ga == 0 {
			break
		}
		streak++
	}

	if streak < opts.MinLength {
		return nil
	}
	return &Result{
		PatternType:      models.PatternBTTSStreak,
		PatternName:      "Both Teams To Score Streak",
		Confidence:       min(90, 65+streak*6),
		Strength:         min(100, streak*22),
		PredictionImpact: 3,
		Metadata: map[string]any{
			"streak_length": streak,
			"min_streak":    opts.MinLength,
			"sample_size":   len(matches),
		},
	}
}

// Options bundles the per-detector settings for a full detection run.
type Options struct {
	Streak     StreakOptions
	Dominance  DominanceOptions
	Scoring    ScoringOptions
	Surge      SurgeOptions
	CleanSheet StreakOptions
	BTTS       StreakOptions
}

// All runs every detector for a team. recent must be ordered most-recent-first
// and may include home and away matches. hosted carries the team's home
// fixtures for dominance detection; when nil, dominance filters its own home
// subset out of recent.
func All(recent, hosted []models.Match, teamID string, opts Options) []Result {
	if hosted == nil {
		hosted = recent
	}
	detections := []*Result{
		Streak(recent, teamID, opts.Streak),
		HomeDominance(hosted, teamID, opts.Dominance),
		HighScoring(recent, teamID, opts.Scoring),
		FormSurge(recent, teamID, opts.Surge),
		CleanSheetStreak(recent, teamID, opts.CleanSheet),
		BTTSStreak(recent, teamID, opts.BTTS),
	}

	results := make([]Result, 0, len(detections))
	for _, d := range detections {
		if d != nil {
			results = append(results, *d)
		}
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
