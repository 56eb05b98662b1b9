package models

import "math"

// ScoresKnown reports whether both final scores are recorded.
func (m *Match) ScoresKnown() bool {
	return m.HomeScore != nil && m.AwayScore != nil
}

// IsWinFor reports whether teamID won the match. Unknown scores are never a win.
func (m *Match) IsWinFor(teamID string) bool {
	if !m.ScoresKnown() {
		return false
	}
	switch teamID {
	case m.HomeTeamID:
		return *m.HomeScore > *m.AwayScore
	case m.AwayTeamID:
		return *m.AwayScore > *m.HomeScore
	}
	return false
}

// IsLossFor reports whether teamID lost the match. Unknown scores are never a loss.
func (m *Match) IsLossFor(teamID string) bool {
	if !m.ScoresKnown() {
		return false
	}
	switch teamID {
	case m.HomeTeamID:
		return *m.HomeScore < *m.AwayScore
	case m.AwayTeamID:
		return *m.AwayScore < *m.HomeScore
	}
	return false
}

// GoalsFor returns the goals teamID scored. ok is false when the score is not
// determinable (absent scores or a team that did not play the match).
func (m *Match) GoalsFor(teamID string) (goals int, ok bool) {
	if !m.ScoresKnown() {
		return 0, false
	}
	switch teamID {
	case m.HomeTeamID:
		return *m.HomeScore, true
	case m.AwayTeamID:
		return *m.AwayScore, true
	}
	return 0, false
}

// GoalsAgainst returns the goals teamID conceded, with the same determinability
// rule as GoalsFor.
func (m *Match) GoalsAgainst(teamID string) (goals int, ok bool) {
	if !m.ScoresKnown() {
		return 0, false
	}
	switch teamID {
	case m.HomeTeamID:
		return *m.AwayScore, true
	case m.AwayTeamID:
		return *m.HomeScore, true
	}
	return 0, false
}

// FinalOutcome derives the outcome of a finished match from the home side's
// perspective. ok is false when the scores are unknown.
func (m *Match) FinalOutcome() (Outcome, bool) {
	if !m.ScoresKnown() {
		return "", false
	}
	switch {
	case *m.HomeScore > *m.AwayScore:
		return OutcomeHomeWin, true
	case *m.HomeScore < *m.AwayScore:
		return OutcomeAwayWin, true
	}
	return OutcomeDraw, true
}

// HalfTimeGoals resolves half-time goals for teamID with an explicit
// precedence: the recorded half-time fields when both are present, otherwise
// the rounded half of the final score per side. ok is false when neither
// source is available.
func (m *Match) HalfTimeGoals(teamID string) (goalsFor, goalsAgainst float64, ok bool) {
	if m.HomeScoreHT != nil && m.AwayScoreHT != nil {
		switch teamID {
		case m.HomeTeamID:
			return float64(*m.HomeScoreHT), float64(*m.AwayScoreHT), true
		case m.AwayTeamID:
			return float64(*m.AwayScoreHT), float64(*m.HomeScoreHT), true
		}
		return 0, 0, false
	}
	gf, okFor := m.GoalsFor(teamID)
	ga, okAgainst := m.GoalsAgainst(teamID)
	if !okFor || !okAgainst {
		return 0, 0, false
	}
	return math.Round(float64(gf) / 2), math.Round(float64(ga) / 2), true
}
