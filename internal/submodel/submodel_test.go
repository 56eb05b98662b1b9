package submodel

import (
	"testing"
	"time"

	"github.com/winmix/engine/internal/detect"
	"github.com/winmix/engine/models"
)

func intp(v int) *int { return &v }

func finished(homeID, awayID string, hs, as int) models.Match {
	return models.Match{
		HomeTeamID: homeID,
		AwayTeamID: awayID,
		HomeScore:  intp(hs),
		AwayScore:  intp(as),
		MatchDate:  time.Now(),
		Status:     models.MatchFinished,
	}
}

// genHistory produces n finished matches for teamID with the given letter
// results repeated, most recent first.
func genHistory(teamID string, letters string) []models.Match {
	matches := make([]models.Match, 0, len(letters))
	for _, r := range letters {
		switch r {
		case 'W':
			matches = append(matches, finished(teamID, "opp", 2, 0))
		case 'L':
			matches = append(matches, finished(teamID, "opp", 0, 2))
		case 'D':
			matches = append(matches, finished(teamID, "opp", 1, 1))
		}
	}
	return matches
}

func TestFullTime(t *testing.T) {
	tests := []struct {
		name        string
		homeForm    string
		awayForm    string
		h2hHomeWins int
		h2hAwayWins int
		want        models.Outcome
	}{
		{
			name:     "strong home form",
			homeForm: "WWWWW",
			awayForm: "LLLLL",
			want:     models.OutcomeHomeWin,
		},
		{
			name:     "strong away form",
			homeForm: "LLLLL",
			awayForm: "WWWWW",
			want:     models.OutcomeAwayWin,
		},
		{
			name:     "even form forces draw",
			homeForm: "WDWDW",
			awayForm: "WDWDW",
			want:     models.OutcomeDraw,
		},
		{
			name:        "h2h breaks even form",
			homeForm:    "WWDLL",
			awayForm:    "WWDLL",
			h2hHomeWins: 4,
			h2hAwayWins: 0,
			want:        models.OutcomeHomeWin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h2h := make([]models.Match, 0, tt.h2hHomeWins+tt.h2hAwayWins)
			for i := 0; i < tt.h2hHomeWins; i++ {
				h2h = append(h2h, finished("home", "away", 2, 0))
			}
			for i := 0; i < tt.h2hAwayWins; i++ {
				h2h = append(h2h, finished("home", "away", 0, 2))
			}

			got := FullTime(FullTimeInput{
				HomeTeamID: "home",
				AwayTeamID: "away",
				HomeRecent: genHistory("home", tt.homeForm),
				AwayRecent: genHistory("away", tt.awayForm),
				HeadToHead: h2h,
			})
			if got == nil {
				t.Fatal("expected an estimate, got nil")
			}
			if got.Prediction != tt.want {
				t.Errorf("prediction = %s, want %s", got.Prediction, tt.want)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("confidence out of range: %v", got.Confidence)
			}
		})
	}
}

func TestFullTimeConfidenceBands(t *testing.T) {
	est := FullTime(FullTimeInput{
		HomeTeamID: "home",
		AwayTeamID: "away",
		HomeRecent: genHistory("home", "WWWWW"),
		AwayRecent: genHistory("away", "LLLLL"),
	})
	if est == nil {
		t.Fatal("expected an estimate")
	}
	// value = 0.7 * (100-0)/100 = 0.7; confidence = clamp(0.55 + 0.35) = 0.90
	if est.Confidence < 0.899 || est.Confidence > 0.901 {
		t.Errorf("confidence = %v, want 0.90", est.Confidence)
	}

	draw := FullTime(FullTimeInput{
		HomeTeamID: "home",
		AwayTeamID: "away",
		HomeRecent: genHistory("home", "DDDDD"),
		AwayRecent: genHistory("away", "DDDDD"),
	})
	if draw == nil || draw.Prediction != models.OutcomeDraw {
		t.Fatalf("expected draw, got %+v", draw)
	}
	if draw.Confidence < 0.4 || draw.Confidence > 0.6 {
		t.Errorf("draw confidence out of band: %v", draw.Confidence)
	}
}

func TestFullTimeAbstainsWithoutHistory(t *testing.T) {
	if got := FullTime(FullTimeInput{HomeTeamID: "home", AwayTeamID: "away"}); got != nil {
		t.Fatalf("expected nil estimate, got %+v", got)
	}
}

func TestHalfTime(t *testing.T) {
	leading := func(teamID string) models.Match {
		m := finished(teamID, "opp", 3, 0)
		m.HomeScoreHT = intp(2)
		m.AwayScoreHT = intp(0)
		return m
	}
	trailing := func(teamID string) models.Match {
		m := finished("opp", teamID, 2, 0)
		m.HomeScoreHT = intp(1)
		m.AwayScoreHT = intp(0)
		return m
	}

	got := HalfTime(HalfTimeInput{
		HomeTeamID: "home",
		AwayTeamID: "away",
		HomeRecent: []models.Match{leading("home"), leading("home"), leading("home")},
		AwayRecent: []models.Match{trailing("away"), trailing("away"), trailing("away")},
	})
	if got == nil {
		t.Fatal("expected an estimate")
	}
	if got.Prediction != models.OutcomeHomeWin {
		t.Errorf("prediction = %s, want %s", got.Prediction, models.OutcomeHomeWin)
	}
}

func TestHalfTimeFallbackFromFinalScore(t *testing.T) {
	// No direct half-time fields: resolved as round(final/2) per side.
	got := HalfTime(HalfTimeInput{
		HomeTeamID: "home",
		AwayTeamID: "away",
		HomeRecent: genHistory("home", "WWW"), // 2-0 finals -> 1-0 at half
		AwayRecent: genHistory("away", "LLL"), // 0-2 finals -> 0-1 at half
	})
	if got == nil {
		t.Fatal("expected an estimate from the fallback")
	}
	if got.Prediction != models.OutcomeHomeWin {
		t.Errorf("prediction = %s, want %s", got.Prediction, models.OutcomeHomeWin)
	}
}

func TestHalfTimeAbstains(t *testing.T) {
	unscored := models.Match{HomeTeamID: "home", AwayTeamID: "opp", Status: models.MatchScheduled}
	got := HalfTime(HalfTimeInput{
		HomeTeamID: "home",
		AwayTeamID: "away",
		HomeRecent: []models.Match{unscored},
	})
	if got != nil {
		t.Fatalf("expected nil estimate without determinable scores, got %+v", got)
	}
}

func TestPattern(t *testing.T) {
	winning := detect.Result{PatternType: models.PatternWinningStreak, PredictionImpact: 6}
	dominance := detect.Result{PatternType: models.PatternHomeDominance, PredictionImpact: 5}
	scoring := detect.Result{PatternType: models.PatternHighScoringTrend, PredictionImpact: 3}

	tests := []struct {
		name string
		home []detect.Result
		away []detect.Result
		want models.Outcome
	}{
		{
			name: "home patterns dominate",
			home: []detect.Result{winning, dominance},
			want: models.OutcomeHomeWin,
		},
		{
			name: "away patterns dominate",
			away: []detect.Result{winning},
			want: models.OutcomeAwayWin,
		},
		{
			name: "small gap is neutral",
			home: []detect.Result{winning},
			away: []detect.Result{scoring},
			want: models.OutcomeDraw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pattern(tt.home, tt.away)
			if got == nil {
				t.Fatal("expected an estimate")
			}
			if got.Prediction != tt.want {
				t.Errorf("prediction = %s, want %s", got.Prediction, tt.want)
			}
		})
	}
}

func TestPatternAbstainsWithoutDetections(t *testing.T) {
	if got := Pattern(nil, nil); got != nil {
		t.Fatalf("expected nil estimate, got %+v", got)
	}
}
