package submodel

import (
	"math"

	"github.com/winmix/engine/internal/detect"
	"github.com/winmix/engine/models"
)

// Pattern estimator constants, same family as the full-time curves with its
// own scales.
const (
	ptBoostThreshold = 4.0 // minimum favors-home/favors-away gap to pick a side
	ptDiffScale      = 0.02
	ptTotalScale     = 0.005
	ptSideFloor      = 0.5
	ptSideCeil       = 0.88
	ptDrawFloor      = 0.4
	ptDrawCeil       = 0.55
	ptDrawBase       = 0.45
)

// Pattern sums the prediction-impact boosts of each side's detected patterns
// into favors-home and favors-away buckets and decides by their gap. It
// abstains when no pattern was detected for either team.
func Pattern(homePatterns, awayPatterns []detect.Result) *Estimate {
	if len(homePatterns) == 0 && len(awayPatterns) == 0 {
		return nil
	}

	homeBoost := 0.0
	for _, p := range homePatterns {
		homeBoost += p.PredictionImpact
	}
	awayBoost := 0.0
	for _, p := range awayPatterns {
		awayBoost += p.PredictionImpact
	}

	total := homeBoost + awayBoost
	diff := homeBoost - awayBoost

	var outcome models.Outcome
	switch {
	case diff >= ptBoostThreshold:
		outcome = models.OutcomeHomeWin
	case diff <= -ptBoostThreshold:
		outcome = models.OutcomeAwayWin
	default:
		outcome = models.OutcomeDraw
	}

	var confidence float64
	if outcome == models.OutcomeDraw {
		confidence = clamp(ptDrawBase+total*ptTotalScale, ptDrawFloor, ptDrawCeil)
	} else {
		confidence = clamp(ptSideFloor+math.Abs(diff)*ptDiffScale+total*ptTotalScale, ptSideFloor, ptSideCeil)
	}

	return &Estimate{Prediction: outcome, Confidence: confidence}
}
