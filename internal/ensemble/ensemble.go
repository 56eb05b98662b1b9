// Package ensemble reconciles up to three sub-model outcome guesses into one
// final outcome via weighted voting. The predictor is deterministic: same
// votes, same result, with all numeric outputs rounded to 4 decimal places.
package ensemble

import (
	"fmt"
	"math"
	"strings"

	"github.com/winmix/engine/models"
)

// outcomeOrder fixes the deterministic tie-break: HOME beats DRAW beats AWAY
// at equal score.
var outcomeOrder = [3]string{"HOME", "DRAW", "AWAY"}

// Weights are the static base weights per sub-model. They are renormalized to
// sum to 1 across the sub-models actually present in a call.
type Weights struct {
	FullTime float64 `json:"ft"`
	HalfTime float64 `json:"ht"`
	Pattern  float64 `json:"pt"`
}

// DefaultWeights is the shared default configuration: the full-time model
// carries half the vote.
var DefaultWeights = Weights{FullTime: 0.5, HalfTime: 0.3, Pattern: 0.2}

// DefaultConflictThreshold flags a result as conflicted when the top two
// outcome scores are closer than this. Empirical constant, overridable.
const DefaultConflictThreshold = 0.10

// Vote is one sub-model's contribution: a prediction string ("home",
// "home_win", "DRAW", ... case-insensitive) and a confidence in [0, 1].
type Vote struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Scores holds the accumulated weighted score per outcome.
type Scores struct {
	Home float64 `json:"HOME"`
	Draw float64 `json:"DRAW"`
	Away float64 `json:"AWAY"`
}

func (s *Scores) get(outcome string) float64 {
	switch outcome {
	case "HOME":
		return s.Home
	case "DRAW":
		return s.Draw
	}
	return s.Away
}

func (s *Scores) add(outcome string, v float64) {
	switch outcome {
	case "HOME":
		s.Home += v
	case "DRAW":
		s.Draw += v
	default:
		s.Away += v
	}
}

// Result is the full, serializable vote breakdown for audit and replay.
type Result struct {
	WeightsUsed      Weights         `json:"weights_used"`
	Votes            map[string]Vote `json:"votes"`
	Scores           Scores          `json:"scores"`
	Winner           models.Outcome  `json:"winner"`
	FinalConfidence  float64         `json:"final_confidence"`
	ConflictDetected bool            `json:"conflict_detected"`
	ConflictMargin   float64         `json:"conflict_margin"`
}

// RunnerUp returns the second-ranked outcome, used as the alternate outcome
// when a conflict is detected. Ties follow the same enumeration order as the
// winner selection.
func (r *Result) RunnerUp() models.Outcome {
	best, second := "", ""
	for _, o := range outcomeOrder {
		switch {
		case best == "" || r.Scores.get(o) > r.Scores.get(best):
			second = best
			best = o
		case second == "" || r.Scores.get(o) > r.Scores.get(second):
			second = o
		}
	}
	return toOutcome(second)
}

// Predictor applies weighted voting with an immutable configuration injected
// at construction.
type Predictor struct {
	weights           Weights
	conflictThreshold float64
}

// Option customizes a Predictor at construction.
type Option func(*Predictor)

// WithWeights overrides the default base weights.
func WithWeights(w Weights) Option {
	return func(p *Predictor) { p.weights = w }
}

// WithConflictThreshold overrides the default conflict margin threshold.
func WithConflictThreshold(t float64) Option {
	return func(p *Predictor) { p.conflictThreshold = t }
}

// New creates a Predictor with the default weights and conflict threshold
// unless overridden. Negative weights, an all-zero weight set and a negative
// conflict threshold are rejected here rather than corrupting renormalization
// later.
func New(opts ...Option) (*Predictor, error) {
	p := &Predictor{
		weights:           DefaultWeights,
		conflictThreshold: DefaultConflictThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}

	w := p.weights
	if w.FullTime < 0 || w.HalfTime < 0 || w.Pattern < 0 {
		return nil, fmt.Errorf("sub-model weights must be non-negative, got %+v", w)
	}
	if w.FullTime+w.HalfTime+w.Pattern == 0 {
		return nil, fmt.Errorf("sub-model weights must have a positive sum, got %+v", w)
	}
	if p.conflictThreshold < 0 {
		return nil, fmt.Errorf("conflict threshold must be non-negative, got %v", p.conflictThreshold)
	}
	return p, nil
}

// Config returns a copy of the predictor's weights.
func (p *Predictor) Config() Weights { return p.weights }

// normalizeVote maps a prediction string to the canonical HOME/DRAW/AWAY form.
func normalizeVote(prediction string) (string, error) {
	switch strings.ToUpper(prediction) {
	case "HOME", "HOME_WIN":
		return "HOME", nil
	case "DRAW":
		return "DRAW", nil
	case "AWAY", "AWAY_WIN":
		return "AWAY", nil
	}
	return "", &models.InvalidOutcomeError{Outcome: prediction}
}

func toOutcome(canonical string) models.Outcome {
	switch canonical {
	case "HOME":
		return models.OutcomeHomeWin
	case "DRAW":
		return models.OutcomeDraw
	}
	return models.OutcomeAwayWin
}

// Predict reconciles the present sub-model votes. Any argument may be nil;
// passing none is an InsufficientInputError.
func (p *Predictor) Predict(fullTime, halfTime, pattern *Vote) (*Result, error) {
	type subModel struct {
		name   string
		vote   *Vote
		weight float64
	}

	all := []subModel{
		{"full_time", fullTime, p.weights.FullTime},
		{"half_time", halfTime, p.weights.HalfTime},
		{"pattern", pattern, p.weights.Pattern},
	}

	present := make([]subModel, 0, len(all))
	totalWeight := 0.0
	for _, m := range all {
		if m.vote == nil {
			continue
		}
		present = append(present, m)
		totalWeight += m.weight
	}

	if len(present) == 0 {
		return nil, &models.InsufficientInputError{}
	}
	if totalWeight == 0 {
		return nil, &models.InsufficientInputError{}
	}

	var scores Scores
	var used Weights
	votes := make(map[string]Vote, len(present))

	for _, m := range present {
		if m.vote.Confidence < 0 || m.vote.Confidence > 1 {
			return nil, &models.InvalidConfidenceError{Model: m.name, Confidence: m.vote.Confidence}
		}
		canonical, err := normalizeVote(m.vote.Prediction)
		if err != nil {
			return nil, err
		}

		normalized := m.weight / totalWeight
		scores.add(canonical, m.vote.Confidence*normalized)
		votes[m.name] = *m.vote

		switch m.name {
		case "full_time":
			used.FullTime = normalized
		case "half_time":
			used.HalfTime = normalized
		case "pattern":
			used.Pattern = normalized
		}
	}

	winner := outcomeOrder[0]
	for _, o := range outcomeOrder[1:] {
		if scores.get(o) > scores.get(winner) {
			winner = o
		}
	}

	// Conflict margin: gap between the top two scores.
	ranked := []float64{scores.Home, scores.Draw, scores.Away}
	top, second := math.Inf(-1), math.Inf(-1)
	for _, v := range ranked {
		if v > top {
			second = top
			top = v
		} else if v > second {
			second = v
		}
	}
	margin := top - second

	result := &Result{
		WeightsUsed: Weights{
			FullTime: round4(used.FullTime),
			HalfTime: round4(used.HalfTime),
			Pattern:  round4(used.Pattern),
		},
		Votes: votes,
		Scores: Scores{
			Home: round4(scores.Home),
			Draw: round4(scores.Draw),
			Away: round4(scores.Away),
		},
		Winner:           toOutcome(winner),
		FinalConfidence:  round4(scores.get(winner)),
		ConflictDetected: margin < p.conflictThreshold,
		ConflictMargin:   round4(margin),
	}
	return result, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
