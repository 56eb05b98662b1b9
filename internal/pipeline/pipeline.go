// Package pipeline wires match history, pattern detection, the three
// sub-model estimators and the ensemble into the full per-match prediction
// flow, and reconciles predictions against final scores.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/winmix/engine/internal/detect"
	"github.com/winmix/engine/internal/ensemble"
	"github.com/winmix/engine/internal/submodel"
	"github.com/winmix/engine/models"
)

var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrMatchNotFinished   = errors.New("match is not finished")
	ErrPredictionNotFound = errors.New("prediction not found")
)

// defaultHistoryWindow is how many recent matches feed the estimators.
const defaultHistoryWindow = 10

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	RecentMatches(ctx context.Context, teamID string, limit int) ([]models.Match, error)
	HomeMatches(ctx context.Context, teamID string, limit int) ([]models.Match, error)
	HeadToHeadMatches(ctx context.Context, teamA, teamB string, limit int) ([]models.Match, error)

	GetPredictionByMatch(ctx context.Context, matchID string) (*models.Prediction, error)
	InsertPredictionIfAbsent(ctx context.Context, p *models.Prediction) (bool, error)
	ReconcilePrediction(ctx context.Context, matchID string, actual models.Outcome, wasCorrect bool, calibrationError float64, now time.Time) error

	ActiveTeamPatterns(ctx context.Context, teamID string) ([]models.TeamPatternRecord, error)
	ExpireTeamPattern(ctx context.Context, id string, at time.Time) error
	InsertTeamPattern(ctx context.Context, r *models.TeamPatternRecord) error
	RefreshTeamPattern(ctx context.Context, id string, confidence, strength int, impact float64, metadata map[string]any) error

	UpsertPatternTemplate(ctx context.Context, name string) (string, error)
	InsertDetectedPattern(ctx context.Context, d *models.DetectedPattern) error

	InsertAudit(ctx context.Context, rec *models.AuditRecord) error
}

// Pipeline runs the analyze and reconcile flows.
type Pipeline struct {
	store         Store
	predictor     *ensemble.Predictor
	detectOpts    detect.Options
	historyWindow int
	log           zerolog.Logger
	now           func() time.Time
}

// New builds a pipeline around a store and a configured ensemble predictor.
func New(store Store, predictor *ensemble.Predictor, detectOpts detect.Options) *Pipeline {
	return &Pipeline{
		store:         store,
		predictor:     predictor,
		detectOpts:    detectOpts,
		historyWindow: defaultHistoryWindow,
		log:           log.With().Str("component", "pipeline").Logger(),
		now:           time.Now,
	}
}

type teamHistory struct {
	teamID     string
	recent     []models.Match
	hosted     []models.Match
	detections []detect.Result
}

func (p *Pipeline) analyzeTeam(ctx context.Context, teamID string) (*teamHistory, error) {
	recent, err := p.store.RecentMatches(ctx, teamID, p.historyWindow)
	if err != nil {
		return nil, err
	}
	hosted, err := p.store.HomeMatches(ctx, teamID, p.historyWindow)
	if err != nil {
		return nil, err
	}
	return &teamHistory{
		teamID:     teamID,
		recent:     recent,
		hosted:     hosted,
		detections: detect.All(recent, hosted, teamID, p.detectOpts),
	}, nil
}

// Run produces the prediction for a match. The operation is idempotent: an
// existing prediction is returned as-is with created=false, and concurrent
// invocations collapse onto a single stored row.
func (p *Pipeline) Run(ctx context.Context, matchID string, actor models.Actor) (*models.Prediction, bool, error) {
	existing, err := p.store.GetPredictionByMatch(ctx, matchID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	match, err := p.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, false, err
	}
	if match == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}

	home, err := p.analyzeTeam(ctx, match.HomeTeamID)
	if err != nil {
		return nil, false, err
	}
	away, err := p.analyzeTeam(ctx, match.AwayTeamID)
	if err != nil {
		return nil, false, err
	}
	headToHead, err := p.store.HeadToHeadMatches(ctx, match.HomeTeamID, match.AwayTeamID, p.historyWindow)
	if err != nil {
		return nil, false, err
	}

	now := p.now().UTC()
	p.syncTeamPatterns(ctx, home, now)
	p.syncTeamPatterns(ctx, away, now)

	fullTime := submodel.FullTime(submodel.FullTimeInput{
		HomeTeamID: match.HomeTeamID,
		AwayTeamID: match.AwayTeamID,
		HomeRecent: home.recent,
		AwayRecent: away.recent,
		HeadToHead: headToHead,
	})
	halfTime := submodel.HalfTime(submodel.HalfTimeInput{
		HomeTeamID: match.HomeTeamID,
		AwayTeamID: match.AwayTeamID,
		HomeRecent: home.recent,
		AwayRecent: away.recent,
	})
	pattern := submodel.Pattern(home.detections, away.detections)

	result, err := p.predictor.Predict(vote(fullTime), vote(halfTime), vote(pattern))
	if err != nil {
		return nil, false, err
	}

	breakdown, err := json.Marshal(result)
	if err != nil {
		return nil, false, err
	}

	prediction := &models.Prediction{
		ID:                uuid.NewString(),
		MatchID:           matchID,
		PredictedOutcome:  result.Winner,
		ConfidenceScore:   round2(result.FinalConfidence * 100),
		EnsembleBreakdown: breakdown,
		Status:            models.PredictionActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if result.ConflictDetected {
		alternate := result.RunnerUp()
		prediction.Status = models.PredictionUncertain
		prediction.AlternateOutcome = &alternate
	}

	created, err := p.store.InsertPredictionIfAbsent(ctx, prediction)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Lost the insert race; the winner's row is authoritative.
		stored, err := p.store.GetPredictionByMatch(ctx, matchID)
		if err != nil {
			return nil, false, err
		}
		if stored == nil {
			return nil, false, fmt.Errorf("%w for match %s", ErrPredictionNotFound, matchID)
		}
		return stored, false, nil
	}

	p.recordDetections(ctx, matchID, home.detections, away.detections)
	p.audit(ctx, actor, "prediction.create", "prediction", prediction.ID, map[string]any{
		"match_id":          matchID,
		"predicted_outcome": string(prediction.PredictedOutcome),
		"confidence_score":  prediction.ConfidenceScore,
		"status":            string(prediction.Status),
		"conflict_detected": result.ConflictDetected,
	})

	p.log.Info().
		Str("match_id", matchID).
		Str("outcome", string(prediction.PredictedOutcome)).
		Float64("confidence", prediction.ConfidenceScore).
		Bool("conflict", result.ConflictDetected).
		Msg("prediction created")
	return prediction, true, nil
}

// Reconcile fills the feedback fields of a match's prediction once the final
// score is in. actual may be empty, in which case the outcome is derived from
// the stored match score.
func (p *Pipeline) Reconcile(ctx context.Context, matchID string, actual models.Outcome, actor models.Actor) (*models.Prediction, error) {
	match, err := p.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}

	if actual == "" {
		derived, ok := match.FinalOutcome()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMatchNotFinished, matchID)
		}
		actual = derived
	} else if actual != models.OutcomeHomeWin && actual != models.OutcomeDraw && actual != models.OutcomeAwayWin {
		return nil, &models.InvalidOutcomeError{Outcome: string(actual)}
	}

	prediction, err := p.store.GetPredictionByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if prediction == nil {
		return nil, fmt.Errorf("%w for match %s", ErrPredictionNotFound, matchID)
	}

	wasCorrect := prediction.PredictedOutcome == actual
	target := 0.0
	if wasCorrect {
		target = 1.0
	}
	calibration := round4(math.Abs(prediction.ConfidenceScore/100 - target))

	now := p.now().UTC()
	if err := p.store.ReconcilePrediction(ctx, matchID, actual, wasCorrect, calibration, now); err != nil {
		return nil, err
	}

	prediction.ActualOutcome = &actual
	prediction.WasCorrect = &wasCorrect
	prediction.CalibrationError = &calibration
	prediction.UpdatedAt = now

	p.audit(ctx, actor, "prediction.reconcile", "prediction", prediction.ID, map[string]any{
		"match_id":          matchID,
		"actual_outcome":    string(actual),
		"was_correct":       wasCorrect,
		"calibration_error": calibration,
	})
	return prediction, nil
}

// syncTeamPatterns reconciles the team's active pattern records with the
// latest detections: refresh what still holds, open what is new, expire what
// vanished. Failures here degrade the records, not the prediction, so they
// are logged and swallowed.
func (p *Pipeline) syncTeamPatterns(ctx context.Context, team *teamHistory, now time.Time) {
	active, err := p.store.ActiveTeamPatterns(ctx, team.teamID)
	if err != nil {
		p.log.Warn().Err(err).Str("team_id", team.teamID).Msg("pattern sync skipped")
		return
	}

	activeByType := make(map[models.PatternType]models.TeamPatternRecord, len(active))
	for _, rec := range active {
		activeByType[rec.PatternType] = rec
	}

	seen := make(map[models.PatternType]bool, len(team.detections))
	for _, d := range team.detections {
		seen[d.PatternType] = true
		if rec, ok := activeByType[d.PatternType]; ok {
			err = p.store.RefreshTeamPattern(ctx, rec.ID, d.Confidence, d.Strength, d.PredictionImpact, d.Metadata)
		} else {
			err = p.store.InsertTeamPattern(ctx, &models.TeamPatternRecord{
				ID:               uuid.NewString(),
				TeamID:           team.teamID,
				PatternType:      d.PatternType,
				Confidence:       d.Confidence,
				Strength:         d.Strength,
				PredictionImpact: d.PredictionImpact,
				Metadata:         d.Metadata,
				ValidFrom:        now,
			})
		}
		if err != nil {
			p.log.Warn().Err(err).
				Str("team_id", team.teamID).
				Str("pattern_type", string(d.PatternType)).
				Msg("pattern record write failed")
		}
	}

	for _, rec := range active {
		if seen[rec.PatternType] {
			continue
		}
		if err := p.store.ExpireTeamPattern(ctx, rec.ID, now); err != nil {
			p.log.Warn().Err(err).
				Str("team_id", team.teamID).
				Str("pattern_type", string(rec.PatternType)).
				Msg("pattern record expire failed")
		}
	}
}

// recordDetections links each detection to the match through its pattern
// template, for later accuracy aggregation. Best-effort like pattern sync.
func (p *Pipeline) recordDetections(ctx context.Context, matchID string, detections ...[]detect.Result) {
	for _, side := range detections {
		for _, d := range side {
			templateID, err := p.store.UpsertPatternTemplate(ctx, d.PatternName)
			if err != nil {
				p.log.Warn().Err(err).Str("pattern", d.PatternName).Msg("template upsert failed")
				continue
			}
			err = p.store.InsertDetectedPattern(ctx, &models.DetectedPattern{
				MatchID:                matchID,
				TemplateID:             templateID,
				ConfidenceContribution: float64(d.Confidence),
				PatternData:            d.Metadata,
			})
			if err != nil {
				p.log.Warn().Err(err).Str("pattern", d.PatternName).Msg("detection insert failed")
			}
		}
	}
}

func (p *Pipeline) audit(ctx context.Context, actor models.Actor, action, resourceType, resourceID string, details map[string]any) {
	rec := &models.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.store.InsertAudit(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}

func vote(e *submodel.Estimate) *ensemble.Vote {
	if e == nil {
		return nil
	}
	return &ensemble.Vote{Prediction: string(e.Prediction), Confidence: e.Confidence}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
