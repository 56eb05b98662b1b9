package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/winmix/engine/models"
)

const predictionColumns = `id, match_id, predicted_outcome, confidence_score,
	ensemble_breakdown, status, alternate_outcome, actual_outcome, was_correct,
	calibration_error, created_at, updated_at`

func scanPrediction(row interface{ Scan(...any) error }) (*models.Prediction, error) {
	var p models.Prediction
	var alternate, actual sql.NullString
	var wasCorrect sql.NullBool
	var calibration sql.NullFloat64

	err := row.Scan(
		&p.ID, &p.MatchID, &p.PredictedOutcome, &p.ConfidenceScore,
		&p.EnsembleBreakdown, &p.Status, &alternate, &actual, &wasCorrect,
		&calibration, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if alternate.Valid {
		o := models.Outcome(alternate.String)
		p.AlternateOutcome = &o
	}
	if actual.Valid {
		o := models.Outcome(actual.String)
		p.ActualOutcome = &o
	}
	if wasCorrect.Valid {
		b := wasCorrect.Bool
		p.WasCorrect = &b
	}
	if calibration.Valid {
		c := calibration.Float64
		p.CalibrationError = &c
	}
	return &p, nil
}

// GetPredictionByMatch retrieves the prediction for a match. Returns
// (nil, nil) when no prediction exists yet.
func (db *DB) GetPredictionByMatch(ctx context.Context, matchID string) (*models.Prediction, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE match_id = $1
	`, matchID)

	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapMatch("GetPredictionByMatch", matchID, err)
	}
	return p, nil
}

// InsertPredictionIfAbsent inserts the prediction unless one already exists
// for the match. created is false when the match-id uniqueness check kept the
// existing row, which makes pipeline re-invocation a no-op.
func (db *DB) InsertPredictionIfAbsent(ctx context.Context, p *models.Prediction) (created bool, err error) {
	var alternate any
	if p.AlternateOutcome != nil {
		alternate = string(*p.AlternateOutcome)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO predictions (
			id, match_id, predicted_outcome, confidence_score, ensemble_breakdown,
			status, alternate_outcome, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (match_id) DO NOTHING
	`, p.ID, p.MatchID, p.PredictedOutcome, p.ConfidenceScore, p.EnsembleBreakdown,
		p.Status, alternate, p.CreatedAt)
	if err != nil {
		return false, wrapMatch("InsertPredictionIfAbsent", p.MatchID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapMatch("InsertPredictionIfAbsent", p.MatchID, err)
	}
	return affected == 1, nil
}

// ReconcilePrediction fills the feedback fields of a match's prediction. Only
// the reconciliation step writes these columns.
func (db *DB) ReconcilePrediction(ctx context.Context, matchID string, actual models.Outcome, wasCorrect bool, calibrationError float64, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE predictions
		SET actual_outcome = $1, was_correct = $2, calibration_error = $3, updated_at = $4
		WHERE match_id = $5
	`, actual, wasCorrect, calibrationError, now, matchID)
	if err != nil {
		return wrapMatch("ReconcilePrediction", matchID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapMatch("ReconcilePrediction", matchID, err)
	}
	if affected == 0 {
		return wrapMatch("ReconcilePrediction", matchID, sql.ErrNoRows)
	}
	return nil
}

// PredictionResults returns the number of reconciled predictions and how many
// were correct among the given matches.
func (db *DB) PredictionResults(ctx context.Context, matchIDs []string) (total, correct int, err error) {
	if len(matchIDs) == 0 {
		return 0, 0, nil
	}
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE was_correct)
		FROM predictions
		WHERE match_id = ANY($1) AND was_correct IS NOT NULL
	`, pq.Array(matchIDs)).Scan(&total, &correct)
	if err != nil {
		return 0, 0, wrap("PredictionResults", err)
	}
	return total, correct, nil
}
