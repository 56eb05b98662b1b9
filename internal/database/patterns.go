package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/winmix/engine/models"
)

// ActiveTeamPatterns returns the team's pattern records with valid_until null.
func (db *DB) ActiveTeamPatterns(ctx context.Context, teamID string) ([]models.TeamPatternRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, team_id, pattern_type, confidence, strength, prediction_impact,
			historical_accuracy, metadata, valid_from, valid_until
		FROM team_patterns
		WHERE team_id = $1 AND valid_until IS NULL
	`, teamID)
	if err != nil {
		return nil, wrap("ActiveTeamPatterns", err)
	}
	defer rows.Close()

	var records []models.TeamPatternRecord
	for rows.Next() {
		var r models.TeamPatternRecord
		var metadata []byte
		var validUntil sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.TeamID, &r.PatternType, &r.Confidence, &r.Strength,
			&r.PredictionImpact, &r.HistoricalAccuracy, &metadata, &r.ValidFrom, &validUntil,
		); err != nil {
			return nil, wrap("ActiveTeamPatterns", err)
		}
		if validUntil.Valid {
			t := validUntil.Time
			r.ValidUntil = &t
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, wrap("ActiveTeamPatterns", err)
			}
		}
		records = append(records, r)
	}
	return records, wrap("ActiveTeamPatterns", rows.Err())
}

// ExpireTeamPattern closes an active pattern record.
func (db *DB) ExpireTeamPattern(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE team_patterns
		SET valid_until = $1
		WHERE id = $2 AND valid_until IS NULL
	`, at, id)
	return wrap("ExpireTeamPattern", err)
}

// InsertTeamPattern opens a new active pattern record.
func (db *DB) InsertTeamPattern(ctx context.Context, r *models.TeamPatternRecord) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return wrap("InsertTeamPattern", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO team_patterns (
			id, team_id, pattern_type, confidence, strength, prediction_impact,
			historical_accuracy, metadata, valid_from
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.TeamID, r.PatternType, r.Confidence, r.Strength,
		r.PredictionImpact, r.HistoricalAccuracy, metadata, r.ValidFrom)
	return wrap("InsertTeamPattern", err)
}

// RefreshTeamPattern updates the scoring of an active record while preserving
// valid_from and historical_accuracy.
func (db *DB) RefreshTeamPattern(ctx context.Context, id string, confidence, strength int, impact float64, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return wrap("RefreshTeamPattern", err)
	}
	_, err = db.ExecContext(ctx, `
		UPDATE team_patterns
		SET confidence = $1, strength = $2, prediction_impact = $3, metadata = $4
		WHERE id = $5 AND valid_until IS NULL
	`, confidence, strength, impact, raw, id)
	return wrap("RefreshTeamPattern", err)
}

// UpsertPatternTemplate finds a template by name, creating it when missing,
// and returns its id.
func (db *DB) UpsertPatternTemplate(ctx context.Context, name string) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM pattern_templates WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", wrap("UpsertPatternTemplate", err)
	}

	id = uuid.NewString()
	err = db.QueryRowContext(ctx, `
		INSERT INTO pattern_templates (id, name, last_updated)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, id, name).Scan(&id)
	return id, wrap("UpsertPatternTemplate", err)
}

// InsertDetectedPattern links a detection to the match it was made for.
func (db *DB) InsertDetectedPattern(ctx context.Context, d *models.DetectedPattern) error {
	raw, err := json.Marshal(d.PatternData)
	if err != nil {
		return wrapMatch("InsertDetectedPattern", d.MatchID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO detected_patterns (match_id, template_id, confidence_contribution, pattern_data)
		VALUES ($1, $2, $3, $4)
	`, d.MatchID, d.TemplateID, d.ConfidenceContribution, raw)
	return wrapMatch("InsertDetectedPattern", d.MatchID, err)
}

// ListPatternTemplates returns all templates.
func (db *DB) ListPatternTemplates(ctx context.Context) ([]models.PatternTemplate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, active, accuracy_rate, total_predictions, correct_predictions, last_updated
		FROM pattern_templates
		ORDER BY name
	`)
	if err != nil {
		return nil, wrap("ListPatternTemplates", err)
	}
	defer rows.Close()

	var templates []models.PatternTemplate
	for rows.Next() {
		var t models.PatternTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.AccuracyRate,
			&t.TotalPredictions, &t.CorrectPredictions, &t.LastUpdated); err != nil {
			return nil, wrap("ListPatternTemplates", err)
		}
		templates = append(templates, t)
	}
	return templates, wrap("ListPatternTemplates", rows.Err())
}

// DetectionMatchIDs returns the distinct matches carrying a detection of the
// template.
func (db *DB) DetectionMatchIDs(ctx context.Context, templateID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT match_id FROM detected_patterns WHERE template_id = $1
	`, templateID)
	if err != nil {
		return nil, wrap("DetectionMatchIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("DetectionMatchIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("DetectionMatchIDs", rows.Err())
}

// UpdatePatternAccuracy stores recomputed accuracy counters for a template.
func (db *DB) UpdatePatternAccuracy(ctx context.Context, templateID string, total, correct int, rate float64, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE pattern_templates
		SET total_predictions = $1, correct_predictions = $2, accuracy_rate = $3, last_updated = $4
		WHERE id = $5
	`, total, correct, rate, at, templateID)
	return wrap("UpdatePatternAccuracy", err)
}

// DeactivatePatternTemplate marks a template inactive.
func (db *DB) DeactivatePatternTemplate(ctx context.Context, templateID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE pattern_templates SET active = FALSE WHERE id = $1
	`, templateID)
	return wrap("DeactivatePatternTemplate", err)
}
