package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/winmix/engine/models"
)

const matchColumns = `id, home_team_id, away_team_id, home_score, away_score,
	home_score_ht, away_score_ht, match_date, status`

func scanMatch(row interface{ Scan(...any) error }) (*models.Match, error) {
	var m models.Match
	var homeScore, awayScore, homeHT, awayHT sql.NullInt64
	err := row.Scan(
		&m.ID, &m.HomeTeamID, &m.AwayTeamID, &homeScore, &awayScore,
		&homeHT, &awayHT, &m.MatchDate, &m.Status,
	)
	if err != nil {
		return nil, err
	}
	m.HomeScore = nullableInt(homeScore)
	m.AwayScore = nullableInt(awayScore)
	m.HomeScoreHT = nullableInt(homeHT)
	m.AwayScoreHT = nullableInt(awayHT)
	return &m, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// GetMatch retrieves a match by id. Returns (nil, nil) when not found.
func (db *DB) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE id = $1
	`, id)

	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapMatch("GetMatch", id, err)
	}
	return m, nil
}

func (db *DB) queryMatches(ctx context.Context, op, query string, args ...any) ([]models.Match, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		matches = append(matches, *m)
	}
	return matches, wrap(op, rows.Err())
}

// RecentMatches returns a team's finished matches ordered most-recent-first.
func (db *DB) RecentMatches(ctx context.Context, teamID string, limit int) ([]models.Match, error) {
	return db.queryMatches(ctx, "RecentMatches", `
		SELECT `+matchColumns+`
		FROM matches
		WHERE (home_team_id = $1 OR away_team_id = $1) AND status = $2
		ORDER BY match_date DESC
		LIMIT $3
	`, teamID, models.MatchFinished, limit)
}

// HomeMatches returns a team's finished home matches ordered most-recent-first.
func (db *DB) HomeMatches(ctx context.Context, teamID string, limit int) ([]models.Match, error) {
	return db.queryMatches(ctx, "HomeMatches", `
		SELECT `+matchColumns+`
		FROM matches
		WHERE home_team_id = $1 AND status = $2
		ORDER BY match_date DESC
		LIMIT $3
	`, teamID, models.MatchFinished, limit)
}

// HeadToHeadMatches returns finished matches between two teams, either venue,
// ordered most-recent-first.
func (db *DB) HeadToHeadMatches(ctx context.Context, teamA, teamB string, limit int) ([]models.Match, error) {
	return db.queryMatches(ctx, "HeadToHeadMatches", `
		SELECT `+matchColumns+`
		FROM matches
		WHERE ((home_team_id = $1 AND away_team_id = $2)
			OR (home_team_id = $2 AND away_team_id = $1))
			AND status = $3
		ORDER BY match_date DESC
		LIMIT $4
	`, teamA, teamB, models.MatchFinished, limit)
}

// UnpredictedMatchesBetween returns matches scheduled inside [from, to] that
// have no prediction row yet.
func (db *DB) UnpredictedMatchesBetween(ctx context.Context, from, to time.Time) ([]models.Match, error) {
	return db.queryMatches(ctx, "UnpredictedMatchesBetween", `
		SELECT `+matchColumns+`
		FROM matches
		WHERE status = $1 AND match_date >= $2 AND match_date <= $3
			AND NOT EXISTS (SELECT 1 FROM predictions p WHERE p.match_id = matches.id)
		ORDER BY match_date ASC
	`, models.MatchScheduled, from, to)
}
