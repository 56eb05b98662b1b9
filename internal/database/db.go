// Package database is the persistence collaborator: typed read/write
// operations over Postgres for the entities the engine reads and writes.
// Every method wraps failures in models.PersistenceError so callers can abort
// just the current job or pipeline invocation.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/winmix/engine/models"
)

// DB represents a database connection
type DB struct {
	*sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection
func New(params ConnectionParams) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Check connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			home_team_id TEXT NOT NULL,
			away_team_id TEXT NOT NULL,
			home_score INT,
			away_score INT,
			home_score_ht INT,
			away_score_ht INT,
			match_date TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL UNIQUE,
			predicted_outcome TEXT NOT NULL,
			confidence_score DOUBLE PRECISION NOT NULL,
			ensemble_breakdown JSONB NOT NULL,
			status TEXT NOT NULL,
			alternate_outcome TEXT,
			actual_outcome TEXT,
			was_correct BOOLEAN,
			calibration_error DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS team_patterns (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL,
			pattern_type TEXT NOT NULL,
			confidence INT NOT NULL,
			strength INT NOT NULL,
			prediction_impact DOUBLE PRECISION NOT NULL,
			historical_accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}',
			valid_from TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS team_patterns_active_idx
			ON team_patterns (team_id, pattern_type) WHERE valid_until IS NULL`,
		`CREATE TABLE IF NOT EXISTS pattern_templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			accuracy_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_predictions INT NOT NULL DEFAULT 0,
			correct_predictions INT NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS detected_patterns (
			id BIGSERIAL PRIMARY KEY,
			match_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			confidence_contribution DOUBLE PRECISION NOT NULL,
			pattern_data JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			job_type TEXT NOT NULL,
			cron_schedule TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_run_at TIMESTAMPTZ,
			next_run_at TIMESTAMPTZ,
			config JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS job_execution_logs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			duration_ms BIGINT,
			records_processed INT,
			error_message TEXT,
			error_stack TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS job_execution_logs_running_idx
			ON job_execution_logs (job_id) WHERE status = 'running'`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			actor_email TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			details JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	return nil
}

// wrap converts a raw database error into a PersistenceError for the given
// operation. nil errors pass through.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &models.PersistenceError{Op: op, Err: err}
}

// wrapMatch is wrap with a match id attached.
func wrapMatch(op, matchID string, err error) error {
	if err == nil {
		return nil
	}
	return &models.PersistenceError{Op: op, MatchID: matchID, Err: err}
}

// wrapJob is wrap with a job id attached.
func wrapJob(op, jobID string, err error) error {
	if err == nil {
		return nil
	}
	return &models.PersistenceError{Op: op, JobID: jobID, Err: err}
}
