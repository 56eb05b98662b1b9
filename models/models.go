package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	MatchScheduled MatchStatus = "scheduled"
	MatchFinished  MatchStatus = "finished"
)

// Outcome is a match result from the home team's perspective.
type Outcome string

const (
	OutcomeHomeWin Outcome = "home_win"
	OutcomeDraw    Outcome = "draw"
	OutcomeAwayWin Outcome = "away_win"
)

// Match represents a single fixture. Score fields are nil until the
// corresponding period has been recorded.
type Match struct {
	ID          string      `json:"id"`
	HomeTeamID  string      `json:"home_team_id"`
	AwayTeamID  string      `json:"away_team_id"`
	HomeScore   *int        `json:"home_score"`
	AwayScore   *int        `json:"away_score"`
	HomeScoreHT *int        `json:"home_score_ht"`
	AwayScoreHT *int        `json:"away_score_ht"`
	MatchDate   time.Time   `json:"match_date"`
	Status      MatchStatus `json:"status"`
}

// PatternType enumerates the detectable team patterns.
type PatternType string

const (
	PatternWinningStreak    PatternType = "winning_streak"
	PatternHomeDominance    PatternType = "home_dominance"
	PatternHighScoringTrend PatternType = "high_scoring_trend"
	PatternFormSurge        PatternType = "form_surge"
	PatternCleanSheetStreak PatternType = "clean_sheet_streak"
	PatternBTTSStreak       PatternType = "btts_streak"
)

// TeamPatternRecord is a persisted pattern detection for a team. At most one
// record per (team, pattern type) has a nil ValidUntil.
type TeamPatternRecord struct {
	ID                 string         `json:"id"`
	TeamID             string         `json:"team_id"`
	PatternType        PatternType    `json:"pattern_type"`
	Confidence         int            `json:"confidence"` // 0-100
	Strength           int            `json:"strength"`   // 0-100
	PredictionImpact   float64        `json:"prediction_impact"`
	HistoricalAccuracy float64        `json:"historical_accuracy"`
	Metadata           map[string]any `json:"metadata"`
	ValidFrom          time.Time      `json:"valid_from"`
	ValidUntil         *time.Time     `json:"valid_until"`
}

// PredictionStatus describes how usable a prediction is.
type PredictionStatus string

const (
	PredictionActive    PredictionStatus = "active"
	PredictionUncertain PredictionStatus = "uncertain"
	PredictionBlocked   PredictionStatus = "blocked"
)

// Prediction is the single persisted prediction for a match. The reconciliation
// step is the only writer of ActualOutcome, WasCorrect and CalibrationError.
type Prediction struct {
	ID                string           `json:"id"`
	MatchID           string           `json:"match_id"`
	PredictedOutcome  Outcome          `json:"predicted_outcome"`
	ConfidenceScore   float64          `json:"confidence_score"` // 0-100
	EnsembleBreakdown json.RawMessage  `json:"ensemble_breakdown"`
	Status            PredictionStatus `json:"status"`
	AlternateOutcome  *Outcome         `json:"alternate_outcome,omitempty"`
	ActualOutcome     *Outcome         `json:"actual_outcome,omitempty"`
	WasCorrect        *bool            `json:"was_correct,omitempty"`
	CalibrationError  *float64         `json:"calibration_error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// JobType enumerates the scheduled job variants.
type JobType string

const (
	JobPrediction  JobType = "prediction"
	JobMaintenance JobType = "maintenance"
	JobAggregation JobType = "aggregation"
	JobDataImport  JobType = "data_import"
)

// ScheduledJob is a cron-driven unit of work. NextRunAt is always nil while
// the job is disabled.
type ScheduledJob struct {
	ID           string         `json:"id"`
	JobName      string         `json:"job_name"`
	JobType      JobType        `json:"job_type"`
	CronSchedule string         `json:"cron_schedule"`
	Enabled      bool           `json:"enabled"`
	LastRunAt    *time.Time     `json:"last_run_at"`
	NextRunAt    *time.Time     `json:"next_run_at"`
	Config       map[string]any `json:"config"`
}

// ConfigFloat reads a positive numeric config value, accepting JSON numbers
// and numeric strings, falling back when absent or unusable.
func (j *ScheduledJob) ConfigFloat(key string, fallback float64) float64 {
	raw, ok := j.Config[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// JobExecutionStatus is the state of one job run.
type JobExecutionStatus string

const (
	ExecutionRunning JobExecutionStatus = "running"
	ExecutionSuccess JobExecutionStatus = "success"
	ExecutionError   JobExecutionStatus = "error"
)

// JobExecutionLog records a single run of a scheduled job. At most one row per
// job is in the running state at any instant.
type JobExecutionLog struct {
	ID               string             `json:"id"`
	JobID            string             `json:"job_id"`
	Status           JobExecutionStatus `json:"status"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      *time.Time         `json:"completed_at"`
	DurationMs       *int64             `json:"duration_ms"`
	RecordsProcessed *int               `json:"records_processed"`
	ErrorMessage     *string            `json:"error_message"`
	ErrorStack       *string            `json:"error_stack"`
}

// Actor is an already-authenticated caller identity. The engine never
// authenticates; it only attributes mutations.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// System is the actor attached to scheduler-initiated mutations.
var System = Actor{ID: "system", Email: "scheduler@winmix", Role: "system"}

// AuditRecord is emitted on every mutating action.
type AuditRecord struct {
	ID           string         `json:"id"`
	Actor        Actor          `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PatternTemplate is the aggregation target for pattern accuracy tracking.
type PatternTemplate struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Active             bool      `json:"active"`
	AccuracyRate       float64   `json:"accuracy_rate"`
	TotalPredictions   int       `json:"total_predictions"`
	CorrectPredictions int       `json:"correct_predictions"`
	LastUpdated        time.Time `json:"last_updated"`
}

// DetectedPattern links a pattern detection to the match it was made for.
type DetectedPattern struct {
	ID                     int64          `json:"id"`
	MatchID                string         `json:"match_id"`
	TemplateID             string         `json:"template_id"`
	ConfidenceContribution float64        `json:"confidence_contribution"`
	PatternData            map[string]any `json:"pattern_data"`
}
