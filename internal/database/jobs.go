package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/winmix/engine/models"
)

const jobColumns = `id, job_name, job_type, cron_schedule, enabled,
	last_run_at, next_run_at, config`

func scanJob(row interface{ Scan(...any) error }) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	var lastRun, nextRun sql.NullTime
	var config []byte

	err := row.Scan(&j.ID, &j.JobName, &j.JobType, &j.CronSchedule, &j.Enabled,
		&lastRun, &nextRun, &config)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		j.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		j.NextRunAt = &t
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &j.Config); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

// GetJob retrieves a scheduled job by id. Returns (nil, nil) when not found.
func (db *DB) GetJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE id = $1
	`, id)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapJob("GetJob", id, err)
	}
	return j, nil
}

func (db *DB) queryJobs(ctx context.Context, op, query string, args ...any) ([]models.ScheduledJob, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var jobs []models.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, wrap(op, rows.Err())
}

// ListJobs returns all scheduled jobs.
func (db *DB) ListJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	return db.queryJobs(ctx, "ListJobs", `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		ORDER BY job_name
	`)
}

// DueJobs returns enabled jobs whose next run is unset or has passed.
func (db *DB) DueJobs(ctx context.Context, now time.Time) ([]models.ScheduledJob, error) {
	return db.queryJobs(ctx, "DueJobs", `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY job_name
	`, now)
}

// CreateJob inserts a new scheduled job.
func (db *DB) CreateJob(ctx context.Context, j *models.ScheduledJob) error {
	config, err := json.Marshal(j.Config)
	if err != nil {
		return wrapJob("CreateJob", j.ID, err)
	}
	if len(j.Config) == 0 {
		config = []byte(`{}`)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, job_name, job_type, cron_schedule, enabled, next_run_at, config, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, j.ID, j.JobName, j.JobType, j.CronSchedule, j.Enabled, j.NextRunAt, config)
	return wrapJob("CreateJob", j.ID, err)
}

// ClaimJobRun atomically inserts a running execution log for the job unless
// one already exists. This is the run-once guard: the conditional insert plus
// the partial unique index on running logs close the check-then-insert race
// window. A forced claim goes through anyway: any lingering running log is
// closed as superseded first, which keeps the one-running-row invariant while
// letting operators recover a stuck job.
func (db *DB) ClaimJobRun(ctx context.Context, jobID string, startedAt time.Time, force bool) (*models.JobExecutionLog, error) {
	logID := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapJob("ClaimJobRun", jobID, err)
	}
	defer tx.Rollback()

	if force {
		_, err := tx.ExecContext(ctx, `
			UPDATE job_execution_logs
			SET status = $1, completed_at = $2, error_message = 'superseded by forced run'
			WHERE job_id = $3 AND status = $4
		`, models.ExecutionError, startedAt, jobID, models.ExecutionRunning)
		if err != nil {
			return nil, wrapJob("ClaimJobRun", jobID, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO job_execution_logs (id, job_id, status, started_at)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM job_execution_logs WHERE job_id = $2 AND status = $3
		)
	`, logID, jobID, models.ExecutionRunning, startedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, &models.JobAlreadyRunningError{JobID: jobID}
		}
		return nil, wrapJob("ClaimJobRun", jobID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, wrapJob("ClaimJobRun", jobID, err)
	}
	if affected == 0 {
		// A concurrent claim won between the supersede and the insert.
		return nil, &models.JobAlreadyRunningError{JobID: jobID}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapJob("ClaimJobRun", jobID, err)
	}

	return &models.JobExecutionLog{
		ID:        logID,
		JobID:     jobID,
		Status:    models.ExecutionRunning,
		StartedAt: startedAt,
	}, nil
}

// CompleteJobRun writes the terminal state of an execution log.
func (db *DB) CompleteJobRun(ctx context.Context, logID string, status models.JobExecutionStatus, completedAt time.Time, durationMs int64, records int, errMsg, errStack *string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE job_execution_logs
		SET status = $1, completed_at = $2, duration_ms = $3, records_processed = $4,
			error_message = $5, error_stack = $6
		WHERE id = $7
	`, status, completedAt, durationMs, records, errMsg, errStack, logID)
	return wrap("CompleteJobRun", err)
}

// UpdateJobAfterRun stores last/next run times after a completed execution.
// nextRun must be nil when the job was disabled in the interim.
func (db *DB) UpdateJobAfterRun(ctx context.Context, jobID string, lastRun time.Time, nextRun *time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET last_run_at = $1, next_run_at = $2, updated_at = NOW()
		WHERE id = $3
	`, lastRun, nextRun, jobID)
	return wrapJob("UpdateJobAfterRun", jobID, err)
}

// SetJobEnabled toggles a job. Disabling always clears next_run_at to keep
// the invariant that a disabled job has no scheduled run.
func (db *DB) SetJobEnabled(ctx context.Context, jobID string, enabled bool, nextRun *time.Time) error {
	if !enabled {
		nextRun = nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET enabled = $1, next_run_at = $2, updated_at = NOW()
		WHERE id = $3
	`, enabled, nextRun, jobID)
	return wrapJob("SetJobEnabled", jobID, err)
}

// JobLogs returns the most recent execution logs for a job.
func (db *DB) JobLogs(ctx context.Context, jobID string, limit int) ([]models.JobExecutionLog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, job_id, status, started_at, completed_at, duration_ms,
			records_processed, error_message, error_stack
		FROM job_execution_logs
		WHERE job_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, wrapJob("JobLogs", jobID, err)
	}
	defer rows.Close()

	var logs []models.JobExecutionLog
	for rows.Next() {
		var l models.JobExecutionLog
		var completed sql.NullTime
		var duration sql.NullInt64
		var records sql.NullInt64
		var errMsg, errStack sql.NullString
		if err := rows.Scan(&l.ID, &l.JobID, &l.Status, &l.StartedAt, &completed,
			&duration, &records, &errMsg, &errStack); err != nil {
			return nil, wrapJob("JobLogs", jobID, err)
		}
		if completed.Valid {
			t := completed.Time
			l.CompletedAt = &t
		}
		if duration.Valid {
			d := duration.Int64
			l.DurationMs = &d
		}
		if records.Valid {
			r := int(records.Int64)
			l.RecordsProcessed = &r
		}
		if errMsg.Valid {
			l.ErrorMessage = &errMsg.String
		}
		if errStack.Valid {
			l.ErrorStack = &errStack.String
		}
		logs = append(logs, l)
	}
	return logs, wrapJob("JobLogs", jobID, rows.Err())
}

// DeleteLogsBefore removes execution logs started before the cutoff and
// returns how many were deleted.
func (db *DB) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM job_execution_logs WHERE started_at < $1
	`, cutoff)
	if err != nil {
		return 0, wrap("DeleteLogsBefore", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("DeleteLogsBefore", err)
	}
	return int(affected), nil
}
