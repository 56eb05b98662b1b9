package models

import "fmt"

// InsufficientInputError is returned by the ensemble when no sub-model
// prediction is present.
type InsufficientInputError struct{}

func (e *InsufficientInputError) Error() string {
	return "at least one sub-model prediction must be provided"
}

// InvalidConfidenceError is returned when a sub-model reports a confidence
// outside [0, 1].
type InvalidConfidenceError struct {
	Model      string
	Confidence float64
}

func (e *InvalidConfidenceError) Error() string {
	return fmt.Sprintf("%s confidence must be in range [0, 1], got %v", e.Model, e.Confidence)
}

// InvalidOutcomeError is returned when a sub-model prediction does not map to
// home, draw or away.
type InvalidOutcomeError struct {
	Outcome string
}

func (e *InvalidOutcomeError) Error() string {
	return fmt.Sprintf("invalid outcome: %q", e.Outcome)
}

// InvalidCronExpressionError pauses a single job; it never crashes the
// scheduler.
type InvalidCronExpressionError struct {
	JobID      string
	Expression string
	Err        error
}

func (e *InvalidCronExpressionError) Error() string {
	return fmt.Sprintf("invalid cron expression %q for job %s: %v", e.Expression, e.JobID, e.Err)
}

func (e *InvalidCronExpressionError) Unwrap() error { return e.Err }

// JobAlreadyRunningError rejects a trigger while a running execution log
// exists for the job. Safe to retry later.
type JobAlreadyRunningError struct {
	JobID string
}

func (e *JobAlreadyRunningError) Error() string {
	return fmt.Sprintf("job %s is already running", e.JobID)
}

// JobDisabledError rejects a non-forced trigger of a disabled job.
type JobDisabledError struct {
	JobID string
}

func (e *JobDisabledError) Error() string {
	return fmt.Sprintf("job %s is disabled", e.JobID)
}

// DownstreamCallError is an isolated per-match failure inside a prediction job
// run. It is logged and counted, never raised to the job's caller.
type DownstreamCallError struct {
	MatchID    string
	StatusCode int
	Err        error
}

func (e *DownstreamCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("downstream call for match %s: status %d", e.MatchID, e.StatusCode)
	}
	return fmt.Sprintf("downstream call for match %s: %v", e.MatchID, e.Err)
}

func (e *DownstreamCallError) Unwrap() error { return e.Err }

// PersistenceError aborts only the current operation and carries enough
// context for the job log.
type PersistenceError struct {
	Op      string
	JobID   string
	MatchID string
	Err     error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("persistence failure in %s", e.Op)
	if e.JobID != "" {
		msg += fmt.Sprintf(" (job %s)", e.JobID)
	}
	if e.MatchID != "" {
		msg += fmt.Sprintf(" (match %s)", e.MatchID)
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
