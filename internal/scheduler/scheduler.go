// Package scheduler drives cron-scheduled jobs: a periodic sweep picks up due
// jobs, the trigger path serves manual runs, and both funnel through a single
// execution protocol with an atomic run-once claim.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/winmix/engine/models"
)

// ErrJobNotFound is returned for triggers and toggles of unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Store is the persistence surface the scheduler needs.
type Store interface {
	GetJob(ctx context.Context, id string) (*models.ScheduledJob, error)
	DueJobs(ctx context.Context, now time.Time) ([]models.ScheduledJob, error)
	ClaimJobRun(ctx context.Context, jobID string, startedAt time.Time, force bool) (*models.JobExecutionLog, error)
	CompleteJobRun(ctx context.Context, logID string, status models.JobExecutionStatus, completedAt time.Time, durationMs int64, records int, errMsg, errStack *string) error
	UpdateJobAfterRun(ctx context.Context, jobID string, lastRun time.Time, nextRun *time.Time) error
	SetJobEnabled(ctx context.Context, jobID string, enabled bool, nextRun *time.Time) error

	UnpredictedMatchesBetween(ctx context.Context, from, to time.Time) ([]models.Match, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error)

	ListPatternTemplates(ctx context.Context) ([]models.PatternTemplate, error)
	DetectionMatchIDs(ctx context.Context, templateID string) ([]string, error)
	PredictionResults(ctx context.Context, matchIDs []string) (total, correct int, err error)
	UpdatePatternAccuracy(ctx context.Context, templateID string, total, correct int, rate float64, at time.Time) error
	DeactivatePatternTemplate(ctx context.Context, templateID string) error

	InsertAudit(ctx context.Context, rec *models.AuditRecord) error
}

// Runner performs the per-match analysis a prediction job fans out to.
type Runner interface {
	Analyze(ctx context.Context, matchID string) error
}

// Notifier is told about failed job runs.
type Notifier interface {
	JobFailed(ctx context.Context, job *models.ScheduledJob, runErr error)
}

// Options configures a Scheduler.
type Options struct {
	SweepInterval    time.Duration
	JobTimeout       time.Duration
	MatchCallTimeout time.Duration
	MatchParallelism int
}

func (o Options) withDefaults() Options {
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Minute
	}
	if o.JobTimeout == 0 {
		o.JobTimeout = 10 * time.Minute
	}
	if o.MatchCallTimeout == 0 {
		o.MatchCallTimeout = 30 * time.Second
	}
	if o.MatchParallelism == 0 {
		o.MatchParallelism = 4
	}
	return o
}

// Scheduler executes scheduled jobs and serves manual triggers and toggles.
type Scheduler struct {
	store    Store
	runner   Runner
	notifier Notifier
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New builds a scheduler. notifier may be nil.
func New(store Store, runner Runner, notifier Notifier, opts Options) *Scheduler {
	return &Scheduler{
		store:    store,
		runner:   runner,
		notifier: notifier,
		opts:     opts.withDefaults(),
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

// Run sweeps for due jobs until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	s.log.Info().Dur("sweep_interval", s.opts.SweepInterval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs every due job sequentially. Per-job rejections (already running,
// disabled since the query) are expected under concurrency and only logged.
func (s *Scheduler) sweep(ctx context.Context) {
	jobs, err := s.store.DueJobs(ctx, s.now().UTC())
	if err != nil {
		s.log.Error().Err(err).Msg("due job query failed")
		return
	}

	for i := range jobs {
		job := jobs[i]
		if _, err := s.runJob(ctx, &job, false, models.System); err != nil {
			var alreadyRunning *models.JobAlreadyRunningError
			if errors.As(err, &alreadyRunning) {
				s.log.Debug().Str("job_id", job.ID).Msg("skipped, still running")
				continue
			}
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("job run failed to start")
		}
	}
}

// Trigger runs one job on demand. force bypasses both gates: a disabled job
// runs anyway, and a lingering running claim is superseded instead of
// rejecting the trigger. The call is synchronous: the returned log carries
// the terminal status of the run.
func (s *Scheduler) Trigger(ctx context.Context, jobID string, force bool, actor models.Actor) (*models.JobExecutionLog, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !job.Enabled && !force {
		return nil, &models.JobDisabledError{JobID: jobID}
	}
	return s.runJob(ctx, job, force, actor)
}

// SetEnabled toggles a job. Enabling schedules the next run from now;
// disabling clears it and cancels an in-flight run of the job.
func (s *Scheduler) SetEnabled(ctx context.Context, jobID string, enabled bool, actor models.Actor) (*models.ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	var nextRun *time.Time
	if enabled {
		schedule, err := cron.ParseStandard(job.CronSchedule)
		if err != nil {
			// Enabled but unschedulable until the expression is fixed.
			s.log.Error().Err(&models.InvalidCronExpressionError{
				JobID: jobID, Expression: job.CronSchedule, Err: err,
			}).Msg("job enabled without a next run")
		} else {
			n := schedule.Next(s.now().UTC())
			nextRun = &n
		}
	} else {
		s.cancelRun(jobID)
	}

	if err := s.store.SetJobEnabled(ctx, jobID, enabled, nextRun); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "job.toggle", job.ID, map[string]any{
		"job_name": job.JobName,
		"enabled":  enabled,
	})

	job.Enabled = enabled
	job.NextRunAt = nextRun
	return job, nil
}

// runJob executes the shared run protocol: claim, execute with a bounded and
// cancelable context, record the outcome, reschedule from completion time.
// The claim is the only gate; whoever loses it gets a JobAlreadyRunningError.
func (s *Scheduler) runJob(ctx context.Context, job *models.ScheduledJob, force bool, actor models.Actor) (*models.JobExecutionLog, error) {
	started := s.now().UTC()
	logRow, err := s.store.ClaimJobRun(ctx, job.ID, started, force)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	s.trackRun(job.ID, cancel)
	defer s.untrackRun(job.ID)

	records, runErr := s.execute(runCtx, job)
	cancel()

	completed := s.now().UTC()
	durationMs := completed.Sub(started).Milliseconds()

	// Bookkeeping must survive cancellation of the run.
	bookCtx, bookCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer bookCancel()

	status := models.ExecutionSuccess
	var errMsg, errStack *string
	if runErr != nil {
		status = models.ExecutionError
		msg := runErr.Error()
		errMsg = &msg
		stack := errorChain(runErr)
		errStack = &stack
	}
	if err := s.store.CompleteJobRun(bookCtx, logRow.ID, status, completed, durationMs, records, errMsg, errStack); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("execution log update failed")
	}

	nextRun := s.nextRun(bookCtx, job, completed)
	if err := s.store.UpdateJobAfterRun(bookCtx, job.ID, started, nextRun); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("job reschedule failed")
	}

	if runErr != nil {
		s.log.Error().Err(runErr).
			Str("job_id", job.ID).
			Str("job_name", job.JobName).
			Int64("duration_ms", durationMs).
			Msg("job run failed")
		if s.notifier != nil {
			s.notifier.JobFailed(bookCtx, job, runErr)
		}
	} else {
		s.log.Info().
			Str("job_id", job.ID).
			Str("job_name", job.JobName).
			Int("records", records).
			Int64("duration_ms", durationMs).
			Msg("job run completed")
	}

	s.audit(bookCtx, actor, "job.run", job.ID, map[string]any{
		"job_name":          job.JobName,
		"status":            string(status),
		"records_processed": records,
		"duration_ms":       durationMs,
	})

	logRow.Status = status
	logRow.CompletedAt = &completed
	logRow.DurationMs = &durationMs
	logRow.RecordsProcessed = &records
	logRow.ErrorMessage = errMsg
	logRow.ErrorStack = errStack
	return logRow, nil
}

// errorChain renders an error and its wrapped causes, one per line.
func errorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\ncaused by: ")
		}
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

// nextRun computes the run after a completion. Error runs reschedule like
// successful ones; a broken cron expression or an interim disable leaves the
// job without a next run.
func (s *Scheduler) nextRun(ctx context.Context, job *models.ScheduledJob, completed time.Time) *time.Time {
	schedule, err := cron.ParseStandard(job.CronSchedule)
	if err != nil {
		s.log.Error().Err(&models.InvalidCronExpressionError{
			JobID: job.ID, Expression: job.CronSchedule, Err: err,
		}).Msg("job paused")
		return nil
	}

	fresh, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("job refresh failed")
		return nil
	}
	if fresh == nil || !fresh.Enabled {
		return nil
	}

	n := schedule.Next(completed)
	return &n
}

func (s *Scheduler) trackRun(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[string]context.CancelFunc)
	}
	s.running[jobID] = cancel
}

func (s *Scheduler) untrackRun(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

func (s *Scheduler) cancelRun(jobID string) {
	s.mu.Lock()
	cancel := s.running[jobID]
	s.mu.Unlock()
	if cancel != nil {
		s.log.Info().Str("job_id", jobID).Msg("canceling in-flight run")
		cancel()
	}
}

func (s *Scheduler) audit(ctx context.Context, actor models.Actor, action, jobID string, details map[string]any) {
	err := s.store.InsertAudit(ctx, &models.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: "scheduled_job",
		ResourceID:   jobID,
		Details:      details,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}
