package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/winmix/engine/models"
)

type jobUpdate struct {
	lastRun time.Time
	nextRun *time.Time
}

type schedStore struct {
	mu           sync.Mutex
	jobs         map[string]*models.ScheduledJob
	claimErr     error
	running      map[string]bool
	completions  []models.JobExecutionLog
	updates      map[string]jobUpdate
	enabledCalls []bool

	matches       []models.Match
	predicted     map[string]bool
	matchWindow   [2]time.Time
	superseded    []string
	deletedBefore *time.Time
	pruned        int

	templates   []models.PatternTemplate
	detections  map[string][]string
	results     func(matchIDs []string) (int, int, error)
	accuracy    map[string][3]float64 // total, correct, rate
	deactivated []string

	audits []models.AuditRecord
}

func newSchedStore() *schedStore {
	return &schedStore{
		jobs:       map[string]*models.ScheduledJob{},
		running:    map[string]bool{},
		predicted:  map[string]bool{},
		updates:    map[string]jobUpdate{},
		detections: map[string][]string{},
		accuracy:   map[string][3]float64{},
		results:    func([]string) (int, int, error) { return 0, 0, nil },
	}
}

func (s *schedStore) GetJob(_ context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *j
	return &copied, nil
}

func (s *schedStore) DueJobs(_ context.Context, now time.Time) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.ScheduledJob
	for _, j := range s.jobs {
		if j.Enabled && (j.NextRunAt == nil || !j.NextRunAt.After(now)) {
			due = append(due, *j)
		}
	}
	return due, nil
}

func (s *schedStore) ClaimJobRun(_ context.Context, jobID string, startedAt time.Time, force bool) (*models.JobExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if s.running[jobID] {
		if !force {
			return nil, &models.JobAlreadyRunningError{JobID: jobID}
		}
		s.superseded = append(s.superseded, jobID)
		delete(s.running, jobID)
	}
	s.running[jobID] = true
	return &models.JobExecutionLog{
		ID:        "log-" + jobID,
		JobID:     jobID,
		Status:    models.ExecutionRunning,
		StartedAt: startedAt,
	}, nil
}

func (s *schedStore) CompleteJobRun(_ context.Context, logID string, status models.JobExecutionStatus, completedAt time.Time, durationMs int64, records int, errMsg, errStack *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, models.JobExecutionLog{
		ID:               logID,
		Status:           status,
		CompletedAt:      &completedAt,
		DurationMs:       &durationMs,
		RecordsProcessed: &records,
		ErrorMessage:     errMsg,
		ErrorStack:       errStack,
	})
	for id := range s.running {
		if "log-"+id == logID {
			delete(s.running, id)
			break
		}
	}
	return nil
}

func (s *schedStore) UpdateJobAfterRun(_ context.Context, jobID string, lastRun time.Time, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[jobID] = jobUpdate{lastRun: lastRun, nextRun: nextRun}
	if j, ok := s.jobs[jobID]; ok {
		j.LastRunAt = &lastRun
		j.NextRunAt = nextRun
	}
	return nil
}

func (s *schedStore) SetJobEnabled(_ context.Context, jobID string, enabled bool, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabledCalls = append(s.enabledCalls, enabled)
	if j, ok := s.jobs[jobID]; ok {
		j.Enabled = enabled
		j.NextRunAt = nextRun
	}
	return nil
}

func (s *schedStore) UnpredictedMatchesBetween(_ context.Context, from, to time.Time) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchWindow = [2]time.Time{from, to}
	var out []models.Match
	for _, m := range s.matches {
		if !s.predicted[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *schedStore) DeleteLogsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedBefore = &cutoff
	return s.pruned, nil
}

func (s *schedStore) ListPatternTemplates(_ context.Context) ([]models.PatternTemplate, error) {
	return s.templates, nil
}

func (s *schedStore) DetectionMatchIDs(_ context.Context, templateID string) ([]string, error) {
	return s.detections[templateID], nil
}

func (s *schedStore) PredictionResults(_ context.Context, matchIDs []string) (int, int, error) {
	return s.results(matchIDs)
}

func (s *schedStore) UpdatePatternAccuracy(_ context.Context, templateID string, total, correct int, rate float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accuracy[templateID] = [3]float64{float64(total), float64(correct), rate}
	return nil
}

func (s *schedStore) DeactivatePatternTemplate(_ context.Context, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, templateID)
	return nil
}

func (s *schedStore) InsertAudit(_ context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, *rec)
	return nil
}

type fakeRunner struct {
	calls atomic.Int32
	fail  func(matchID string) error
}

func (r *fakeRunner) Analyze(_ context.Context, matchID string) error {
	r.calls.Add(1)
	if r.fail != nil {
		return r.fail(matchID)
	}
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	failures []string
}

func (n *fakeNotifier) JobFailed(_ context.Context, job *models.ScheduledJob, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, job.ID)
}

func predictionJob(id string, enabled bool) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:           id,
		JobName:      "hourly predictions",
		JobType:      models.JobPrediction,
		CronSchedule: "0 * * * *",
		Enabled:      enabled,
	}
}

func newScheduler(store *schedStore, runner Runner, notifier Notifier) *Scheduler {
	s := New(store, runner, notifier, Options{})
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC) }
	return s
}

func TestTriggerRunsPredictionJob(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	store.matches = []models.Match{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}}
	runner := &fakeRunner{}
	s := newScheduler(store, runner, nil)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if logRow.Status != models.ExecutionSuccess {
		t.Errorf("status = %s, want success", logRow.Status)
	}
	if logRow.RecordsProcessed == nil || *logRow.RecordsProcessed != 3 {
		t.Errorf("records = %v, want 3", logRow.RecordsProcessed)
	}
	if runner.calls.Load() != 3 {
		t.Errorf("analyze calls = %d, want 3", runner.calls.Load())
	}

	update, ok := store.updates["j1"]
	if !ok || update.nextRun == nil {
		t.Fatal("expected a rescheduled next run")
	}
	// Completion at 12:30 with an hourly schedule lands on 13:00.
	want := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	if !update.nextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", update.nextRun, want)
	}
}

func TestTriggerRejectsRunningJob(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	store.running["j1"] = true
	s := newScheduler(store, &fakeRunner{}, nil)

	_, err := s.Trigger(context.Background(), "j1", false, models.System)
	var alreadyRunning *models.JobAlreadyRunningError
	if !errors.As(err, &alreadyRunning) {
		t.Fatalf("err = %v, want JobAlreadyRunningError", err)
	}
	if len(store.completions) != 0 {
		t.Error("a rejected trigger must not write a completion")
	}
}

func TestForcedTriggerSupersedesRunningJob(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	store.running["j1"] = true
	runner := &fakeRunner{}
	s := newScheduler(store, runner, nil)

	logRow, err := s.Trigger(context.Background(), "j1", true, models.System)
	if err != nil {
		t.Fatalf("forced Trigger: %v", err)
	}
	if logRow.Status != models.ExecutionSuccess {
		t.Errorf("status = %s, want success", logRow.Status)
	}
	if len(store.superseded) != 1 || store.superseded[0] != "j1" {
		t.Errorf("superseded = %v, want [j1]", store.superseded)
	}
}

func TestPredictionRunSkipsPredictedMatches(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	store.matches = []models.Match{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}}
	store.predicted["m2"] = true
	runner := &fakeRunner{}
	s := newScheduler(store, runner, nil)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if runner.calls.Load() != 2 {
		t.Errorf("analyze calls = %d, want 2", runner.calls.Load())
	}
	if logRow.RecordsProcessed == nil || *logRow.RecordsProcessed != 2 {
		t.Errorf("records = %v, want 2", logRow.RecordsProcessed)
	}
}

func TestPredictionRunUsesConfiguredWindow(t *testing.T) {
	store := newSchedStore()
	job := predictionJob("j1", true)
	job.Config = map[string]any{"prediction_window_hours": float64(6)}
	store.jobs["j1"] = job
	s := newScheduler(store, &fakeRunner{}, nil)

	if _, err := s.Trigger(context.Background(), "j1", false, models.System); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if got := store.matchWindow[1].Sub(store.matchWindow[0]); got != 6*time.Hour {
		t.Errorf("window = %v, want 6h", got)
	}
}

func TestTriggerDisabledJob(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", false)
	runner := &fakeRunner{}
	s := newScheduler(store, runner, nil)

	_, err := s.Trigger(context.Background(), "j1", false, models.System)
	var disabled *models.JobDisabledError
	if !errors.As(err, &disabled) {
		t.Fatalf("err = %v, want JobDisabledError", err)
	}

	// force runs it anyway, but the interim disabled state keeps next_run_at
	// cleared.
	logRow, err := s.Trigger(context.Background(), "j1", true, models.System)
	if err != nil {
		t.Fatalf("forced Trigger: %v", err)
	}
	if logRow.Status != models.ExecutionSuccess {
		t.Errorf("status = %s, want success", logRow.Status)
	}
	if update := store.updates["j1"]; update.nextRun != nil {
		t.Errorf("next run = %v, want nil for a disabled job", update.nextRun)
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	s := newScheduler(newSchedStore(), &fakeRunner{}, nil)
	if _, err := s.Trigger(context.Background(), "nope", false, models.System); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestErrorRunStillReschedulesAndNotifies(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	store.matches = []models.Match{{ID: "m1"}, {ID: "m2"}}
	runner := &fakeRunner{fail: func(string) error { return fmt.Errorf("boom") }}
	notifier := &fakeNotifier{}
	s := newScheduler(store, runner, notifier)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if logRow.Status != models.ExecutionError {
		t.Errorf("status = %s, want error", logRow.Status)
	}
	if logRow.ErrorMessage == nil {
		t.Error("expected an error message on the log")
	}
	if logRow.ErrorStack == nil || *logRow.ErrorStack == "" {
		t.Error("expected an error chain on the log")
	}
	if update := store.updates["j1"]; update.nextRun == nil {
		t.Error("an error run must still compute the next run")
	}
	if len(notifier.failures) != 1 || notifier.failures[0] != "j1" {
		t.Errorf("notified = %v, want [j1]", notifier.failures)
	}
}

func TestRunRecordsStartAsLastRun(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	s := newScheduler(store, &fakeRunner{}, nil)

	start := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		now := start.Add(time.Duration(tick) * time.Minute)
		tick++
		return now
	}

	if _, err := s.Trigger(context.Background(), "j1", false, models.System); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	update, ok := store.updates["j1"]
	if !ok {
		t.Fatal("expected a job update")
	}
	if !update.lastRun.Equal(start) {
		t.Errorf("last run = %v, want start time %v", update.lastRun, start)
	}
}

func TestPartialMatchFailureIsIsolated(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	store.matches = []models.Match{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}}
	runner := &fakeRunner{fail: func(matchID string) error {
		if matchID == "m2" {
			return &models.DownstreamCallError{MatchID: matchID, StatusCode: 502}
		}
		return nil
	}}
	s := newScheduler(store, runner, nil)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if logRow.Status != models.ExecutionSuccess {
		t.Errorf("status = %s, want success despite one failed match", logRow.Status)
	}
	if logRow.RecordsProcessed == nil || *logRow.RecordsProcessed != 2 {
		t.Errorf("records = %v, want 2", logRow.RecordsProcessed)
	}
}

func TestInvalidCronPausesJob(t *testing.T) {
	store := newSchedStore()
	job := predictionJob("j1", true)
	job.CronSchedule = "not a schedule"
	store.jobs["j1"] = job
	s := newScheduler(store, &fakeRunner{}, nil)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if logRow.Status != models.ExecutionSuccess {
		t.Errorf("status = %s, want success", logRow.Status)
	}
	if update := store.updates["j1"]; update.nextRun != nil {
		t.Errorf("next run = %v, want nil for invalid cron", update.nextRun)
	}
}

func TestMaintenanceRunPrunesLogs(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = &models.ScheduledJob{
		ID: "j1", JobName: "log retention", JobType: models.JobMaintenance,
		CronSchedule: "0 3 * * *", Enabled: true,
		Config: map[string]any{"retention_days": float64(7)},
	}
	store.pruned = 42
	s := newScheduler(store, &fakeRunner{}, nil)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if logRow.RecordsProcessed == nil || *logRow.RecordsProcessed != 42 {
		t.Errorf("records = %v, want 42", logRow.RecordsProcessed)
	}
	wantCutoff := time.Date(2025, 5, 25, 12, 30, 0, 0, time.UTC)
	if store.deletedBefore == nil || !store.deletedBefore.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", store.deletedBefore, wantCutoff)
	}
}

func TestAggregationDeactivatesWeakTemplates(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = &models.ScheduledJob{
		ID: "j1", JobName: "pattern accuracy", JobType: models.JobAggregation,
		CronSchedule: "0 4 * * *", Enabled: true,
		Config: map[string]any{"accuracy_threshold": 0.5, "min_sample": float64(10)},
	}
	store.templates = []models.PatternTemplate{
		{ID: "weak", Name: "Weak Pattern", Active: true},
		{ID: "strong", Name: "Strong Pattern", Active: true},
		{ID: "thin", Name: "Thin Sample", Active: true},
		{ID: "off", Name: "Already Off", Active: false},
	}
	store.detections["weak"] = []string{"w1"}
	store.detections["strong"] = []string{"s1"}
	store.detections["thin"] = []string{"t1"}
	store.results = func(matchIDs []string) (int, int, error) {
		switch matchIDs[0] {
		case "w1":
			return 20, 4, nil // 20%
		case "s1":
			return 20, 16, nil // 80%
		}
		return 5, 1, nil // below threshold but under min sample
	}
	s := newScheduler(store, &fakeRunner{}, nil)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if logRow.RecordsProcessed == nil || *logRow.RecordsProcessed != 3 {
		t.Errorf("records = %v, want 3 active templates updated", logRow.RecordsProcessed)
	}
	if len(store.deactivated) != 1 || store.deactivated[0] != "weak" {
		t.Errorf("deactivated = %v, want [weak]", store.deactivated)
	}
	if got := store.accuracy["strong"]; got[2] != 0.8 {
		t.Errorf("strong accuracy = %v, want 0.8", got[2])
	}
}

func TestUnknownJobTypeFailsRun(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = &models.ScheduledJob{
		ID: "j1", JobName: "mystery", JobType: "mystery",
		CronSchedule: "0 * * * *", Enabled: true,
	}
	s := newScheduler(store, &fakeRunner{}, nil)

	logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if logRow.Status != models.ExecutionError {
		t.Errorf("status = %s, want error for an unknown job type", logRow.Status)
	}
}

func TestSetEnabledTogglesSchedule(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", false)
	s := newScheduler(store, &fakeRunner{}, nil)

	job, err := s.SetEnabled(context.Background(), "j1", true, models.System)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if !job.Enabled || job.NextRunAt == nil {
		t.Fatalf("job = %+v, want enabled with a next run", job)
	}
	want := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	if !job.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", job.NextRunAt, want)
	}

	job, err = s.SetEnabled(context.Background(), "j1", false, models.System)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if job.Enabled || job.NextRunAt != nil {
		t.Errorf("job = %+v, want disabled with no next run", job)
	}
}

func TestDisableCancelsInFlightRun(t *testing.T) {
	store := newSchedStore()
	store.jobs["j1"] = predictionJob("j1", true)
	store.matches = []models.Match{{ID: "m1"}}

	started := make(chan struct{})
	blocked := &blockingRunner{started: started}
	s := newScheduler(store, blocked, nil)

	done := make(chan *models.JobExecutionLog, 1)
	go func() {
		logRow, err := s.Trigger(context.Background(), "j1", false, models.System)
		if err != nil {
			t.Errorf("Trigger: %v", err)
		}
		done <- logRow
	}()

	<-started
	if _, err := s.SetEnabled(context.Background(), "j1", false, models.System); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	select {
	case logRow := <-done:
		if logRow == nil {
			t.Fatal("missing execution log")
		}
		if logRow.Status != models.ExecutionError {
			t.Errorf("status = %s, want error after cancellation", logRow.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after disable")
	}
}

// blockingRunner blocks until its context is canceled.
type blockingRunner struct {
	started chan struct{}
	once    sync.Once
}

func (r *blockingRunner) Analyze(ctx context.Context, _ string) error {
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	return ctx.Err()
}
