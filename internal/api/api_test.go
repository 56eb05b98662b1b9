package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/winmix/engine/internal/pipeline"
	"github.com/winmix/engine/internal/scheduler"
	"github.com/winmix/engine/models"
)

type apiStore struct {
	jobs        []models.ScheduledJob
	logs        []models.JobExecutionLog
	predictions map[string]*models.Prediction
	gotLimit    int
}

func (s *apiStore) ListJobs(context.Context) ([]models.ScheduledJob, error) {
	return s.jobs, nil
}

func (s *apiStore) JobLogs(_ context.Context, _ string, limit int) ([]models.JobExecutionLog, error) {
	s.gotLimit = limit
	return s.logs, nil
}

func (s *apiStore) GetPredictionByMatch(_ context.Context, matchID string) (*models.Prediction, error) {
	return s.predictions[matchID], nil
}

type apiJobs struct {
	triggerErr error
	gotForce   bool
	gotActor   models.Actor
	toggled    *bool
}

func (j *apiJobs) Trigger(_ context.Context, jobID string, force bool, actor models.Actor) (*models.JobExecutionLog, error) {
	j.gotForce = force
	j.gotActor = actor
	if j.triggerErr != nil {
		return nil, j.triggerErr
	}
	return &models.JobExecutionLog{ID: "log-1", JobID: jobID, Status: models.ExecutionSuccess}, nil
}

func (j *apiJobs) SetEnabled(_ context.Context, jobID string, enabled bool, _ models.Actor) (*models.ScheduledJob, error) {
	j.toggled = &enabled
	return &models.ScheduledJob{ID: jobID, Enabled: enabled}, nil
}

type apiAnalyzer struct {
	runErr       error
	created      bool
	reconcileErr error
	gotActual    models.Outcome
}

func (a *apiAnalyzer) Run(_ context.Context, matchID string, _ models.Actor) (*models.Prediction, bool, error) {
	if a.runErr != nil {
		return nil, false, a.runErr
	}
	return &models.Prediction{ID: "p-1", MatchID: matchID, PredictedOutcome: models.OutcomeHomeWin}, a.created, nil
}

func (a *apiAnalyzer) Reconcile(_ context.Context, matchID string, actual models.Outcome, _ models.Actor) (*models.Prediction, error) {
	a.gotActual = actual
	if a.reconcileErr != nil {
		return nil, a.reconcileErr
	}
	return &models.Prediction{ID: "p-1", MatchID: matchID}, nil
}

func newTestServer(store *apiStore, jobs *apiJobs, analyzer *apiAnalyzer) http.Handler {
	if store.predictions == nil {
		store.predictions = map[string]*models.Prediction{}
	}
	return NewServer(store, jobs, analyzer).Router()
}

func TestTriggerJobPassesForceAndActor(t *testing.T) {
	jobs := &apiJobs{}
	handler := newTestServer(&apiStore{}, jobs, &apiAnalyzer{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/j1/trigger?force=true", nil)
	req.Header.Set("X-Actor-ID", "ops-1")
	req.Header.Set("X-Actor-Role", "admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !jobs.gotForce {
		t.Error("force flag not passed through")
	}
	if jobs.gotActor.ID != "ops-1" || jobs.gotActor.Role != "admin" {
		t.Errorf("actor = %+v, want ops-1/admin", jobs.gotActor)
	}
}

func TestTriggerJobErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("%w: j1", scheduler.ErrJobNotFound), http.StatusNotFound},
		{"disabled", &models.JobDisabledError{JobID: "j1"}, http.StatusConflict},
		{"already running", &models.JobAlreadyRunningError{JobID: "j1"}, http.StatusConflict},
		{"unexpected", fmt.Errorf("broken pipe"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestServer(&apiStore{}, &apiJobs{triggerErr: tc.err}, &apiAnalyzer{})
			req := httptest.NewRequest(http.MethodPost, "/jobs/j1/trigger", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestToggleJob(t *testing.T) {
	jobs := &apiJobs{}
	handler := newTestServer(&apiStore{}, jobs, &apiAnalyzer{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/j1/toggle", strings.NewReader(`{"enabled":false}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if jobs.toggled == nil || *jobs.toggled {
		t.Errorf("toggled = %v, want disable", jobs.toggled)
	}
}

func TestJobLogsLimit(t *testing.T) {
	store := &apiStore{}
	handler := newTestServer(store, &apiJobs{}, &apiAnalyzer{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/j1/logs?limit=5", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", store.gotLimit)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs/j1/logs?limit=zero", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a bad limit", rec.Code)
	}
}

func TestAnalyzeCreatedStatus(t *testing.T) {
	handler := newTestServer(&apiStore{}, &apiJobs{}, &apiAnalyzer{created: true})

	req := httptest.NewRequest(http.MethodPost, "/matches/m1/analyze", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 for a new prediction", rec.Code)
	}
	var pred models.Prediction
	if err := json.NewDecoder(rec.Body).Decode(&pred); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pred.MatchID != "m1" {
		t.Errorf("match_id = %s, want m1", pred.MatchID)
	}

	// An existing prediction comes back as plain 200.
	handler = newTestServer(&apiStore{}, &apiJobs{}, &apiAnalyzer{created: false})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/matches/m1/analyze", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for an existing prediction", rec.Code)
	}
}

func TestAnalyzeUnknownMatch(t *testing.T) {
	analyzer := &apiAnalyzer{runErr: fmt.Errorf("%w: m1", pipeline.ErrMatchNotFound)}
	handler := newTestServer(&apiStore{}, &apiJobs{}, analyzer)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/matches/m1/analyze", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReconcilePassesOutcome(t *testing.T) {
	analyzer := &apiAnalyzer{}
	handler := newTestServer(&apiStore{}, &apiJobs{}, analyzer)

	req := httptest.NewRequest(http.MethodPost, "/matches/m1/reconcile", strings.NewReader(`{"actual_outcome":"draw"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if analyzer.gotActual != models.OutcomeDraw {
		t.Errorf("actual = %q, want draw", analyzer.gotActual)
	}
}

func TestReconcileUnfinishedMatchConflicts(t *testing.T) {
	analyzer := &apiAnalyzer{reconcileErr: fmt.Errorf("%w: m1", pipeline.ErrMatchNotFinished)}
	handler := newTestServer(&apiStore{}, &apiJobs{}, analyzer)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/matches/m1/reconcile", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestGetPrediction(t *testing.T) {
	store := &apiStore{predictions: map[string]*models.Prediction{
		"m1": {ID: "p-1", MatchID: "m1"},
	}}
	handler := newTestServer(store, &apiJobs{}, &apiAnalyzer{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predictions/m1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predictions/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a missing prediction", rec.Code)
	}
}
