package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/winmix/engine/models"
)

// execute dispatches on the job type. The enum is closed: anything else is an
// error run, never a silent success.
func (s *Scheduler) execute(ctx context.Context, job *models.ScheduledJob) (int, error) {
	switch job.JobType {
	case models.JobPrediction:
		return s.runPrediction(ctx, job)
	case models.JobMaintenance:
		return s.runMaintenance(ctx, job)
	case models.JobAggregation:
		return s.runAggregation(ctx, job)
	case models.JobDataImport:
		return s.runDataImport(ctx, job)
	}
	return 0, fmt.Errorf("unsupported job type %q", job.JobType)
}

// runPrediction fans the upcoming matches of the configured window out to the
// runner with bounded parallelism. Only matches without a prediction row are
// dispatched. A failed match is counted and skipped; the run only fails as a
// whole when not a single match went through.
func (s *Scheduler) runPrediction(ctx context.Context, job *models.ScheduledJob) (int, error) {
	windowHours := job.ConfigFloat("prediction_window_hours", 24)
	from := s.now().UTC()
	to := from.Add(time.Duration(windowHours * float64(time.Hour)))

	matches, err := s.store.UnpredictedMatchesBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, nil
	}

	var processed, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.opts.MatchParallelism)

	for i := range matches {
		match := matches[i]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.opts.MatchCallTimeout)
			defer cancel()

			if err := s.runner.Analyze(callCtx, match.ID); err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).
					Str("job_id", job.ID).
					Str("match_id", match.ID).
					Msg("match analysis failed")
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	g.Wait()

	if processed.Load() == 0 && failed.Load() > 0 {
		return 0, fmt.Errorf("all %d match analyses failed", failed.Load())
	}
	return int(processed.Load()), nil
}

// runMaintenance prunes execution logs older than the configured retention.
func (s *Scheduler) runMaintenance(ctx context.Context, job *models.ScheduledJob) (int, error) {
	retentionDays := job.ConfigFloat("retention_days", 30)
	cutoff := s.now().UTC().Add(-time.Duration(retentionDays * 24 * float64(time.Hour)))

	deleted, err := s.store.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Info().
		Str("job_id", job.ID).
		Int("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("execution logs pruned")
	return deleted, nil
}

// runAggregation recomputes the accuracy rate of every active pattern
// template from reconciled predictions, deactivating templates that fall
// under the accuracy threshold once the sample is large enough.
func (s *Scheduler) runAggregation(ctx context.Context, job *models.ScheduledJob) (int, error) {
	threshold := job.ConfigFloat("accuracy_threshold", 0.5)
	minSample := int(job.ConfigFloat("min_sample", 20))
	now := s.now().UTC()

	templates, err := s.store.ListPatternTemplates(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, tpl := range templates {
		if !tpl.Active {
			continue
		}
		matchIDs, err := s.store.DetectionMatchIDs(ctx, tpl.ID)
		if err != nil {
			return updated, err
		}
		total, correct, err := s.store.PredictionResults(ctx, matchIDs)
		if err != nil {
			return updated, err
		}

		rate := 0.0
		if total > 0 {
			rate = math.Round(float64(correct)/float64(total)*10000) / 10000
		}
		if err := s.store.UpdatePatternAccuracy(ctx, tpl.ID, total, correct, rate, now); err != nil {
			return updated, err
		}
		updated++

		if total >= minSample && rate < threshold {
			if err := s.store.DeactivatePatternTemplate(ctx, tpl.ID); err != nil {
				return updated, err
			}
			s.log.Info().
				Str("template_id", tpl.ID).
				Str("template", tpl.Name).
				Float64("accuracy_rate", rate).
				Int("sample", total).
				Msg("pattern template deactivated")
		}
	}
	return updated, nil
}

// runDataImport is a stub run: no import source is wired yet, so the run
// succeeds with zero records.
func (s *Scheduler) runDataImport(ctx context.Context, job *models.ScheduledJob) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.log.Info().Str("job_id", job.ID).Msg("no import source configured, nothing to do")
	return 0, nil
}
