package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-ledger/internal/jobs"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// ErrNoWorker is returned when a job is queued without a background worker
var ErrNoWorker = fmt.Errorf("%w: no background worker", ErrInvalidState)

// JobService queues batch jobs on the background worker and reports its state
type JobService struct {
	worker    *jobs.Worker
	recompute *RecomputeService
}

// NewJobService creates a job service. worker may be nil, in which case jobs
// cannot be queued.
func NewJobService(worker *jobs.Worker, recompute *RecomputeService) *JobService {
	return &JobService{
		worker:    worker,
		recompute: recompute,
	}
}

// Enqueue queues a batch job and returns the run id its result will carry
func (s *JobService) Enqueue(job string, opts RecomputeOptions) (string, error) {
	run, ok := s.recompute.Job(job)
	if !ok {
		return "", newValidationError("invalid job", map[string]string{"job": "unknown job " + job})
	}
	if s.worker == nil {
		return "", ErrNoWorker
	}
	if job == JobRecomputeDate && opts.TargetDate.IsZero() {
		return "", newValidationError("invalid recompute", map[string]string{"target_date": "is required"})
	}

	opts.RunID = uuid.NewString()
	s.worker.Enqueue(func(ctx context.Context) error {
		_, err := run(ctx, opts)
		if errors.Is(err, ErrRecomputeRunning) {
			logger.Warn("queued batch job skipped, another run is active", "job", job, "run_id", opts.RunID)
		}
		return err
	})
	logger.Info("batch job queued", "job", job, "run_id", opts.RunID, "dry_run", opts.DryRun)
	return opts.RunID, nil
}

// GetStatus reports the background worker counters and the last batch run
func (s *JobService) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"last_run": s.recompute.LastRun(),
	}
	if s.worker == nil {
		return status
	}

	stats := s.worker.GetStats()
	status["active_jobs"] = stats.ActiveJobs
	status["completed_jobs"] = stats.CompletedJobs
	status["failed_jobs"] = stats.FailedJobs
	status["queue_length"] = stats.QueueLength
	status["max_concurrent"] = stats.MaxConcurrent
	status["scheduled"] = stats.Scheduled
	return status
}
