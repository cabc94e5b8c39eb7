package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"postagent-go/internal/metrics"
	"postagent-go/internal/worker"
)

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job *Job) error

// JobHandlerRegistry maintains a map of job type to handler functions
type JobHandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

// NewJobHandlerRegistry creates a new job handler registry
func NewJobHandlerRegistry() *JobHandlerRegistry {
	return &JobHandlerRegistry{
		handlers: make(map[string]JobHandler),
	}
}

// RegisterHandler registers a handler function for a job type. Empty types
// and nil handlers are ignored.
func (r *JobHandlerRegistry) RegisterHandler(jobType string, handler JobHandler) {
	if jobType == "" || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
}

// UnregisterHandler removes the handler for a job type
func (r *JobHandlerRegistry) UnregisterHandler(jobType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, jobType)
}

// GetHandler returns the handler function for a job type, or nil
func (r *JobHandlerRegistry) GetHandler(jobType string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// ListHandlerTypes returns the registered job types in sorted order
func (r *JobHandlerRegistry) ListHandlerTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// JobTask wraps a Job to implement the worker.Task interface. It runs the
// handler once and records the outcome on the job; retries happen through
// the job's next run, not inside the worker.
type JobTask struct {
	job       *Job
	scheduler *Scheduler
}

// Process implements the worker.Task interface. Only a job that just went
// dead, or whose outcome could not be stored, reports an error.
func (t *JobTask) Process(ctx context.Context) error {
	s := t.scheduler
	job := t.job

	metrics.JobsInFlight.Inc()
	start := time.Now()
	err := s.runHandler(ctx, job)
	metrics.JobsInFlight.Dec()
	metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	now := s.now().UTC()
	job.LastRun = &now
	logger := s.logger.With().Str("job", job.Name).Str("type", job.Type).Logger()

	if err == nil {
		job.Status = JobStatusCompleted
		job.LastError = ""
		job.RetryCount = 0
		job.NextRun = s.nextRunTime(job.Schedule, now)
		metrics.JobsCompleted.WithLabelValues(job.Type).Inc()
		logger.Debug().Time("next_run", job.NextRun).Msg("Job completed")
	} else {
		job.LastError = err.Error()
		job.RetryCount++
		metrics.JobsFailed.WithLabelValues(job.Type).Inc()
		if job.RetryCount >= s.maxRetries {
			job.Status = JobStatusDead
			logger.Error().Err(err).Int("retry_count", job.RetryCount).Msg("Job is dead")
		} else {
			job.Status = JobStatusFailed
			job.NextRun = s.retryTime(job, now)
			metrics.JobRetries.WithLabelValues(job.Type).Inc()
			logger.Warn().Err(err).Int("retry_count", job.RetryCount).Time("next_run", job.NextRun).
				Msg("Job failed, will retry")
		}
	}

	// The run itself may have been cancelled by shutdown; the outcome is
	// still recorded.
	if uerr := s.store.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
		logger.Error().Err(uerr).Msg("Failed to update job status")
		return worker.Permanent(fmt.Errorf("failed to update job status: %w", uerr))
	}
	if job.Status == JobStatusDead {
		return worker.Permanent(err)
	}
	return nil
}
