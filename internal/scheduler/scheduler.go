package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"postagent-go/internal/apperr"
	"postagent-go/internal/metrics"
	"postagent-go/internal/worker"
)

const (
	// DefaultMaxRetries is how many consecutive failures make a job dead.
	DefaultMaxRetries = 10
	// DefaultPollInterval bounds how long the loop sleeps between checks.
	DefaultPollInterval = time.Minute
	maxRetryDelay       = time.Hour
)

// Options tunes the scheduler.
type Options struct {
	MaxRetries   int
	PollInterval time.Duration
	// RetryDelay is the first retry delay; it doubles per failure up to an hour.
	RetryDelay time.Duration
}

// Scheduler persists recurring jobs and hands the due ones to the worker pool.
type Scheduler struct {
	store    JobStore
	registry *JobHandlerRegistry
	pool     *worker.WorkerPool
	logger   zerolog.Logger
	now      func() time.Time

	maxRetries   int
	pollInterval time.Duration
	retryDelay   time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cronWakeup chan struct{}
	dispatchMu sync.Mutex
}

// NewScheduler creates a new Scheduler. The pool must be started by the caller.
func NewScheduler(store JobStore, registry *JobHandlerRegistry, pool *worker.WorkerPool, logger zerolog.Logger, opts Options) *Scheduler {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Minute
	}
	return &Scheduler{
		store:        store,
		registry:     registry,
		pool:         pool,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		now:          time.Now,
		maxRetries:   opts.MaxRetries,
		pollInterval: opts.PollInterval,
		retryDelay:   opts.RetryDelay,
		cronWakeup:   make(chan struct{}, 1),
	}
}

// ScheduleJob registers a recurring job, deduplicated by name. An existing job
// with the same name gets the new type, schedule and payload and its retry
// state is reset. payload is marshalled to JSON unless it already is raw JSON.
func (s *Scheduler) ScheduleJob(ctx context.Context, name, jobType, schedule string, payload interface{}) (*Job, error) {
	if s.registry.GetHandler(jobType) == nil {
		return nil, fmt.Errorf("%w: no handler registered for job type %q", apperr.ErrValidation, jobType)
	}
	if _, err := ParseCron(schedule); err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", apperr.ErrValidation, name, err)
	}
	next := s.nextRunTime(schedule, s.now())
	if next.IsZero() {
		return nil, fmt.Errorf("%w: job %s: schedule %q never fires", apperr.ErrValidation, name, schedule)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s payload: %v", apperr.ErrValidation, name, err)
	}

	job := &Job{
		Name:     name,
		Type:     jobType,
		Schedule: schedule,
		Payload:  raw,
		Status:   JobStatusScheduled,
		NextRun:  next,
	}
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsScheduled.WithLabelValues(jobType).Inc()
	s.logger.Info().Str("job", name).Str("type", jobType).Str("schedule", schedule).
		Time("next_run", job.NextRun).Msg("Job scheduled")
	s.signalCronWakeup()
	return job, nil
}

// RunNow makes the named job due immediately, reviving it if it was dead.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, err := s.store.GetJobByName(ctx, name)
	if err != nil {
		return err
	}
	if job.Status == JobStatusRunning {
		return nil
	}
	if job.Status == JobStatusDead {
		job.Status = JobStatusScheduled
		job.RetryCount = 0
	}
	job.NextRun = s.now().UTC()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	s.signalCronWakeup()
	return nil
}

// Unschedule removes the named job. A missing job is not an error.
func (s *Scheduler) Unschedule(ctx context.Context, name string) error {
	job, err := s.store.GetJobByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	s.logger.Info().Str("job", name).Msg("Job unscheduled")
	return nil
}

// Jobs lists every stored job, soonest first.
func (s *Scheduler) Jobs(ctx context.Context) ([]*Job, error) {
	return s.store.ListJobs(ctx, JobFilter{})
}

// Start resets jobs left running by a previous process and begins the
// scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverRunning(ctx); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.schedulingLoop()
	s.logger.Info().Dur("poll_interval", s.pollInterval).Msg("Scheduler started")
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop gracefully shuts down the scheduling loop. Tasks already handed to the
// pool are left to it.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// schedulingLoop dispatches due jobs and sleeps until the next one, a wakeup
// signal or the poll interval, whichever comes first.
func (s *Scheduler) schedulingLoop() {
	defer s.wg.Done()
	for {
		next, err := s.DispatchDue(s.ctx)
		if err != nil && s.ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Failed to dispatch due jobs")
		}

		wait := s.pollInterval
		if !next.IsZero() {
			if d := next.Sub(s.now()); d < wait {
				wait = d
			}
		}
		if wait < time.Second {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-s.cronWakeup:
			timer.Stop()
		}
	}
}

// DispatchDue submits every due job to the pool and returns the next run time
// among the jobs that stay pending. A job the pool has no room for stays due
// and is picked up on the next pass.
func (s *Scheduler) DispatchDue(ctx context.Context) (time.Time, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	pending := []JobStatus{JobStatusScheduled, JobStatusCompleted, JobStatusFailed}
	due, err := s.store.ListJobs(ctx, JobFilter{Statuses: pending, DueBy: s.now()})
	if err != nil {
		return time.Time{}, err
	}

	for _, job := range due {
		previous := job.Status
		job.Status = JobStatusRunning
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return time.Time{}, err
		}
		if !s.pool.Submit(&JobTask{job: job, scheduler: s}) {
			s.logger.Warn().Str("job", job.Name).Msg("Worker queue full, job postponed")
			job.Status = previous
			if err := s.store.UpdateJob(ctx, job); err != nil {
				return time.Time{}, err
			}
			break
		}
	}

	upcoming, err := s.store.ListJobs(ctx, JobFilter{Statuses: pending, Limit: 1})
	if err != nil {
		return time.Time{}, err
	}
	if len(upcoming) == 0 {
		return time.Time{}, nil
	}
	return upcoming[0].NextRun, nil
}

func (s *Scheduler) recoverRunning(ctx context.Context) error {
	stuck, err := s.store.ListJobs(ctx, JobFilter{Statuses: []JobStatus{JobStatusRunning}})
	if err != nil {
		return err
	}
	for _, job := range stuck {
		job.Status = JobStatusScheduled
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return err
		}
		s.logger.Warn().Str("job", job.Name).Msg("Reset job left running by a previous run")
	}
	return nil
}

func (s *Scheduler) runHandler(ctx context.Context, job *Job) error {
	handler := s.registry.GetHandler(job.Type)
	if handler == nil {
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}
	return handler(ctx, job)
}

// nextRunTime computes the next run time for a cron schedule
func (s *Scheduler) nextRunTime(schedule string, after time.Time) time.Time {
	cron, err := ParseCron(schedule)
	if err != nil {
		return after.Add(time.Hour) // fallback: 1 hour later
	}
	return cron.Next(after).UTC()
}

// retryTime backs off exponentially from the first retry delay, but never
// past the job's next regular run.
func (s *Scheduler) retryTime(job *Job, now time.Time) time.Time {
	delay := s.retryDelay
	for i := 1; i < job.RetryCount && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	retry := now.Add(delay)
	if regular := s.nextRunTime(job.Schedule, now); !regular.IsZero() && regular.Before(retry) {
		return regular
	}
	return retry
}

// signalCronWakeup notifies the scheduling loop to re-evaluate jobs
func (s *Scheduler) signalCronWakeup() {
	select {
	case s.cronWakeup <- struct{}{}:
	default:
	}
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
