package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Task represents a unit of work for the worker pool.
// A returned error makes the pool try again until the attempt limit is hit.
type Task interface {
	Process(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Process implements Task.
func (f TaskFunc) Process(ctx context.Context) error { return f(ctx) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// DeadLetter is a task that exhausted its attempts.
type DeadLetter struct {
	Task     Task
	Attempts int
	Err      error
}

// WorkerPool manages a pool of worker goroutines
// and a queue of tasks to process
type WorkerPool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers int
	logger  zerolog.Logger

	stateMu sync.RWMutex
	started bool
	stopped bool

	tasks       chan Task // buffered channel for tasks
	queueCap    int
	maxAttempts int

	deadLetter   []DeadLetter
	deadLetterMu sync.Mutex
	onDead       func(DeadLetter)
}

// PoolStats holds monitoring information about the worker pool
type PoolStats struct {
	ActiveWorkers int
	QueueLength   int
	QueueCapacity int
	DeadLetters   int
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithQueueSize sets the task queue capacity.
func WithQueueSize(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.queueCap = n
		}
	}
}

// WithMaxAttempts sets how many times a failing task is run before it is
// moved to the dead letter queue.
func WithMaxAttempts(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *WorkerPool) {
		p.logger = logger.With().Str("component", "worker_pool").Logger()
	}
}

// WithDeadLetterHandler registers fn to be called for each dead task.
func WithDeadLetterHandler(fn func(DeadLetter)) Option {
	return func(p *WorkerPool) {
		p.onDead = fn
	}
}

// NewWorkerPool creates a new WorkerPool with the given number of workers.
// The queue holds 10 tasks and each task gets 3 attempts unless overridden.
func NewWorkerPool(workers int, opts ...Option) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		ctx:         ctx,
		cancel:      cancel,
		workers:     workers,
		logger:      zerolog.Nop(),
		queueCap:    10,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tasks = make(chan Task, p.queueCap)
	return p
}

// Start launches the worker goroutines
func (p *WorkerPool) Start() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop stops accepting tasks, cancels running ones and waits for the workers
// to exit. Tasks still queued are dropped.
func (p *WorkerPool) Stop() {
	p.stateMu.Lock()
	if p.stopped {
		p.stateMu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.stateMu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Submit adds a task to the queue, returns false if the queue is full or the
// pool is stopped.
func (p *WorkerPool) Submit(task Task) bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false // backpressure: queue is full
	}
}

// workerLoop is the main loop for each worker goroutine
func (p *WorkerPool) workerLoop() {
	defer p.wg.Done()
	for task := range p.tasks {
		if p.ctx.Err() != nil {
			continue
		}
		p.processWithRetry(task)
	}
}

// processWithRetry runs a task up to maxAttempts times, then moves it to the
// dead letter queue. Permanent errors go there straight away.
func (p *WorkerPool) processWithRetry(task Task) {
	var err error
	attempt := 0
	for attempt < p.maxAttempts {
		if p.ctx.Err() != nil {
			return
		}
		attempt++
		if err = p.run(task); err == nil {
			return
		}
		if IsPermanent(err) {
			break
		}
		p.logger.Debug().Err(err).Int("attempt", attempt).Msg("Task failed, retrying")
	}

	dl := DeadLetter{Task: task, Attempts: attempt, Err: err}
	p.deadLetterMu.Lock()
	p.deadLetter = append(p.deadLetter, dl)
	p.deadLetterMu.Unlock()

	p.logger.Warn().Err(err).Int("attempts", attempt).Msg("Task moved to dead letter queue")
	if p.onDead != nil {
		p.onDead(dl)
	}
}

func (p *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Task panicked")
			err = Permanent(errors.New("task panicked"))
		}
	}()
	return task.Process(p.ctx)
}

// DeadLetterCount returns the number of tasks in the dead letter queue
func (p *WorkerPool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// DeadLetters returns a copy of the dead letter queue.
func (p *WorkerPool) DeadLetters() []DeadLetter {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	out := make([]DeadLetter, len(p.deadLetter))
	copy(out, p.deadLetter)
	return out
}

// Workers returns the number of worker goroutines
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Stats returns current statistics about the worker pool
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		ActiveWorkers: p.workers,
		QueueLength:   len(p.tasks),
		QueueCapacity: p.queueCap,
		DeadLetters:   p.DeadLetterCount(),
	}
}
