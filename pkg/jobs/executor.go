package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("executor is shut down")
	// ErrQueueFull is returned when every worker is busy and the queue is full.
	ErrQueueFull = errors.New("job queue is full")
)

const queueDepthPerWorker = 64

// Func is the work of a job.
type Func func(ctx context.Context) error

// Spec describes a submission.
type Spec struct {
	Function  string
	Cohort    string
	Container string
	Params    map[string]any
}

type task struct {
	id       string
	function string
	fn       Func
}

// Executor runs jobs on a fixed number of workers.
type Executor struct {
	store  *Store
	log    *zap.Logger
	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewExecutor starts workers goroutines consuming submitted jobs.
func NewExecutor(store *Store, workers int, log *zap.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		store:  store,
		log:    log,
		queue:  make(chan task, workers*queueDepthPerWorker),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	log.Info("Started job executor", zap.Int("workers", workers))
	return e
}

// Submit records a queued job and returns its id without waiting for it to run.
func (e *Executor) Submit(spec Spec, fn Func) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return "", ErrClosed
	}

	job := Job{
		ID:        uuid.NewString(),
		Function:  spec.Function,
		Cohort:    spec.Cohort,
		Container: spec.Container,
		Params:    spec.Params,
		Status:    StatusQueued,
		Submitted: time.Now().UTC(),
	}
	if err := e.store.Put(job); err != nil {
		return "", fmt.Errorf("recording job: %w", err)
	}

	select {
	case e.queue <- task{id: job.ID, function: spec.Function, fn: fn}:
	default:
		e.finish(job.ID, spec.Function, ErrQueueFull)
		return "", ErrQueueFull
	}
	jobsSubmitted.WithLabelValues(spec.Function).Inc()
	e.log.Info("Submitted job",
		zap.String("job_id", job.ID),
		zap.String("function", spec.Function),
		zap.String("cohort_id", spec.Cohort),
		zap.String("container_id", spec.Container),
	)
	return job.ID, nil
}

// Accepting reports whether Submit will take new work.
func (e *Executor) Accepting() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Job returns the stored record of a job.
func (e *Executor) Job(id string) (Job, error) {
	return e.store.Get(id)
}

// Shutdown stops accepting work and waits for queued jobs to drain. When
// ctx expires first, running jobs are cancelled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for t := range e.queue {
		e.run(t)
	}
}

func (e *Executor) run(t task) {
	start := time.Now()
	if _, err := e.store.Update(t.id, func(j *Job) {
		j.Status = StatusRunning
		started := start.UTC()
		j.Started = &started
	}); err != nil {
		e.log.Error("Failed to mark job running", zap.String("job_id", t.id), zap.Error(err))
	}

	jobsInFlight.Inc()
	err := runSafely(e.ctx, t.fn)
	jobsInFlight.Dec()
	jobDuration.WithLabelValues(t.function).Observe(time.Since(start).Seconds())

	e.finish(t.id, t.function, err)
}

func (e *Executor) finish(id, function string, runErr error) {
	status := StatusSucceeded
	if runErr != nil {
		status = StatusFailed
	}
	if _, err := e.store.Update(id, func(j *Job) {
		j.Status = status
		if runErr != nil {
			j.Error = runErr.Error()
		}
		finished := time.Now().UTC()
		j.Finished = &finished
	}); err != nil {
		e.log.Error("Failed to record job result", zap.String("job_id", id), zap.Error(err))
	}
	jobsFinished.WithLabelValues(function, string(status)).Inc()

	if runErr != nil {
		e.log.Error("Job failed", zap.String("job_id", id), zap.String("function", function), zap.Error(runErr))
		return
	}
	e.log.Info("Job finished", zap.String("job_id", id), zap.String("function", function))
}

// runSafely converts a panicking job into a failed one.
func runSafely(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
