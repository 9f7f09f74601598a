package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownJob is returned by Status for ids the queue never saw or already forgot.
var ErrUnknownJob = errors.New("unknown job")

// State is the lifecycle position of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job represents a queued background task.
type Job struct {
	ID       string
	Type     string
	Owner    string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Status is the observable record of a job.
type Status struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Owner      string      `json:"owner,omitempty"`
	State      State       `json:"state"`
	Attempt    int         `json:"attempt"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Handler processes a job. The returned result is kept in the job status.
type Handler func(context.Context, Job) (interface{}, error)

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	// History bounds how many finished statuses are remembered.
	History int
	Logger  *zap.Logger
}

// Queue is a lightweight in-memory job dispatcher backed by goroutines.
type Queue struct {
	name    string
	handler Handler

	workers    int
	bufferSize int
	maxRetries int
	retryDelay time.Duration
	history    int
	logger     *zap.Logger

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	statusMu sync.RWMutex
	statuses map[string]*Status
	finished []string
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.History <= 0 {
		cfg.History = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		bufferSize: cfg.BufferSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		history:    cfg.History,
		logger:     cfg.Logger,
		jobs:       make(chan Job, cfg.BufferSize),
		statuses:   make(map[string]*Status),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i + 1)
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop cancels workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Enqueue pushes a job onto the queue. It fails fast when the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if job.ID == "" {
		return fmt.Errorf("queue %s: job id is required", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	if ctx.Err() != nil {
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	}

	if job.Attempt == 0 {
		q.record(job, func(s *Status) { s.State = StateQueued })
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		if job.Attempt == 0 {
			q.forget(job.ID)
		}
		return fmt.Errorf("queue %s is full (%d pending)", q.name, q.bufferSize)
	}
}

func (q *Queue) forget(id string) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	delete(q.statuses, id)
}

// Status returns a copy of the job's status.
func (q *Queue) Status(id string) (Status, error) {
	q.statusMu.RLock()
	defer q.statusMu.RUnlock()
	s, ok := q.statuses[id]
	if !ok {
		return Status{}, ErrUnknownJob
	}
	return *s, nil
}

// Pending reports how many jobs wait in the buffer.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.record(job, func(s *Status) { s.State = StateRunning })
			result, err := q.handler(q.ctx, job)
			if err != nil {
				q.handleFailure(job, err)
				continue
			}
			q.finish(job, StateSucceeded, result, nil)
			q.logger.Sugar().Debugw("job finished", "queue", q.name, "worker", workerID, "job_id", job.ID, "type", job.Type)
		}
	}
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	if job.Attempt > q.maxRetries {
		q.finish(job, StateFailed, nil, err)
		q.logger.Sugar().Errorw("job exceeded retries", "queue", q.name, "job_id", job.ID, "type", job.Type, "error", err)
		return
	}
	q.record(job, func(s *Status) {
		s.State = StateRetrying
		s.Error = err.Error()
	})
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", err)

	go func(j Job) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			if err := q.Enqueue(j); err != nil {
				q.finish(j, StateFailed, nil, err)
				q.logger.Sugar().Errorw("failed to requeue job", "queue", q.name, "job_id", j.ID, "error", err)
			}
		}
	}(job)
}

func (q *Queue) record(job Job, mutate func(*Status)) {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	s, ok := q.statuses[job.ID]
	if !ok {
		s = &Status{ID: job.ID, Type: job.Type, Owner: job.Owner, EnqueuedAt: job.Enqueued}
		q.statuses[job.ID] = s
	}
	s.Attempt = job.Attempt
	mutate(s)
}

func (q *Queue) finish(job Job, state State, result interface{}, err error) {
	now := time.Now().UTC()
	q.record(job, func(s *Status) {
		s.State = state
		s.Result = result
		s.FinishedAt = &now
		s.Error = ""
		if err != nil {
			s.Error = err.Error()
		}
	})

	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	q.finished = append(q.finished, job.ID)
	for len(q.finished) > q.history {
		delete(q.statuses, q.finished[0])
		q.finished = q.finished[1:]
	}
}
