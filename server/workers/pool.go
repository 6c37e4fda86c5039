// Package workers provides the fixed-size pool that runs per-file search and
// materialization tasks.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/rs/zerolog"
)

// ComponentType is the pool's component name
const ComponentType = "worker_pool"

// Worker pool error codes
var (
	ErrPoolAlreadyRunning = errors.MustNewCode("workers.already_running")
	ErrPoolNotRunning     = errors.MustNewCode("workers.not_running")
	ErrTaskPanicked       = errors.MustNewCode("workers.task_panicked")
)

// Task is a unit of work executed by the pool
type Task interface {
	Execute(ctx context.Context) error
	GetID() string
}

// TaskFunc adapts a function into a Task
type TaskFunc struct {
	ID string
	Fn func(ctx context.Context) error
}

func (t TaskFunc) Execute(ctx context.Context) error { return t.Fn(ctx) }

func (t TaskFunc) GetID() string { return t.ID }

type job struct {
	ctx  context.Context
	task Task
	done func(error)
	enq  time.Time
}

// Pool runs tasks on a fixed number of goroutines. A failing task never
// affects other tasks.
type Pool struct {
	maxWorkers int
	queue      chan job
	logger     zerolog.Logger

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   PoolStats
}

// PoolStats tracks worker pool activity
type PoolStats struct {
	TotalWorkers    int           `json:"total_workers"`
	ActiveWorkers   int           `json:"active_workers"`
	TasksQueued     int           `json:"tasks_queued"`
	TasksCompleted  int64         `json:"tasks_completed"`
	TasksFailed     int64         `json:"tasks_failed"`
	TotalWaitTime   time.Duration `json:"total_wait_time"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
	TotalWorkTime   time.Duration `json:"total_work_time"`
}

// NewPool creates a stopped pool of maxWorkers goroutines
func NewPool(maxWorkers int, logger zerolog.Logger) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{
		maxWorkers: maxWorkers,
		logger:     logger.With().Str("component", ComponentType).Logger(),
		stats:      PoolStats{TotalWorkers: maxWorkers},
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.maxWorkers
}

// GetType returns the component type
func (p *Pool) GetType() string {
	return ComponentType
}

// Start launches the workers
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New(ErrPoolAlreadyRunning, "worker pool is already running", nil)
	}

	p.queue = make(chan job, p.maxWorkers*2)
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.work(i, p.queue)
	}
	p.running = true

	p.logger.Info().Int("max_workers", p.maxWorkers).Msg("Worker pool started")
	return nil
}

// Stop drains queued tasks and waits for the workers to exit
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return errors.New(ErrPoolNotRunning, "worker pool is not running", nil)
	}
	p.running = false
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
	return nil
}

// Shutdown implements the component lifecycle
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.Stop() }()
	select {
	case err := <-done:
		if errors.HasCode(err, ErrPoolNotRunning) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues a task, blocking while the queue is full. done is called
// exactly once with the task's result.
func (p *Pool) Submit(ctx context.Context, task Task, done func(error)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return errors.New(ErrPoolNotRunning, "worker pool is not running", nil)
	}

	select {
	case p.queue <- job{ctx: ctx, task: task, done: done, enq: time.Now()}:
		p.logger.Debug().Str("task_id", task.GetID()).Msg("Task submitted")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes all tasks on the pool and waits for them. The returned slice
// holds each task's error at the task's index.
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	results := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		i := i
		wg.Add(1)
		if err := p.Submit(ctx, task, func(err error) {
			results[i] = err
			wg.Done()
		}); err != nil {
			results[i] = err
			wg.Done()
		}
	}

	wg.Wait()
	return results
}

// GetStats returns a snapshot of pool statistics
func (p *Pool) GetStats() PoolStats {
	p.statsMu.Lock()
	stats := p.stats
	p.statsMu.Unlock()

	p.mu.RLock()
	if p.queue != nil {
		stats.TasksQueued = len(p.queue)
	}
	p.mu.RUnlock()

	if finished := stats.TasksCompleted + stats.TasksFailed; finished > 0 {
		stats.AverageWaitTime = stats.TotalWaitTime / time.Duration(finished)
	}
	return stats
}

func (p *Pool) work(id int, queue <-chan job) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker_id", id).Logger()

	for j := range queue {
		p.process(logger, j)
	}
}

func (p *Pool) process(logger zerolog.Logger, j job) {
	started := time.Now()
	wait := started.Sub(j.enq)

	p.statsMu.Lock()
	p.stats.ActiveWorkers++
	p.stats.TotalWaitTime += wait
	p.statsMu.Unlock()

	var err error
	if ctxErr := j.ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		err = p.execute(j)
	}

	elapsed := time.Since(started)
	p.statsMu.Lock()
	p.stats.ActiveWorkers--
	p.stats.TotalWorkTime += elapsed
	if err != nil {
		p.stats.TasksFailed++
	} else {
		p.stats.TasksCompleted++
	}
	p.statsMu.Unlock()

	if err != nil {
		logger.Debug().Err(err).Str("task_id", j.task.GetID()).Dur("elapsed", elapsed).Msg("Task failed")
	} else {
		logger.Debug().Str("task_id", j.task.GetID()).Dur("elapsed", elapsed).Msg("Task completed")
	}

	if j.done != nil {
		j.done(err)
	}
}

func (p *Pool) execute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(ErrTaskPanicked, "task panicked", fmt.Errorf("%v", r)).AddContext("task_id", j.task.GetID())
		}
	}()
	return j.task.Execute(j.ctx)
}
