package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/query"
	"github.com/rs/zerolog"
)

// RunStatus is the lifecycle state of one search
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// RunRetention is how long finished runs stay listed
const RunRetention = 15 * time.Minute

// Run describes a search that is executing or finished recently
type Run struct {
	ID          string     `json:"id"`
	User        string     `json:"user"`
	Term        string     `json:"term"`
	Column      string     `json:"column"`
	Mode        query.Mode `json:"mode"`
	Files       int        `json:"files"`
	Status      RunStatus  `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	DurationMS  float64    `json:"duration_ms,omitempty"`
	ResultCount int64      `json:"result_count"`
	Cached      bool       `json:"cached,omitempty"`
	Error       string     `json:"error,omitempty"`

	cancel context.CancelFunc
}

// Runs tracks searches so they can be listed and cancelled
type Runs struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	now    func() time.Time
	logger zerolog.Logger
}

func NewRuns(logger zerolog.Logger) *Runs {
	return &Runs{
		runs:   make(map[string]*Run),
		now:    time.Now,
		logger: logger.With().Str("component", "search_runs").Logger(),
	}
}

// start registers a run and returns the context its work must use
func (r *Runs) start(ctx context.Context, id string, req Request) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &Run{
		ID:        id,
		User:      req.User,
		Term:      req.Term,
		Column:    req.Column,
		Mode:      req.Mode,
		Files:     len(req.Files),
		Status:    RunRunning,
		StartTime: r.now(),
		cancel:    cancel,
	}
	r.logger.Debug().Str("run_id", id).Msg("Search run started")
	return ctx
}

// finish records the outcome and releases the run's context. A run that was
// cancelled stays cancelled.
func (r *Runs) finish(id string, resp *Response, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return
	}
	run.cancel()

	if run.EndTime == nil {
		now := r.now()
		run.EndTime = &now
		run.DurationMS = float64(now.Sub(run.StartTime).Microseconds()) / 1000
	}
	if resp != nil {
		run.ResultCount = resp.TotalResults
		run.Cached = resp.Cached
	}
	if run.Status == RunRunning {
		if err != nil {
			run.Status = RunFailed
			run.Error = err.Error()
		} else {
			run.Status = RunCompleted
		}
	}

	r.logger.Debug().
		Str("run_id", id).
		Str("status", string(run.Status)).
		Float64("duration_ms", run.DurationMS).
		Msg("Search run finished")

	r.prune(RunRetention)
}

// Cancel stops a running search. Files not yet searched report the
// cancellation as their error.
func (r *Runs) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return errors.New(ErrRunNotFound, "search run not found", nil).AddContext("run_id", id)
	}
	if run.Status != RunRunning {
		return errors.New(ErrRunNotRunning, "search run is not running", nil).
			AddContext("run_id", id).
			AddContext("status", string(run.Status))
	}

	run.cancel()
	now := r.now()
	run.EndTime = &now
	run.DurationMS = float64(now.Sub(run.StartTime).Microseconds()) / 1000
	run.Status = RunCancelled

	r.logger.Info().Str("run_id", id).Float64("duration_ms", run.DurationMS).Msg("Search run cancelled")
	return nil
}

// Get returns a copy of one run
func (r *Runs) Get(id string) (Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return Run{}, errors.New(ErrRunNotFound, "search run not found", nil).AddContext("run_id", id)
	}
	return *run, nil
}

// List returns copies of the tracked runs, newest first
func (r *Runs) List(runningOnly bool) []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		if runningOnly && run.Status != RunRunning {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Prune forgets finished runs that ended more than maxAge ago
func (r *Runs) Prune(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prune(maxAge)
}

func (r *Runs) prune(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, run := range r.runs {
		if run.Status != RunRunning && run.EndTime != nil && run.EndTime.Before(cutoff) {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}
