// Package runner executes batches of independent tasks on a fixed-size worker
// pool. Results come back index-aligned with the submitted tasks.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
)

// Task is a deferred unit of work. Tasks are expected to turn their own
// failures into result values; the pool never aborts a batch.
type Task[T any] func(ctx context.Context) T

// Pool holds the concurrency limit shared by every batch it runs.
type Pool struct {
	limit  int
	logger *zap.Logger
	// onActive is called with the in-flight count after each claim and release.
	onActive func(active int)
}

// New creates a Pool. A non-positive limit is treated as 1.
func New(limit int, logger *zap.Logger) *Pool {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{limit: limit, logger: logger}
}

// Limit reports the maximum number of tasks in flight.
func (p *Pool) Limit() int {
	return p.limit
}

// OnActive registers an observer for the in-flight task count.
func (p *Pool) OnActive(fn func(active int)) {
	p.onActive = fn
}

// batch is the state shared by the workers of a single Run call. It never
// escapes Run.
type batch[T any] struct {
	next    atomic.Int64
	active  atomic.Int64
	results []T
}

// Run executes every task exactly once with at most p.Limit() in flight and
// returns one result per task at the task's index. It blocks until all tasks
// finish; ctx is handed to tasks but does not stop the pool from claiming.
func Run[T any](ctx context.Context, p *Pool, tasks []Task[T]) []T {
	state := &batch[T]{results: make([]T, len(tasks))}
	if len(tasks) == 0 {
		return state.results
	}
	workers := min(p.limit, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			work(ctx, p, state, tasks, id)
		}(i)
	}
	wg.Wait()
	return state.results
}

func work[T any](ctx context.Context, p *Pool, state *batch[T], tasks []Task[T], worker int) {
	for {
		idx := int(state.next.Add(1) - 1)
		if idx >= len(tasks) {
			return
		}
		p.observe(int(state.active.Add(1)))
		metrics.IncActiveTasks()
		state.results[idx] = execute(ctx, p.logger, tasks[idx], idx, worker)
		metrics.DecActiveTasks()
		p.observe(int(state.active.Add(-1)))
	}
}

func execute[T any](ctx context.Context, logger *zap.Logger, task Task[T], idx, worker int) (result T) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("task panicked",
				zap.Int("task", idx),
				zap.Int("worker", worker),
				zap.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	if task == nil {
		return result
	}
	return task(ctx)
}

func (p *Pool) observe(active int) {
	if p.onActive != nil {
		p.onActive(active)
	}
}
