package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TaskResult reports one task's outcome from a concurrent batch.
type TaskResult struct {
	TaskID  string
	Success bool
	Err     error
}

// ConcurrencyOptions bounds ExecuteTasksConcurrently.
type ConcurrencyOptions struct {
	// MaxConcurrent caps simultaneous executions. Zero or negative falls
	// back to the configured limit.
	MaxConcurrent int
}

// ExecuteTasksConcurrently runs the given tasks under a semaphore. Results
// come back in input order; one task's failure never disturbs its siblings.
func (e *Executor) ExecuteTasksConcurrently(ctx context.Context, ids []string, opts ConcurrencyOptions) []TaskResult {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = e.cfg.Limits.MaxConcurrentTasks
	}
	if limit <= 0 {
		limit = 1
	}

	sem := semaphore.NewWeighted(int64(limit))
	results := make([]TaskResult, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = TaskResult{TaskID: id, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer sem.Release(1)
			err := e.ExecuteTask(ctx, id, ExecuteOptions{})
			results[i] = TaskResult{TaskID: id, Success: err == nil, Err: err}
		}(i, id)
	}
	wg.Wait()
	return results
}
