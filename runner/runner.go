package runner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work executed by a ParallelRunner.
type Task struct {
	ID string
	Fn func(ctx context.Context) (any, error)
}

// Result represents the result of a task execution
type Result struct {
	TaskID string
	Output any
	Error  error
}

// ParallelRunner executes tasks concurrently with a bounded number of
// workers. Results are returned in task order regardless of completion order.
type ParallelRunner struct {
	maxConcurrency int
}

// NewParallelRunner creates a new parallel runner
func NewParallelRunner(maxConcurrency int) *ParallelRunner {
	if maxConcurrency <= 0 {
		maxConcurrency = 10 // Default concurrency
	}
	return &ParallelRunner{maxConcurrency: maxConcurrency}
}

// MaxConcurrency reports the worker limit.
func (pr *ParallelRunner) MaxConcurrency() int {
	return pr.maxConcurrency
}

// RunParallel executes the tasks and waits for all of them. A failing or
// panicking task does not cancel its siblings; its error is reported on
// its own Result.
func (pr *ParallelRunner) RunParallel(ctx context.Context, tasks []*Task) []*Result {
	results := make([]*Result, len(tasks))
	var g errgroup.Group
	g.SetLimit(pr.maxConcurrency)

	for i, task := range tasks {
		if task == nil {
			results[i] = &Result{Error: fmt.Errorf("task %d is nil", i)}
			continue
		}
		g.Go(func() error {
			results[i] = run(ctx, task)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func run(ctx context.Context, t *Task) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = &Result{
				TaskID: t.ID,
				Error:  fmt.Errorf("panic in task %s: %v", t.ID, r),
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return &Result{TaskID: t.ID, Error: err}
	}
	if t.Fn == nil {
		return &Result{TaskID: t.ID, Error: fmt.Errorf("task %s has no function", t.ID)}
	}
	output, err := t.Fn(ctx)
	return &Result{TaskID: t.ID, Output: output, Error: err}
}
