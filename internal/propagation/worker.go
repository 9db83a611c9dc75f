package propagation

import (
	"context"
	"log/slog"
	"sync"
)

// job is one satellite's position in the request.
type job struct {
	slot  int
	index int
}

// result is the outcome for one slot.
type result struct {
	traj *Trajectory
	err  error
}

// WorkerPool runs per-satellite propagation on a fixed number of goroutines.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// Run calls fn for every record index and returns the results in input order.
// Slots not reached before ctx is cancelled carry ctx.Err().
func (wp *WorkerPool) Run(ctx context.Context, indices []int, fn func(context.Context, int) (*Trajectory, error)) []result {
	results := make([]result, len(indices))
	if len(indices) == 0 {
		return results
	}

	workers := wp.workers
	if workers > len(indices) {
		workers = len(indices)
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				traj, err := fn(ctx, j.index)
				// Each slot is written by exactly one worker.
				results[j.slot] = result{traj: traj, err: err}
			}
		}()
	}

	fed := 0
feed:
	for slot, index := range indices {
		select {
		case jobs <- job{slot: slot, index: index}:
			fed++
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if fed < len(indices) {
		wp.logger.Debug("propagation cancelled", "fed", fed, "total", len(indices))
		for slot := fed; slot < len(indices); slot++ {
			results[slot] = result{err: ctx.Err()}
		}
	}
	return results
}
