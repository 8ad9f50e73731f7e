package evaluation

import (
	"context"
	"sync"
)

// task is one unit of fan-out work. run must honor ctx cancellation.
type task struct {
	run func(ctx context.Context) taskResult
}

// runPool executes tasks through a bounded worker pool. Admission is FIFO;
// results arrive on the returned channel in completion order. Cancelling ctx
// drops all not-yet-started tasks; in-flight tasks see the cancelled ctx.
func runPool(ctx context.Context, concurrency int, tasks []task) <-chan taskResult {
	if concurrency < 1 {
		concurrency = 1
	}

	queue := make(chan task, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	results := make(chan taskResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				if ctx.Err() != nil {
					return
				}
				results <- t.run(ctx)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}
