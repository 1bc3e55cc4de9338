package orchestrator

import "sync"

// fanOut runs fn once per item with bounded concurrency, matching spec §5's
// "concurrent suspension points within a tick are permitted when
// independent (e.g. fetching trades for N source traders in parallel)".
// Simplified from the teacher's internal/workers/pool.go queue/worker
// shape: a tick's trader count is small and short-lived, so a per-tick
// bounded goroutine group replaces a long-lived worker pool.
func fanOut[T, R any](items []T, concurrency int, fn func(T) R) []R {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]R, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(item)
		}(i, item)
	}
	wg.Wait()
	return results
}
