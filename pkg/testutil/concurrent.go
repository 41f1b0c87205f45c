package testutil

import (
	"sync"
	"sync/atomic"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Matched   int32
	Errors    int32
}

// Total returns the number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Matched + r.Errors
}

// RunConcurrent releases goroutines calls to fn at once and counts
// successes, errors for which match returns true, and other errors.
// A nil match counts every error as a plain error.
func RunConcurrent(goroutines int, match func(error) bool, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, matched, errs atomic.Int32
	start := make(chan struct{})

	for i := range goroutines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case match != nil && match(err):
				matched.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Matched:   matched.Load(),
		Errors:    errs.Load(),
	}
}
