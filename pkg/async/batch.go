package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// ItemError attributes a batch failure to the item that caused it.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// BatchIndexed processes a slice of items with bounded concurrency and
// returns one ItemError per failed item, sorted by index. Cancellation is
// cooperative: items not yet dispatched when ctx is cancelled are never
// attempted and produce no error entry. Panics in fn are converted to
// errors for that item only.
func BatchIndexed[T any](ctx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, int, T) error) []ItemError {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []ItemError
		wg   sync.WaitGroup
		sem  = make(chan struct{}, workers)
	)

	record := func(index int, err error) {
		mu.Lock()
		errs = append(errs, ItemError{Index: index, Err: err})
		mu.Unlock()
	}

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(index int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					record(index, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
				}
			}()

			// Cancellation is checked between items, never mid-item: an
			// item already dispatched runs to completion under its own
			// timeout even if the batch ctx is cancelled.
			itemCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := fn(itemCtx, index, item); err != nil {
				record(index, err)
			}
		}(i, item)
	}

	wg.Wait()

	sort.Slice(errs, func(a, b int) bool { return errs[a].Index < errs[b].Index })
	return errs
}
