package async

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatchIndexed_AllSucceed(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var processed atomic.Int32

	errs := BatchIndexed(context.Background(), items, 3, 1*time.Second,
		func(ctx context.Context, i int, item int) error {
			processed.Add(1)
			return nil
		})

	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if processed.Load() != 5 {
		t.Errorf("expected 5 items processed, got %d", processed.Load())
	}
}

func TestBatchIndexed_AttributesFailuresToItems(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	boom := errors.New("boom")

	errs := BatchIndexed(context.Background(), items, 2, 1*time.Second,
		func(ctx context.Context, i int, item string) error {
			if i == 1 || i == 3 {
				return fmt.Errorf("processing %s: %w", item, boom)
			}
			return nil
		})

	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs[0].Index != 1 || errs[1].Index != 3 {
		t.Errorf("expected errors for indices 1 and 3, got %d and %d", errs[0].Index, errs[1].Index)
	}
	if !errors.Is(errs[0], boom) {
		t.Errorf("expected wrapped boom error, got %v", errs[0].Err)
	}
}

func TestBatchIndexed_RecoverFromPanic(t *testing.T) {
	items := []int{0, 1, 2}

	errs := BatchIndexed(context.Background(), items, 1, 1*time.Second,
		func(ctx context.Context, i int, item int) error {
			if i == 1 {
				panic("item blew up")
			}
			return nil
		})

	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if errs[0].Index != 1 {
		t.Errorf("expected panic attributed to index 1, got %d", errs[0].Index)
	}
}

func TestBatchIndexed_CancelDoesNotAbortInFlightItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []int{0}

	errs := BatchIndexed(ctx, items, 1, 1*time.Second,
		func(itemCtx context.Context, i int, item int) error {
			cancel()
			select {
			case <-itemCtx.Done():
				return itemCtx.Err()
			case <-time.After(50 * time.Millisecond):
				return nil
			}
		})

	if len(errs) != 0 {
		t.Errorf("item dispatched before cancellation should finish cleanly, got %v", errs)
	}
}

func TestBatchIndexed_CooperativeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := make([]int, 100)
	var attempted atomic.Int32

	errs := BatchIndexed(ctx, items, 1, 1*time.Second,
		func(ctx context.Context, i int, item int) error {
			if attempted.Add(1) == 3 {
				cancel()
			}
			return nil
		})

	if len(errs) != 0 {
		t.Errorf("cancelled items should produce no error entries, got %v", errs)
	}
	if n := attempted.Load(); n >= 100 {
		t.Errorf("expected early stop after cancellation, attempted %d", n)
	}
}
