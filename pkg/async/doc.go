// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and per-item error attribution.
//
// # Key Functions
//
// SafeGo: Execute fire-and-forget work in a goroutine with safety features
//
//	async.SafeGo(ctx, logger, time.Minute, "session sweep", func(ctx context.Context) error {
//		_, err := manager.SweepExpired(ctx)
//		return err
//	})
//
// BatchIndexed: Concurrent batch processing with per-item error attribution
//
//	errs := async.BatchIndexed(ctx, pairs, 4, 10*time.Second,
//		func(ctx context.Context, i int, p Pair) error {
//			return grant(ctx, p)
//		})
//
// # Use Cases
//
// Bulk operation item processing, scheduled background sweeps
package async
