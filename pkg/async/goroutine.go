package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/openfortress/gatehouse/pkg/observability"
)

// SafeGo runs fn on its own goroutine under a bounded context. Panics are
// recovered and logged under the task name, so a misbehaving background
// task cannot take its caller down. Errors are logged, not returned; use
// this for fire-and-forget work like scheduled sweeps.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, task string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  task,
					"stack": string(debug.Stack()),
				}).Error(fmt.Sprintf("background task panicked: %v", r))
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", task).WithError(err).Error("background task failed")
		}
	}()
}
