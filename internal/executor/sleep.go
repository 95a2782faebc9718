package executor

import (
	"context"
	"time"

	"github.com/mvasquez/taskgraph/pkg/model"
)

// SleepExecutor is the default Executor: it simulates task work by
// sleeping for task.DurationMS milliseconds and then returns nil. The
// task body is a stand-in for a real workload the scheduling correctness
// properties never depend on.
type SleepExecutor struct{}

// Run blocks for task.DurationMS, or until ctx is cancelled.
func (SleepExecutor) Run(ctx context.Context, task *model.Task) error {
	timer := time.NewTimer(time.Duration(task.DurationMS) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
