package executor

import (
	"context"
	"fmt"

	"github.com/mvasquez/taskgraph/pkg/model"
)

// FailingExecutor is a test double that always fails after the configured
// delay, used to exercise the FAILED path without depending on a real
// workload that can fail.
type FailingExecutor struct{}

// Run sleeps for task.DurationMS like SleepExecutor, then returns an error.
func (f FailingExecutor) Run(ctx context.Context, task *model.Task) error {
	if err := (SleepExecutor{}).Run(ctx, task); err != nil {
		return err
	}
	return fmt.Errorf("task %s: simulated execution failure", task.ID)
}
