// Package executor defines the pluggable contract the Worker Pool uses to
// run a task body, and the default sleep-based implementation.
package executor

import (
	"context"

	"github.com/mvasquez/taskgraph/pkg/model"
)

// Executor runs a task's body and reports success or failure. The engine's
// contract with an Executor is abstract: given (id, duration_ms, type),
// eventually return success or failure. A subprocess launcher or remote
// dispatcher could replace SleepExecutor without the Worker Pool noticing;
// the scheduling guarantees never depend on what the body does.
type Executor interface {
	Run(ctx context.Context, task *model.Task) error
}
