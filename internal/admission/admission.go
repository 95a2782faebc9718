// Package admission validates and admits new task submissions: uniqueness,
// dependency existence, and acyclicity.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvasquez/taskgraph/internal/store"
	"github.com/mvasquez/taskgraph/pkg/model"
)

// Sentinel errors distinct from the Store's, since cycle/self-dependency
// detection happens here rather than in the persistence layer (the Store's
// CreateTask contract leaves acyclicity to the caller).
var (
	// ErrEmptyID is returned when the submitted task has no id.
	ErrEmptyID = errors.New("task id must not be empty")
	// ErrCycle is returned when admitting the task would introduce a cycle
	// in the dependency graph, including a task depending on itself.
	ErrCycle = errors.New("admitting this task would introduce a cycle")
)

// Waker is the subset of the Dispatcher's interface Admitter needs: a
// non-blocking, coalescing signal that new work may be ready.
type Waker interface {
	Wake()
}

// Admitter validates and admits new tasks.
type Admitter struct {
	store  store.Store
	waker  Waker // optional; nil in tests that don't exercise dispatch
	logger *slog.Logger
}

// New creates an Admitter. waker may be nil.
func New(st store.Store, waker Waker, logger *slog.Logger) *Admitter {
	return &Admitter{
		store:  st,
		waker:  waker,
		logger: logger.With("component", "admission"),
	}
}

// Admit validates and persists a new task submission, then signals the
// Dispatcher that new work may be ready.
//
// Returns ErrEmptyID, ErrCycle, store.ErrConflict, or store.ErrMissingDependency
// on rejection. On any rejection the graph is left unchanged.
func (a *Admitter) Admit(ctx context.Context, id, taskType string, durationMS int64, deps []string) (*model.Task, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	// A task cannot depend on itself; this is a one-node cycle and is
	// rejected before touching the store.
	for _, dep := range deps {
		if dep == id {
			return nil, ErrCycle
		}
	}

	// Every dependency must already exist.
	for _, dep := range deps {
		existing, err := a.store.GetTask(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("check dependency %s: %w", dep, err)
		}
		if existing == nil {
			return nil, store.ErrMissingDependency
		}
	}

	// Acyclicity. Previously admitted tasks already form a DAG, so a cycle
	// can only be introduced through the new node: walk the dependency
	// edges reachable from id's own dependencies and check whether id
	// itself is revisited. Uses an explicit worklist rather than recursion
	// so deep or wide graphs cannot exhaust the stack.
	if err := a.hasCycle(ctx, id, deps); err != nil {
		return nil, err
	}

	task := &model.Task{
		ID:         id,
		Type:       taskType,
		DurationMS: durationMS,
		Deps:       deps,
		Status:     model.StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}

	// Persist. The Store re-validates uniqueness and dependency existence
	// inside its own transaction, closing the race window between the
	// checks above and this insert.
	if err := a.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	a.logger.Info("task admitted", "task_id", id, "dependencies", len(deps))

	// Wake the Dispatcher so it re-evaluates readiness.
	if a.waker != nil {
		a.waker.Wake()
	}

	return task, nil
}

// hasCycle reports whether id is reachable from deps by following
// dependency edges, using an explicit stack instead of recursion.
func (a *Admitter) hasCycle(ctx context.Context, id string, deps []string) error {
	visited := make(map[string]bool)
	stack := append([]string{}, deps...)

	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]

		if cur == id {
			return ErrCycle
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		task, err := a.store.GetTask(ctx, cur)
		if err != nil {
			return fmt.Errorf("load dependency %s: %w", cur, err)
		}
		if task == nil {
			// Already validated to exist in step 2; a concurrent deletion
			// is not possible (the engine never deletes tasks), so this
			// would indicate a store bug rather than a real race.
			continue
		}
		stack = append(stack, task.Deps...)
	}

	return nil
}
