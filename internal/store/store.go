package store

import (
	"context"
	"errors"

	"github.com/mvasquez/taskgraph/pkg/model"
)

// Sentinel errors returned by Store operations. Server handlers map these
// to HTTP status codes via errors.Is.
var (
	// ErrConflict is returned by CreateTask when the id already exists.
	ErrConflict = errors.New("task id already exists")
	// ErrMissingDependency is returned by CreateTask when a declared
	// dependency id does not exist.
	ErrMissingDependency = errors.New("dependency task does not exist")
)

// ClaimResult reports the outcome of an atomic claim attempt.
type ClaimResult int

const (
	// Claimed means the conditional update succeeded: the task is now RUNNING
	// and owned by the caller.
	Claimed ClaimResult = iota
	// Lost means the task was no longer QUEUED by the time the update ran
	// (claimed by another iteration, or already terminal).
	Lost
)

// Store is the durable persistence layer for tasks. It is the single
// source of truth: every mutation commits before it is reported to the
// caller, and every other component reads and mutates exclusively through
// this interface.
type Store interface {
	// CreateTask persists task in state QUEUED. Fails with ErrConflict if
	// task.ID already exists, or ErrMissingDependency if any of task.Deps
	// does not refer to an existing task. Acyclicity is the caller's
	// responsibility (see internal/admission).
	CreateTask(ctx context.Context, task *model.Task) error

	// GetTask returns the task with the given id, or (nil, nil) if it does
	// not exist.
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// ListTasks returns every task, ordered by created_at ascending.
	ListTasks(ctx context.Context) ([]*model.Task, error)

	// FindReadyTaskIDs returns the ids of QUEUED tasks all of whose
	// dependencies are COMPLETED, ordered by created_at ascending (FIFO).
	// The result is a snapshot; staleness is corrected by Claim.
	FindReadyTaskIDs(ctx context.Context) ([]string, error)

	// Claim performs the single conditional update that prevents double
	// execution: QUEUED -> RUNNING, and only if the row is still QUEUED.
	Claim(ctx context.Context, id string) (ClaimResult, error)

	// Complete transitions a RUNNING task to COMPLETED or FAILED. status
	// must be one of those two terminal values. Returns an error if the
	// task is not currently RUNNING.
	Complete(ctx context.Context, id string, status model.Status) error

	// ResetRunningToQueued atomically moves every RUNNING task back to
	// QUEUED and returns the number of tasks reset. Used only by Recovery.
	ResetRunningToQueued(ctx context.Context) (int, error)

	// Migrate creates all required tables and indexes. Idempotent.
	Migrate(ctx context.Context) error

	// Close releases the underlying database connection.
	Close() error
}
