// Package scheduler implements the Dispatcher control loop, the bounded
// Worker Pool, and startup Recovery.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/mvasquez/taskgraph/internal/executor"
	"github.com/mvasquez/taskgraph/internal/store"
)

// completion is posted by the Worker Pool when a claimed task reaches a
// terminal state, so the Dispatcher -- and only the Dispatcher -- ever
// mutates inFlight.
type completion struct {
	taskID string
}

// Dispatcher is the single control loop that claims ready tasks and hands
// them to the Worker Pool. Exactly one Dispatcher runs per process; its
// select loop keeps one iteration active at a time, so inFlight needs no
// locking.
type Dispatcher struct {
	store         store.Store
	pool          *WorkerPool
	logger        *slog.Logger
	maxConcurrent int

	inFlight int
	wake     chan struct{}
	results  chan completion
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Dispatcher and the Worker Pool it feeds. maxConcurrent
// caps how many tasks run at once.
func New(st store.Store, reg *executor.Registry, maxConcurrent int, logger *slog.Logger) *Dispatcher {
	logger = logger.With("component", "dispatcher")
	results := make(chan completion, maxConcurrent)

	d := &Dispatcher{
		store:         st,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		wake:          make(chan struct{}, 1),
		results:       results,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	d.pool = NewWorkerPool(maxConcurrent, reg, st, results, logger)
	return d
}

// Wake requests a dispatch iteration. It coalesces: multiple calls between
// iterations collapse into a single pending wake-up, via a non-blocking
// send into a capacity-1 channel.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs the control loop until ctx is cancelled or Stop is called.
// Each iteration of the select handles one coalesced signal (an initial
// wake, an admission, a completion, or a recovery sweep) and then performs
// a full dispatch pass.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher started", "max_concurrent", d.maxConcurrent)
	for {
		select {
		case <-ctx.Done():
			d.pool.Close()
			close(d.doneCh)
			return ctx.Err()
		case <-d.stopCh:
			d.pool.Close()
			close(d.doneCh)
			return nil
		case c := <-d.results:
			d.inFlight--
			d.logger.Debug("task completed", "task_id", c.taskID, "in_flight", d.inFlight)
			d.dispatch(ctx)
		case <-d.wake:
			d.dispatch(ctx)
		}
	}
}

// Stop requests the loop exit and waits for in-flight workers to drain.
// No new tasks are claimed once Stop has been called, but tasks already
// handed to the pool run to completion and commit their terminal state.
func (d *Dispatcher) Stop() error {
	close(d.stopCh)
	<-d.doneCh
	return nil
}

// dispatch is one scheduling iteration: while capacity remains, query
// ready ids and attempt to claim each in FIFO order.
func (d *Dispatcher) dispatch(ctx context.Context) {
	for d.inFlight < d.maxConcurrent {
		ready, err := d.store.FindReadyTaskIDs(ctx)
		if err != nil {
			d.logger.Error("find ready tasks", "error", err)
			return
		}
		if len(ready) == 0 {
			return
		}

		claimedAny := false
		for _, id := range ready {
			if d.inFlight >= d.maxConcurrent {
				break
			}

			result, err := d.store.Claim(ctx, id)
			if err != nil {
				d.logger.Error("claim", "task_id", id, "error", err)
				continue
			}
			if result == store.Lost {
				// Another iteration or a stale snapshot already claimed
				// this id; the claim protocol guarantees no two iterations
				// both succeed, so simply move on.
				continue
			}

			task, err := d.store.GetTask(ctx, id)
			if err != nil || task == nil {
				d.logger.Error("load claimed task", "task_id", id, "error", err)
				continue
			}

			d.inFlight++
			claimedAny = true
			d.logger.Info("task dispatched", "task_id", id, "in_flight", d.inFlight)
			d.pool.Submit(task)
		}

		if !claimedAny {
			return
		}
	}
}
