package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mvasquez/taskgraph/internal/executor"
	"github.com/mvasquez/taskgraph/internal/store"
	"github.com/mvasquez/taskgraph/pkg/model"
)

// WorkerPool is a bounded set of execution slots: n long-lived goroutines,
// each pulling a claimed task off a jobs channel and executing it through
// a pluggable executor.Executor.
type WorkerPool struct {
	jobs     chan *model.Task
	results  chan<- completion
	registry *executor.Registry
	store    store.Store
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool starts n worker goroutines immediately; they park on the
// jobs channel until Submit is called.
func NewWorkerPool(n int, reg *executor.Registry, st store.Store, results chan<- completion, logger *slog.Logger) *WorkerPool {
	p := &WorkerPool{
		jobs:     make(chan *model.Task, n),
		results:  results,
		registry: reg,
		store:    st,
		logger:   logger.With("component", "workerpool"),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit hands a claimed task to the pool. The Dispatcher only calls this
// after incrementing in_flight, so the channel never backs up past
// max_concurrent pending sends.
func (p *WorkerPool) Submit(task *model.Task) {
	p.jobs <- task
}

// Close stops accepting new work and waits for every in-flight worker to
// finish its current task -- including committing its terminal state --
// before returning.
func (p *WorkerPool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.jobs {
		p.run(task)
	}
}

// run executes one task body and commits its terminal status. It
// deliberately does not thread the Dispatcher's lifecycle context through
// to the Store commit: a cancelled shutdown context must not prevent the
// final complete() call, or the task would be stranded in RUNNING until
// the next Recovery pass instead of committing cleanly now.
func (p *WorkerPool) run(task *model.Task) {
	exec := p.registry.Get(task.Type)

	err := exec.Run(context.Background(), task)

	outcome := model.StatusCompleted
	if err != nil {
		outcome = model.StatusFailed
		p.logger.Info("task failed", "task_id", task.ID, "error", err)
	} else {
		p.logger.Info("task completed", "task_id", task.ID)
	}

	if cerr := p.store.Complete(context.Background(), task.ID, outcome); cerr != nil {
		p.logger.Error("commit terminal state", "task_id", task.ID, "error", cerr)
	}

	p.results <- completion{taskID: task.ID}
}
