package executor

import "sync"

// Registry maps a task's Type to the Executor that should run it. Task
// type is an opaque, uninterpreted string as far as the scheduling engine
// is concerned; nothing in the core registers per-type executors, so Get
// always falls back to the configured default unless a deployment
// explicitly wires one up.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]Executor
	fallback Executor
}

// NewRegistry creates a Registry whose Get falls back to fallback for any
// type with no specific Executor registered.
func NewRegistry(fallback Executor) *Registry {
	return &Registry{
		byType:   make(map[string]Executor),
		fallback: fallback,
	}
}

// Register wires an Executor for a specific task type.
func (r *Registry) Register(taskType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[taskType] = exec
}

// Get returns the Executor for taskType, or the fallback if none is
// registered for it.
func (r *Registry) Get(taskType string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if exec, ok := r.byType[taskType]; ok {
		return exec
	}
	return r.fallback
}
