package model

import "time"

// Task is the sole durable entity the scheduler operates on.
type Task struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	DurationMS int64      `json:"duration_ms"`
	Deps       []string   `json:"dependencies"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Seq is a monotonically increasing surrogate used to break created_at
	// ties deterministically when ordering FIFO among ready tasks.
	Seq int64 `json:"-"`
}

// Summary is the trimmed {id, status} view returned by list endpoints.
type Summary struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}
