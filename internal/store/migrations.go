package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the tasks table and its dependency join
// table. Each statement uses IF NOT EXISTS for idempotency.
//
// seq is the rowid-backed AUTOINCREMENT surrogate: created_at alone is not
// a reliable FIFO tiebreak at millisecond resolution when several tasks are
// admitted inside the same millisecond, so find_ready_task_ids orders by
// (created_at, seq).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		type         TEXT NOT NULL DEFAULT '',
		duration_ms  INTEGER NOT NULL DEFAULT 0,
		dependencies TEXT NOT NULL DEFAULT '[]',
		status       TEXT NOT NULL DEFAULT 'QUEUED',
		created_at   TEXT NOT NULL,
		started_at   TEXT,
		finished_at  TEXT
	)`,

	// Normalized join table, queried by find_ready_task_ids via NOT EXISTS.
	// The JSON dependencies column on tasks stays for cheap full-object
	// reads (get_task, list_tasks) without a join.
	`CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id            TEXT NOT NULL,
		depends_on_task_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_task_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_task_id)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
