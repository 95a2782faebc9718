package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvasquez/taskgraph/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a
// Store. Use ":memory:" for an in-memory database (useful in tests). A
// single *sql.DB is shared by every goroutine in the process; SQLite's
// single-writer semantics under WAL serialize concurrent write
// transactions without any extra application-level locking.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" opens its own empty database, so
		// the pool is held to one connection to keep a single database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// CreateTask validates uniqueness and dependency existence and inserts the
// task, all inside one transaction.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "id", task.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, task.ID).Scan(&exists); err == nil {
		return ErrConflict
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("check existing id: %w", err)
	}

	for _, dep := range task.Deps {
		var depExists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, dep).Scan(&depExists)
		if err == sql.ErrNoRows {
			return ErrMissingDependency
		}
		if err != nil {
			return fmt.Errorf("check dependency %s: %w", dep, err)
		}
	}

	deps := task.Deps
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	// created_at is written in UTC with a fixed nine-digit fraction so that
	// ORDER BY created_at on the text column is chronological order.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, type, duration_ms, dependencies, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.Type, task.DurationMS, string(depsJSON), string(model.StatusQueued),
		task.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	// OR IGNORE makes a repeated dependency id in the submission a no-op
	// against the composite primary key; the dependency list is treated as
	// a set.
	for _, dep := range task.Deps {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_task_id) VALUES (?, ?)`,
			task.ID, dep,
		); err != nil {
			return fmt.Errorf("insert dependency %s: %w", dep, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	task.Status = model.StatusQueued
	return nil
}

// GetTask returns the task with the given id, or (nil, nil) if absent.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "id", id)
	return s.scanTask(s.db.QueryRowContext(ctx,
		`SELECT seq, id, type, duration_ms, dependencies, status, created_at, started_at, finished_at
		 FROM tasks WHERE id = ?`, id))
}

// ListTasks returns every task ordered by created_at ascending.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*model.Task, error) {
	s.logger.Debug("sql", "op", "list", "table", "tasks")

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, type, duration_ms, dependencies, status, created_at, started_at, finished_at
		 FROM tasks ORDER BY created_at, seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanTasks(rows)
}

// FindReadyTaskIDs returns ids of QUEUED tasks whose dependencies (if any)
// are all COMPLETED, ordered for FIFO dispatch.
func (s *SQLiteStore) FindReadyTaskIDs(ctx context.Context) ([]string, error) {
	s.logger.Debug("sql", "op", "find_ready", "table", "tasks")

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id FROM tasks t
		WHERE t.status = 'QUEUED'
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies td
			JOIN tasks dep ON dep.id = td.depends_on_task_id
			WHERE td.task_id = t.id AND dep.status != 'COMPLETED'
		)
		ORDER BY t.created_at, t.seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim is the only place a task transitions QUEUED -> RUNNING. The WHERE
// clause guarantees at most one caller ever observes RowsAffected() == 1
// for a given id, which is what makes execution at-most-once per process
// lifetime.
func (s *SQLiteStore) Claim(ctx context.Context, id string) (ClaimResult, error) {
	s.logger.Debug("sql", "op", "claim", "id", id)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'RUNNING', started_at = ? WHERE id = ? AND status = 'QUEUED'`,
		now, id,
	)
	if err != nil {
		return Lost, fmt.Errorf("claim %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return Lost, err
	}
	if n == 0 {
		return Lost, nil
	}
	return Claimed, nil
}

// Complete transitions a RUNNING task to a terminal status (COMPLETED or
// FAILED). Durable before returning.
func (s *SQLiteStore) Complete(ctx context.Context, id string, status model.Status) error {
	s.logger.Debug("sql", "op", "complete", "id", id, "status", status)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, finished_at = ? WHERE id = ? AND status = 'RUNNING'`,
		string(status), now, id,
	)
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s is not RUNNING", id)
	}
	return nil
}

// ResetRunningToQueued makes every RUNNING task left behind by a crash
// re-claimable QUEUED work.
func (s *SQLiteStore) ResetRunningToQueued(ctx context.Context) (int, error) {
	s.logger.Debug("sql", "op", "reset_running")

	result, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'QUEUED' WHERE status = 'RUNNING'`)
	if err != nil {
		return 0, fmt.Errorf("reset running: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var depsJSON, status, createdAt string
	var startedAt, finishedAt *string

	err := row.Scan(&task.Seq, &task.ID, &task.Type, &task.DurationMS, &depsJSON,
		&status, &createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := populateTask(&task, depsJSON, status, createdAt, startedAt, finishedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *SQLiteStore) scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		var task model.Task
		var depsJSON, status, createdAt string
		var startedAt, finishedAt *string

		if err := rows.Scan(&task.Seq, &task.ID, &task.Type, &task.DurationMS, &depsJSON,
			&status, &createdAt, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if err := populateTask(&task, depsJSON, status, createdAt, startedAt, finishedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func populateTask(task *model.Task, depsJSON, status, createdAt string, startedAt, finishedAt *string) error {
	if err := json.Unmarshal([]byte(depsJSON), &task.Deps); err != nil {
		return fmt.Errorf("unmarshal dependencies: %w", err)
	}
	task.Status = model.Status(status)

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	task.CreatedAt = t

	if startedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *startedAt)
		if err != nil {
			return fmt.Errorf("parse started_at: %w", err)
		}
		task.StartedAt = &t
	}
	if finishedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *finishedAt)
		if err != nil {
			return fmt.Errorf("parse finished_at: %w", err)
		}
		task.FinishedAt = &t
	}
	return nil
}
