package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Aleksandr071218/wb-parser/internal/engine"
)

// Registry persists task state.
type Registry interface {
	Put(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	Close() error
}

// MemoryRegistry keeps tasks for the lifetime of the process.
type MemoryRegistry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tasks: make(map[string]Task)}
}

func (r *MemoryRegistry) Put(_ context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (r *MemoryRegistry) Close() error { return nil }

// SQLiteRegistry stores tasks in a SQLite database so task status
// survives a restart of the server.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens the registry at dbPath. Tasks left Accepted or
// Running by a previous process are marked Failed.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &SQLiteRegistry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := r.failInterrupted(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) initSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			task_id      TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			url          TEXT NOT NULL,
			step         INTEGER NOT NULL,
			max_products INTEGER NOT NULL,
			result       TEXT,
			error        TEXT,
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL,
			finished_at  DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`)
	return err
}

func (r *SQLiteRegistry) failInterrupted() error {
	_, err := r.db.Exec(`
		UPDATE tasks SET status = ?, error = ?, updated_at = ?
		WHERE status IN (?, ?)`,
		StatusFailed, interruptedMsg, time.Now().UTC(),
		StatusAccepted, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark interrupted tasks: %w", err)
	}
	return nil
}

// Put inserts or replaces t.
func (r *SQLiteRegistry) Put(ctx context.Context, t Task) error {
	var result sql.NullString
	if t.Result != nil {
		b, err := json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, status, url, step, max_products, result, error, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at`,
		t.ID, t.Status, t.Request.URL, t.Request.Step, t.Request.MaxProducts,
		result, t.Error, t.CreatedAt.UTC(), t.UpdatedAt.UTC(), t.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// Get loads the task with id, or ErrTaskNotFound.
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (Task, error) {
	var (
		t          Task
		result     sql.NullString
		errText    sql.NullString
		finishedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT task_id, status, url, step, max_products, result, error, created_at, updated_at, finished_at
		FROM tasks WHERE task_id = ?`, id,
	).Scan(&t.ID, &t.Status, &t.Request.URL, &t.Request.Step, &t.Request.MaxProducts,
		&result, &errText, &t.CreatedAt, &t.UpdatedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("failed to load task %s: %w", id, err)
	}

	if result.Valid {
		var sum engine.Summary
		if err := json.Unmarshal([]byte(result.String), &sum); err != nil {
			return Task{}, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		t.Result = &sum
	}
	t.Error = errText.String
	if finishedAt.Valid {
		ft := finishedAt.Time
		t.FinishedAt = &ft
	}
	return t, nil
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}
