package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aleksandr071218/wb-parser/internal/engine"
)

// RunFunc executes one crawl to completion. The summary may be nil when
// the run failed before it started.
type RunFunc func(ctx context.Context, req Request) (*engine.Summary, error)

// Manager runs submitted tasks in the background, at most maxConcurrent
// at a time, and records their status in a Registry.
type Manager struct {
	run      RunFunc
	registry Registry
	sem      chan struct{}
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewManager creates a manager. maxConcurrent below 1 is treated as 1.
func NewManager(run RunFunc, registry Registry, maxConcurrent int, logger *slog.Logger) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		run:      run,
		registry: registry,
		sem:      make(chan struct{}, maxConcurrent),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "job_manager"),
	}
}

// Submit records req as Accepted and starts it in the background.
func (m *Manager) Submit(ctx context.Context, req Request) (Task, error) {
	if req.URL == "" {
		return Task{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if req.Step < 1 || req.MaxProducts < 1 {
		return Task{}, fmt.Errorf("%w: step and max_products must be positive", ErrInvalidRequest)
	}
	if req.Step > req.MaxProducts {
		return Task{}, fmt.Errorf("%w: step %d exceeds max_products %d", ErrInvalidRequest, req.Step, req.MaxProducts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Task{}, ErrManagerClosed
	}

	now := m.now()
	task := Task{
		ID:        uuid.NewString(),
		Status:    StatusAccepted,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.registry.Put(ctx, task); err != nil {
		return Task{}, err
	}

	m.wg.Add(1)
	go m.execute(task)

	m.logger.Info("task accepted", "task_id", task.ID, "url", req.URL, "step", req.Step, "max_products", req.MaxProducts)
	return task, nil
}

// Status returns the recorded state of the task with id.
func (m *Manager) Status(ctx context.Context, id string) (Task, error) {
	return m.registry.Get(ctx, id)
}

func (m *Manager) execute(task Task) {
	defer m.wg.Done()

	select {
	case m.sem <- struct{}{}:
	case <-m.ctx.Done():
		m.finish(task, nil, ErrManagerClosed)
		return
	}
	defer func() { <-m.sem }()

	task.Status = StatusRunning
	task.UpdatedAt = m.now()
	m.save(task)
	m.logger.Info("task running", "task_id", task.ID)

	sum, err := m.safeRun(task)
	m.finish(task, sum, err)
}

// safeRun keeps a panicking run from taking the server down.
func (m *Manager) safeRun(task Task) (sum *engine.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task panicked", "task_id", task.ID, "panic", r)
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	return m.run(m.ctx, task.Request)
}

func (m *Manager) finish(task Task, sum *engine.Summary, err error) {
	now := m.now()
	task.Result = sum
	task.UpdatedAt = now
	task.FinishedAt = &now
	if err != nil {
		task.Status = StatusFailed
		task.Error = err.Error()
		m.logger.Warn("task failed", "task_id", task.ID, "error", err)
	} else {
		task.Status = StatusSucceeded
		m.logger.Info("task succeeded", "task_id", task.ID)
	}
	m.save(task)
}

func (m *Manager) save(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.registry.Put(ctx, task); err != nil {
		m.logger.Error("failed to record task", "task_id", task.ID, "status", task.Status, "error", err)
	}
}

// Shutdown stops accepting tasks, cancels running ones and waits for them
// to record their final status or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
