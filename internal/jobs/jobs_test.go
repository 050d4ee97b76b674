package jobs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aleksandr071218/wb-parser/internal/engine"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func validRequest() Request {
	return Request{
		URL:         "https://www.wildberries.ru/catalog/zhenshchinam/odezhda/platya",
		Step:        5000,
		MaxProducts: 6000,
	}
}

// waitFor polls the task until it reaches a final status.
func waitFor(t *testing.T, m *Manager, id string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = m.Status(context.Background(), id)
		return err == nil && task.Status.Done()
	}, 2*time.Second, 5*time.Millisecond, "task should finish")
	return task
}

func TestManager_SubmitSucceeds(t *testing.T) {
	var got Request
	run := func(ctx context.Context, req Request) (*engine.Summary, error) {
		got = req
		return &engine.Summary{StateName: "done", Inserted: 42}, nil
	}
	m := NewManager(run, NewMemoryRegistry(), 2, testLogger)
	defer m.Shutdown(context.Background())

	task, err := m.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, task.Status)
	assert.NotEmpty(t, task.ID)

	final := waitFor(t, m, task.ID)
	assert.Equal(t, StatusSucceeded, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, int64(42), final.Result.Inserted)
	assert.NotNil(t, final.FinishedAt)
	assert.Equal(t, validRequest(), got)
}

func TestManager_SubmitFails(t *testing.T) {
	run := func(ctx context.Context, req Request) (*engine.Summary, error) {
		return &engine.Summary{StateName: "failed", Inserted: 7}, errors.New("calibration failed")
	}
	m := NewManager(run, NewMemoryRegistry(), 1, testLogger)
	defer m.Shutdown(context.Background())

	task, err := m.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	final := waitFor(t, m, task.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, "calibration failed", final.Error)
	require.NotNil(t, final.Result, "partial progress should be reported")
	assert.Equal(t, int64(7), final.Result.Inserted)
}

func TestManager_PanicMarksFailed(t *testing.T) {
	run := func(ctx context.Context, req Request) (*engine.Summary, error) {
		panic("boom")
	}
	m := NewManager(run, NewMemoryRegistry(), 1, testLogger)
	defer m.Shutdown(context.Background())

	task, err := m.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	final := waitFor(t, m, task.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "boom")
}

func TestManager_RejectsInvalidRequests(t *testing.T) {
	m := NewManager(nil, NewMemoryRegistry(), 1, testLogger)
	defer m.Shutdown(context.Background())

	tests := []struct {
		name string
		req  Request
	}{
		{"missing url", Request{Step: 10, MaxProducts: 20}},
		{"zero step", Request{URL: "https://x", MaxProducts: 20}},
		{"zero max", Request{URL: "https://x", Step: 10}},
		{"step above max", Request{URL: "https://x", Step: 30, MaxProducts: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestManager_BoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})
	run := func(ctx context.Context, req Request) (*engine.Summary, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return &engine.Summary{}, nil
	}
	m := NewManager(run, NewMemoryRegistry(), 2, testLogger)
	defer m.Shutdown(context.Background())

	var ids []string
	for range 5 {
		task, err := m.Submit(context.Background(), validRequest())
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	for _, id := range ids {
		assert.Equal(t, StatusSucceeded, waitFor(t, m, id).Status)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestManager_ShutdownCancelsRuns(t *testing.T) {
	started := make(chan struct{})
	run := func(ctx context.Context, req Request) (*engine.Summary, error) {
		close(started)
		<-ctx.Done()
		return &engine.Summary{StateName: "cancelled"}, ctx.Err()
	}
	reg := NewMemoryRegistry()
	m := NewManager(run, reg, 1, testLogger)

	task, err := m.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	final, err := reg.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)

	_, err = m.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_UnknownTask(t *testing.T) {
	m := NewManager(nil, NewMemoryRegistry(), 1, testLogger)
	defer m.Shutdown(context.Background())

	_, err := m.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func createTestRegistry(t *testing.T) (*SQLiteRegistry, string) {
	dbPath := filepath.Join(t.TempDir(), "registry", "tasks.db")
	reg, err := NewSQLiteRegistry(dbPath)
	require.NoError(t, err, "should create registry")
	return reg, dbPath
}

func TestSQLiteRegistry_RoundTrip(t *testing.T) {
	reg, _ := createTestRegistry(t)
	defer reg.Close()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	task := Task{
		ID:        "t-1",
		Status:    StatusAccepted,
		Request:   validRequest(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, reg.Put(ctx, task))

	got, err := reg.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, validRequest(), got.Request)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.FinishedAt)

	task.Status = StatusSucceeded
	task.Result = &engine.Summary{StateName: "done", Inserted: 12000, Windows: 3}
	task.FinishedAt = &now
	require.NoError(t, reg.Put(ctx, task))

	got, err = reg.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, int64(12000), got.Result.Inserted)
	assert.Equal(t, "done", got.Result.StateName)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(now))
}

func TestSQLiteRegistry_NotFound(t *testing.T) {
	reg, _ := createTestRegistry(t)
	defer reg.Close()

	_, err := reg.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestSQLiteRegistry_FailsInterruptedTasksOnOpen(t *testing.T) {
	reg, dbPath := createTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, reg.Put(ctx, Task{ID: "running", Status: StatusRunning, Request: validRequest(), CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, reg.Put(ctx, Task{ID: "done", Status: StatusSucceeded, Request: validRequest(), CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, reg.Close())

	reg, err := NewSQLiteRegistry(dbPath)
	require.NoError(t, err)
	defer reg.Close()

	got, err := reg.Get(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, interruptedMsg, got.Error)

	got, err = reg.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestManager_WithSQLiteRegistry(t *testing.T) {
	reg, _ := createTestRegistry(t)
	defer reg.Close()
	run := func(ctx context.Context, req Request) (*engine.Summary, error) {
		return &engine.Summary{StateName: "done", Inserted: 1}, nil
	}
	m := NewManager(run, reg, 1, testLogger)
	defer m.Shutdown(context.Background())

	task, err := m.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	final := waitFor(t, m, task.ID)
	assert.Equal(t, StatusSucceeded, final.Status)
	assert.Equal(t, int64(1), final.Result.Inserted)
}
