package jobs

import (
	"errors"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/engine"
)

// Status is the lifecycle state of a submitted task.
type Status string

const (
	StatusAccepted  Status = "Accepted"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// Done reports whether the task will not change any more.
func (s Status) Done() bool { return s == StatusSucceeded || s == StatusFailed }

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrManagerClosed  = errors.New("job manager is shut down")
	ErrInvalidRequest = errors.New("invalid parse request")
)

const interruptedMsg = "interrupted by restart"

// Request is one crawl submission. Step and MaxProducts are the target
// window size range: a calibrated window holds between Step and
// MaxProducts items.
type Request struct {
	URL         string `json:"url"`
	Step        int    `json:"step"`
	MaxProducts int    `json:"max_products"`
}

// Task is the tracked state of a Request.
type Task struct {
	ID         string          `json:"task_id"`
	Status     Status          `json:"status"`
	Request    Request         `json:"request"`
	Result     *engine.Summary `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
