package types

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout           = errors.New("operation timed out")
	ErrMaxRetries        = errors.New("max retries exceeded")
	ErrDuplicate         = errors.New("duplicate article")
	ErrInvalidURL        = errors.New("invalid URL")
	ErrProbeUnavailable  = errors.New("result count not found on page")
	ErrUnidentifiable    = errors.New("item has no article")
	ErrCalibrationFailed = errors.New("calibration failed")
	ErrWindowFailed      = errors.New("window could not be opened")
	ErrNoProgress        = errors.New("window does not advance the lower bound")
	ErrInvalidBand       = errors.New("target band minimum exceeds maximum")
	ErrRunStopped        = errors.New("run has been stopped")
)

// RenderError wraps failures of the rendering session.
type RenderError struct {
	URL       string
	Op        string
	Err       error
	Retryable bool
}

func (e *RenderError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("render error (%s) for %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("render error (%s): %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) IsRetryable() bool { return e.Retryable }

// ParseError reports an unusable extraction rule: a count pattern or
// XPath expression that does not compile.
type ParseError struct {
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (selector=%q): %v", e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur in a storage backend.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s %s): %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PageError reports a walk that stopped before the last page of a window.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("walk stopped after page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt. Render errors
// carry their own verdict, timeouts and storage failures are always retried.
// Data-quality and contract errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidBand),
		errors.Is(err, ErrUnidentifiable),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrRunStopped):
		return false
	}
	var re *RenderError
	if errors.As(err, &re) {
		return re.Retryable
	}
	var se *StorageError
	if errors.As(err, &se) {
		return true
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProbeUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
