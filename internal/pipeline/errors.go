package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownMonitor is returned when a configured monitor index does not exist.
var ErrUnknownMonitor = errors.New("monitor not found")

// ConfigParseError reports a malformed configuration payload.
type ConfigParseError struct {
	Field string
	Err   error
}

func (e *ConfigParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parsing config: %v", e.Err)
	}
	return fmt.Sprintf("parsing config field %s: %v", e.Field, e.Err)
}

func (e *ConfigParseError) Unwrap() error { return e.Err }

// PresentationError reports a failure to create or update the overlay surface.
type PresentationError struct {
	Op  string
	Err error
}

func (e *PresentationError) Error() string {
	return fmt.Sprintf("presentation %s: %v", e.Op, e.Err)
}

func (e *PresentationError) Unwrap() error { return e.Err }

// ProcessLifecycleError reports a worker that did not exit within its
// stop timeout and had its handles force-closed.
type ProcessLifecycleError struct {
	Worker  string
	Timeout time.Duration
}

func (e *ProcessLifecycleError) Error() string {
	return fmt.Sprintf("%s worker did not stop within %s, forcing", e.Worker, e.Timeout)
}

// Result is the outcome of a control operation as reported to the UI.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func ok() Result { return Result{Success: true} }

func failed(err error) Result { return Result{Error: err.Error()} }
