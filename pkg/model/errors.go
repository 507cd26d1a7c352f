package model

import (
	"fmt"
	"time"
)

// ValidationError means the caller's input is unusable. It is returned
// synchronously, before any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError is a non-precondition failure status from the control
// plane. It always halts the step that saw it.
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: control plane returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// TimeoutError means a bounded wait elapsed without its target showing
// up. Whether that is fatal depends on the call site: commit drains and
// confirmation polls absorb it, mandatory value extraction does not.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Elapsed)
}

// NotFoundError means the thing itself is structurally absent, as
// opposed to "not populated yet".
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
