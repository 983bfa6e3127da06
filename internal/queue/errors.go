package queue

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrTerminal is returned when a mutation targets a record that has
	// already reached a terminal status.
	ErrTerminal = errors.New("task already terminal")
)

// CapacityError rejects a submission while the host lacks the
// resources to take on more work. The task is never created.
type CapacityError struct {
	Reason string
}

func (e *CapacityError) Error() string {
	return "cannot accept task: " + e.Reason
}

// ToolError marks a failure reported by the tool runner collaborator.
// The executor records its message on the task and transitions to FAILED.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

func NewToolError(format string, args ...any) *ToolError {
	return &ToolError{Message: fmt.Sprintf(format, args...)}
}
