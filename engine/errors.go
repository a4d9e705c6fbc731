package engine

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError is a single payload-validation failure, reported as a
// path -> message mapping suitable for form-field display.
type FieldError struct {
	Path    string
	Message string
}

// ValidationError wraps one or more FieldErrors raised when a command
// payload did not match its declared schema.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Path, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IllegalStateTransitionError reports a command that requested a
// transition not allowed from the resource's current state.
type IllegalStateTransitionError struct {
	Resource string
	ID       string
	From     string
	To       string
	Reason   string
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition: %s %s: %s -> %s (%s)", e.Resource, e.ID, e.From, e.To, e.Reason)
}

// InvariantViolationError reports a mutation that would violate a
// model invariant (negative marking, duplicate generation, ...).
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Reason
}

// NotEnabledError reports a task-start or work-item-start issued for
// a task that is not currently enabled.
type NotEnabledError struct {
	WorkflowID WorkflowID
	TaskName   string
}

func (e *NotEnabledError) Error() string {
	return fmt.Sprintf("task %s/%s is not enabled", e.WorkflowID, e.TaskName)
}

// ConflictError reports a transactional conflict; the caller is
// expected to retry the command.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// PolicyFailureError reports a task's completion policy returning
// PolicyFail. No command returns it: a PolicyFail decision is applied
// as an ordinary failure transition with its own activities (see
// evaluateTaskCompletion and failTask).
type PolicyFailureError struct {
	TaskName string
}

func (e *PolicyFailureError) Error() string {
	return fmt.Sprintf("completion policy failed task %s", e.TaskName)
}

// ActivityFailureError wraps an error raised by a user-defined
// activity hook or routing predicate.
type ActivityFailureError struct {
	Activity string
	Err      error
}

func (e *ActivityFailureError) Error() string {
	return fmt.Sprintf("activity %s failed: %v", e.Activity, e.Err)
}

func (e *ActivityFailureError) Unwrap() error { return e.Err }

// ErrNotFound is returned by store lookups for a missing resource.
var ErrNotFound = errors.New("resource not found")

// IsConflict reports whether err (or any error it wraps) is a
// ConflictError, so callers can decide to retry.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
