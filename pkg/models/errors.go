package models

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when an approval, lead, or trace does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyDecided is returned when deciding an approval that is no longer pending.
var ErrAlreadyDecided = errors.New("approval already decided")

// ErrConflict is returned when a create collides with an existing key.
var ErrConflict = errors.New("conflict: key already exists")

// ValidationError describes one rejected lead field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// ValidationErrors collects every field problem found in a lead.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "invalid lead: " + strings.Join(parts, "; ")
}

// ToolError wraps a failed act-phase tool invocation.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return "tool " + e.Tool + " failed: " + e.Err.Error()
}

func (e *ToolError) Unwrap() error { return e.Err }
