package prescriptions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound         = errors.New("prescription not found")
	ErrInvalidState     = errors.New("prescription not in a valid state for this operation")
	ErrValidation       = errors.New("invalid prescription input")
	ErrStaffNotFound    = errors.New("staff member not found")
	ErrConcurrentUpdate = errors.New("prescription changed concurrently")
)

// StateError is returned when an operation's precondition on the current
// status does not hold. Allowed holds the transitions legal from Current.
type StateError struct {
	Op      string
	Current Status
	Allowed []Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: prescription is %s (allowed next: %s)", e.Op, e.Current, joinStatuses(e.Allowed))
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

func (e *StateError) CurrentStatus() string     { return string(e.Current) }
func (e *StateError) AllowedStatuses() []string { return statusStrings(e.Allowed) }

// NewStateError builds a StateError for op against the current status.
func NewStateError(op string, current Status) error {
	return &StateError{Op: op, Current: current, Allowed: AllowedFrom(current)}
}

// ValidationError carries per-field messages back to the caller.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalidField(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
