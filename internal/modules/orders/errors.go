package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("order not found")
	ErrInvalidState         = errors.New("order not in a valid state for this operation")
	ErrOrderNumberExhausted = errors.New("could not allocate a unique order number")
	ErrAlreadyExists        = errors.New("prescription already has an order")
	ErrConcurrentUpdate     = errors.New("order changed concurrently")
)

// StateError reports the order status that blocked an action.
type StateError struct {
	Action  string
	Current Status
	Allowed []Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: order is %s", e.Action, e.Current)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

func (e *StateError) CurrentStatus() string { return string(e.Current) }

func (e *StateError) AllowedStatuses() []string {
	out := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		out[i] = string(s)
	}
	return out
}

// NewStateError reports that action is not possible from current.
func NewStateError(action string, current Status) error {
	return &StateError{Action: action, Current: current, Allowed: transitions[current]}
}
