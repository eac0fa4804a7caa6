package prescriptions

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusReady      Status = "ready"
	StatusPaid       Status = "paid"
	StatusDispatched Status = "dispatched"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

// aliasReadyToShip is accepted on input and stored as ready.
const aliasReadyToShip = "ready_to_ship"

// transitions is the only place legal status moves are defined.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusApproved, StatusRejected, StatusCancelled},
	StatusProcessing: {StatusApproved, StatusRejected, StatusReady},
	StatusApproved:   {StatusReady, StatusDispatched, StatusPaid, StatusCancelled},
	StatusReady:      {StatusDispatched, StatusPaid, StatusCancelled},
	StatusPaid:       {StatusReady, StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusDelivered, StatusCompleted},
	StatusDelivered:  {StatusCompleted},
	StatusRejected:   {},
	StatusCancelled:  {},
	StatusCompleted:  {},
}

// rank orders statuses along the shipping path. Used to stop mirrored
// updates from moving a prescription backwards.
var rank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusApproved:   2,
	StatusReady:      3,
	StatusPaid:       4,
	StatusDispatched: 5,
	StatusDelivered:  6,
	StatusCompleted:  7,
}

var ErrInvalidTransition = errors.New("invalid prescription status transition")

// InvalidTransitionError lists what the caller could have done instead.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move prescription from %s to %s (allowed: %s)", e.From, e.To, joinStatuses(e.Allowed))
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || target == ErrInvalidState
}

func (e *InvalidTransitionError) CurrentStatus() string     { return string(e.From) }
func (e *InvalidTransitionError) AllowedStatuses() []string { return statusStrings(e.Allowed) }

// All returns every known status in table order.
func All() []Status {
	return []Status{
		StatusPending, StatusProcessing, StatusApproved, StatusReady, StatusPaid,
		StatusDispatched, StatusDelivered, StatusCompleted, StatusRejected, StatusCancelled,
	}
}

func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == aliasReadyToShip {
		return StatusReady, nil
	}
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown prescription status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// AtOrBeyond reports whether s has already reached target on the shipping
// path. Off-path statuses (rejected, cancelled) never compare as beyond.
func (s Status) AtOrBeyond(target Status) bool {
	rs, ok1 := rank[s]
	rt, ok2 := rank[target]
	return ok1 && ok2 && rs >= rt
}

// AllowedFrom returns a copy of the legal next statuses.
func AllowedFrom(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

func Validate(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to, Allowed: AllowedFrom(from)}
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func joinStatuses(in []Status) string {
	if len(in) == 0 {
		return "none"
	}
	return strings.Join(statusStrings(in), ", ")
}
