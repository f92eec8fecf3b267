package dispute

import (
	"errors"
	"fmt"

	"disputeflow/org"
)

var (
	ErrNotFound     = errors.New("dispute: not found")
	ErrForbidden    = errors.New("dispute: forbidden")
	ErrConflict     = errors.New("dispute: concurrent modification")
	ErrInvalidInput = errors.New("dispute: invalid input")

	// ErrInvalidTransition is wrapped by every rejection of the state machine.
	ErrInvalidTransition = errors.New("dispute: invalid status transition")

	ErrSameState         = errors.New("dispute: transition to the current status")
	ErrInvalidTarget     = errors.New("dispute: target status has no transition rule")
	ErrIllegalSource     = errors.New("dispute: source status not allowed for target")
	ErrUnauthorizedRole  = errors.New("dispute: role not allowed for transition")
	ErrUnauthorizedActor = errors.New("dispute: actor type not allowed for transition")
)

// TransitionError carries the inputs of a rejected transition. It matches
// both ErrInvalidTransition and its specific Kind under errors.Is.
type TransitionError struct {
	From  Status
	To    Status
	Role  org.Role
	Actor ActorType
	Kind  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s (role %s, actor %s)", e.Kind, e.From, e.To, e.Role, e.Actor)
}

func (e *TransitionError) Unwrap() []error {
	return []error{ErrInvalidTransition, e.Kind}
}

// Code is a stable machine-readable name of the rejection kind.
func (e *TransitionError) Code() string {
	switch e.Kind {
	case ErrSameState:
		return "SAME_STATE"
	case ErrInvalidTarget:
		return "INVALID_TARGET"
	case ErrIllegalSource:
		return "ILLEGAL_SOURCE"
	case ErrUnauthorizedRole:
		return "UNAUTHORIZED_ROLE"
	case ErrUnauthorizedActor:
		return "UNAUTHORIZED_ACTOR"
	}
	return "INVALID_TRANSITION"
}
