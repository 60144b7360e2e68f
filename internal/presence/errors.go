package presence

import (
	"errors"
	"fmt"
)

// ErrNotFound signals an unknown person or event id. It is fatal for the
// single operation only; batch siblings are unaffected.
var ErrNotFound = errors.New("not found")

// RejectReason enumerates why the validator refused a proposed event.
type RejectReason string

const (
	ReasonFirstEntryMustBeIn RejectReason = "FIRST_ENTRY_MUST_BE_IN"
	ReasonDuplicateState     RejectReason = "DUPLICATE_STATE"
	ReasonInvalidType        RejectReason = "INVALID_TYPE"
)

// ValidationError is an expected business rejection. It carries the person's
// current state so the caller can correct its view.
type ValidationError struct {
	Reason       RejectReason
	CurrentState State
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mark rejected: %s (current state %s)", e.Reason, e.CurrentState)
}

// TransientError wraps a collaborator IO failure. The operation is safe to
// retry: nothing was mutated before the failure point.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StateSyncError reports a mark whose event was persisted but whose cached
// state could not be updated. Retrying would duplicate the event. The stale
// cache surfaces as STATE_DRIFT in consistency checks and is corrected with
// a state reset.
type StateSyncError struct {
	Event Event
	Err   error
}

func (e *StateSyncError) Error() string {
	return fmt.Sprintf("event %s persisted but state cache not updated: %v", e.Event.ID, e.Err)
}

func (e *StateSyncError) Unwrap() error { return e.Err }
