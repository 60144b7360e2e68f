package leave

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Status is the lifecycle state of a leave application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Application is a leave request for a span of dates. Only approved leave
// blocks attendance marking.
type Application struct {
	ID        string    `json:"id"`
	PersonID  string    `json:"person_id"`
	FromDate  string    `json:"from_date"`
	ToDate    string    `json:"to_date"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	IsPaid    bool      `json:"is_paid"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether date falls inside the leave span. ISO dates compare
// lexicographically, so no time parsing is needed.
func (a Application) Covers(date string) bool {
	return a.FromDate <= date && date <= a.ToDate
}

// ResolutionKind is the caller's answer to a leave collision. Exactly one of
// the three must be chosen; an unresolved collision produces no event.
type ResolutionKind string

const (
	// ResolveOverride proceeds with the mark, stamping the leave id on the
	// event for audit. Requires an explicit reason.
	ResolveOverride ResolutionKind = "override"
	// ResolveEarlyReturn terminates the leave as of the return date and
	// voids future auto-generated events created under its assumption.
	ResolveEarlyReturn ResolutionKind = "early_return"
	// ResolveCancel abandons the mark; nothing changes.
	ResolveCancel ResolutionKind = "cancel"
)

// Resolution carries the chosen branch plus its required argument.
type Resolution struct {
	Kind       ResolutionKind `json:"kind"`
	Reason     string         `json:"reason,omitempty"`
	ReturnDate string         `json:"return_date,omitempty"`
}

// ConflictError is returned when a mark lands inside an approved leave and
// the caller has not yet chosen a resolution. It is a branch point, not a
// failure: the caller must come back with Override, EarlyReturn or Cancel.
type ConflictError struct {
	Leave Application
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("person %s has approved leave %s (%s..%s); resolution required",
		e.Leave.PersonID, e.Leave.ID, e.Leave.FromDate, e.Leave.ToDate)
}
