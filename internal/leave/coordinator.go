package leave

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Lookup is the read side the coordinator needs.
type Lookup interface {
	ApprovedLeaveOn(ctx context.Context, personID, date string) (*Application, error)
}

// Terminator shortens or cancels a leave during an early return.
type Terminator interface {
	Truncate(ctx context.Context, id, newToDate string) error
}

// AutoEventVoider removes auto-generated attendance events created under a
// leave's assumption. Only source=auto events inside the voided slice of the
// leave are ever deleted; manual and biometric events are append-only.
type AutoEventVoider interface {
	DeleteAutoEventsBetween(ctx context.Context, personID, afterDate, toDate, leaveID string) (int, error)
}

// Coordinator detects leave collisions and applies the caller's resolution.
type Coordinator struct {
	leaves Lookup
	term   Terminator
	voider AutoEventVoider
	now    func() time.Time
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(leaves Lookup, term Terminator, voider AutoEventVoider) *Coordinator {
	return &Coordinator{leaves: leaves, term: term, voider: voider, now: time.Now}
}

// Check returns the approved leave covering date, or nil.
func (c *Coordinator) Check(ctx context.Context, personID, date string) (*Application, error) {
	return c.leaves.ApprovedLeaveOn(ctx, personID, date)
}

// Outcome reports what Apply did so the caller can stamp the event.
type Outcome struct {
	// OverrideLeaveID is set when the resolution was an override; the caller
	// must record it on the event for audit.
	OverrideLeaveID string
	// Cancelled is true when the caller chose to abandon the mark.
	Cancelled bool
	// VoidedEvents is how many future auto events an early return removed.
	VoidedEvents int
}

// Apply executes one resolution against a colliding leave. Validation
// failures come back as plain errors; the mark must not proceed on error.
func (c *Coordinator) Apply(ctx context.Context, app Application, res Resolution) (Outcome, error) {
	switch res.Kind {
	case ResolveOverride:
		if res.Reason == "" {
			return Outcome{}, errors.New("override requires a reason")
		}
		log.Printf("audit: leave %s overridden for person %s: %s", app.ID, app.PersonID, res.Reason)
		return Outcome{OverrideLeaveID: app.ID}, nil

	case ResolveEarlyReturn:
		if res.ReturnDate == "" {
			return Outcome{}, errors.New("early return requires a return date")
		}
		today := c.now().Format(dateLayout)
		if res.ReturnDate > today {
			return Outcome{}, fmt.Errorf("return date %s is in the future", res.ReturnDate)
		}
		if res.ReturnDate < app.FromDate {
			return Outcome{}, fmt.Errorf("return date %s precedes leave start %s", res.ReturnDate, app.FromDate)
		}
		// The leave now ends the day before the person is back. Voided auto
		// events are gone for good; only a new leave application can cover
		// those dates again.
		newEnd, err := dayBefore(res.ReturnDate)
		if err != nil {
			return Outcome{}, err
		}
		if err := c.term.Truncate(ctx, app.ID, newEnd); err != nil {
			return Outcome{}, err
		}
		// Voiding is bounded by the leave's original end: auto verdicts
		// swept after the leave ran out were never its assumption and stay.
		voided, err := c.voider.DeleteAutoEventsBetween(ctx, app.PersonID, res.ReturnDate, app.ToDate, app.ID)
		if err != nil {
			return Outcome{}, err
		}
		log.Printf("audit: leave %s early return for person %s on %s, %d auto events voided",
			app.ID, app.PersonID, res.ReturnDate, voided)
		return Outcome{VoidedEvents: voided}, nil

	case ResolveCancel:
		return Outcome{Cancelled: true}, nil

	default:
		return Outcome{}, fmt.Errorf("unknown resolution %q", res.Kind)
	}
}

func dayBefore(date string) (string, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", fmt.Errorf("bad date %q: %w", date, err)
	}
	return t.AddDate(0, 0, -1).Format(dateLayout), nil
}
