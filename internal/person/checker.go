package person

import (
	"context"
	"time"

	"hosteltrack/internal/presence"
)

// EventSource reads the tail of a person's event log.
type EventSource interface {
	LastEvent(ctx context.Context, personID string) (*presence.Event, error)
}

// Directory enumerates the persons whose cache the checker audits.
type Directory interface {
	Get(ctx context.Context, id string) (presence.Person, error)
	ListActive(ctx context.Context) ([]presence.Person, error)
}

// DriftIssue is one person whose cached state disagrees with the event log.
type DriftIssue struct {
	Type          string         `json:"type"`
	PersonID      string         `json:"person_id"`
	CurrentState  presence.State `json:"current_state"`
	LastEventType presence.State `json:"last_event_type"`
	LastEventDate time.Time      `json:"last_event_date"`
}

const driftType = "STATE_DRIFT"

// Checker recomputes expected state from the event log and reports
// divergence. It never auto-corrects: fixing drift is an explicit
// administrative ResetState.
type Checker struct {
	persons Directory
	events  EventSource
}

// NewChecker wires the checker.
func NewChecker(persons Directory, events EventSource) *Checker {
	return &Checker{persons: persons, events: events}
}

// Check recomputes one person's expected state. A nil issue means the cache
// is consistent.
func (c *Checker) Check(ctx context.Context, personID string) (*DriftIssue, error) {
	p, err := c.persons.Get(ctx, personID)
	if err != nil {
		return nil, err
	}
	return c.check(ctx, p)
}

// CheckAll sweeps every active person.
func (c *Checker) CheckAll(ctx context.Context) ([]DriftIssue, error) {
	people, err := c.persons.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var issues []DriftIssue
	for _, p := range people {
		issue, err := c.check(ctx, p)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, nil
}

func (c *Checker) check(ctx context.Context, p presence.Person) (*DriftIssue, error) {
	last, err := c.events.LastEvent(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	// No events yet: the default initial state is IN, so only a cached OUT
	// counts as drift.
	expected := presence.StateIn
	var lastAt time.Time
	if last != nil {
		expected = last.Type
		lastAt = last.Timestamp
	}

	if p.CurrentState == expected || (last == nil && p.CurrentState == presence.StateUnknown) {
		return nil, nil
	}
	return &DriftIssue{
		Type:          driftType,
		PersonID:      p.ID,
		CurrentState:  p.CurrentState,
		LastEventType: expected,
		LastEventDate: lastAt,
	}, nil
}
