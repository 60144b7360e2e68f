// Package reconcile surfaces attendance events that cannot be trusted
// automatically and lets an operator settle them exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hosteltrack/internal/metrics"
	"hosteltrack/internal/presence"
)

// ErrAlreadyReconciled rejects a second resolution of the same event.
var ErrAlreadyReconciled = errors.New("event already reconciled")

// ErrNotesRequired rejects a resolution without an explanation.
var ErrNotesRequired = errors.New("resolution notes required")

// Store is the slice of the event repository the queue needs.
type Store interface {
	Get(ctx context.Context, id string) (presence.Event, error)
	ListUnreconciled(ctx context.Context, date string, limit int) ([]presence.Event, error)
	ListByPersonDate(ctx context.Context, personID, date string) ([]presence.Event, error)
	MarkReconciled(ctx context.Context, id string, status presence.Status, note string) (int64, error)
}

// Severity ranks an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one reason an event landed in the queue. An event may carry
// several.
type Issue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Entry is a queued event with its classified issues.
type Entry struct {
	Event  presence.Event `json:"event"`
	Issues []Issue        `json:"issues"`
}

// Filter narrows a queue listing.
type Filter struct {
	Severity Severity
	Limit    int
}

// Service classifies and resolves queued events.
type Service struct {
	events Store
}

// NewService creates the queue service.
func NewService(events Store) *Service {
	return &Service{events: events}
}

// List returns unreconciled events for a date that carry at least one issue
// or an unknown status. Settled events never appear.
func (s *Service) List(ctx context.Context, date string, f Filter) ([]Entry, error) {
	raw, err := s.events.ListUnreconciled(ctx, date, f.Limit)
	if err != nil {
		return nil, err
	}

	// Issue classification needs the neighbors of each event: the full
	// person-day is walked in timestamp order, including events that were
	// already settled, so a reconciled IN still pairs with a queued OUT.
	type dayKey struct{ personID, date string }
	seen := make(map[dayKey][]presence.Event)
	order := []dayKey{}
	for _, evt := range raw {
		key := dayKey{evt.PersonID, evt.Date}
		if _, ok := seen[key]; !ok {
			order = append(order, key)
		}
		seen[key] = append(seen[key], evt)
	}

	var out []Entry
	for _, key := range order {
		group := seen[key]
		fullDay, err := s.events.ListByPersonDate(ctx, key.personID, key.date)
		if err != nil {
			return nil, err
		}
		dayIssues := classifyDay(fullDay)
		for _, evt := range group {
			// Synthetic sweep verdicts with a settled status need no
			// operator attention.
			if evt.Source == presence.SourceAuto && evt.HasVerdict() {
				continue
			}
			issues := dayIssues[evt.ID]
			if evt.Status == presence.StatusUnknown {
				issues = append(issues, Issue{
					Type:     "UNKNOWN_STATUS",
					Severity: SeverityWarning,
					Message:  "event status could not be classified automatically",
				})
			}
			if evt.Source == presence.SourceBiometric && evt.PersonID == "" {
				issues = append(issues, Issue{
					Type:     "UNMAPPED_SOURCE",
					Severity: SeverityError,
					Message:  "biometric scan is not mapped to a person",
				})
			}
			if len(issues) == 0 {
				continue
			}
			if f.Severity != "" && !hasSeverity(issues, f.Severity) {
				continue
			}
			out = append(out, Entry{Event: evt, Issues: issues})
		}
	}
	return out, nil
}

// Resolution settles one event.
type Resolution struct {
	Status presence.Status `json:"status,omitempty"`
	Notes  string          `json:"notes"`
}

// Resolve flips reconciled exactly once, recording the note and optionally
// rewriting the status. A second resolution is rejected with state
// unchanged.
func (s *Service) Resolve(ctx context.Context, eventID string, res Resolution) (presence.Event, error) {
	if res.Notes == "" {
		return presence.Event{}, ErrNotesRequired
	}
	if res.Status != "" && !res.Status.Valid() {
		return presence.Event{}, fmt.Errorf("bad status %q", res.Status)
	}

	n, err := s.events.MarkReconciled(ctx, eventID, res.Status, res.Notes)
	if err != nil {
		return presence.Event{}, err
	}
	if n == 0 {
		// Either the id is unknown or the event was already settled;
		// distinguish the two for the caller.
		if _, gerr := s.events.Get(ctx, eventID); gerr != nil {
			return presence.Event{}, gerr
		}
		return presence.Event{}, ErrAlreadyReconciled
	}
	metrics.Reconciliations.Inc()
	return s.events.Get(ctx, eventID)
}

// BulkOutcome aggregates a ResolveAll with per-item isolation.
type BulkOutcome struct {
	Resolved int                  `json:"resolved"`
	Errors   []presence.ItemError `json:"errors"`
}

// ResolveAll settles every queued event for a date with one shared status
// and note. Items fail independently; the single-transition guarantee holds
// per event.
func (s *Service) ResolveAll(ctx context.Context, date string, status presence.Status, notes string) (BulkOutcome, error) {
	if notes == "" {
		return BulkOutcome{}, ErrNotesRequired
	}
	entries, err := s.List(ctx, date, Filter{})
	if err != nil {
		return BulkOutcome{}, err
	}

	var out BulkOutcome
	for _, entry := range entries {
		if _, err := s.Resolve(ctx, entry.Event.ID, Resolution{Status: status, Notes: notes}); err != nil {
			out.Errors = append(out.Errors, presence.ItemError{
				PersonID: entry.Event.PersonID,
				Reason:   err.Error(),
			})
			continue
		}
		out.Resolved++
	}
	return out, nil
}

// classifyDay walks one person-day in timestamp order and attaches
// sequencing issues to the offending events.
func classifyDay(group []presence.Event) map[string][]Issue {
	issues := make(map[string][]Issue)
	var last presence.State = presence.StateUnknown
	var lastIn *time.Time

	for i := range group {
		evt := group[i]
		// Sweep verdicts are synthetic restatements of the terminal state,
		// not real transitions; they do not participate in sequencing.
		if evt.Source == presence.SourceAuto {
			continue
		}
		switch evt.Type {
		case presence.StateOut:
			if last == presence.StateUnknown {
				issues[evt.ID] = append(issues[evt.ID], Issue{
					Type:     "OUT_WITHOUT_IN",
					Severity: SeverityError,
					Message:  "OUT recorded with no preceding IN",
				})
			} else if last == presence.StateOut {
				issues[evt.ID] = append(issues[evt.ID], Issue{
					Type:     "DUPLICATE_STATE",
					Severity: SeverityError,
					Message:  "consecutive OUT events",
				})
			}
			if lastIn != nil {
				dur := evt.Timestamp.Sub(*lastIn)
				if dur < 5*time.Minute {
					issues[evt.ID] = append(issues[evt.ID], Issue{
						Type:     "SHORT_DURATION",
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("stay of %s looks too short", dur.Round(time.Second)),
					})
				} else if dur > 18*time.Hour {
					issues[evt.ID] = append(issues[evt.ID], Issue{
						Type:     "LONG_DURATION",
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("stay of %s looks too long", dur.Round(time.Minute)),
					})
				}
				lastIn = nil
			}
		case presence.StateIn:
			if last == presence.StateIn {
				issues[evt.ID] = append(issues[evt.ID], Issue{
					Type:     "DUPLICATE_STATE",
					Severity: SeverityError,
					Message:  "consecutive IN events",
				})
			}
			t := evt.Timestamp
			lastIn = &t
		}
		if evt.Type.Valid() {
			last = evt.Type
		}
	}
	return issues
}

func hasSeverity(issues []Issue, want Severity) bool {
	for _, i := range issues {
		if i.Severity == want {
			return true
		}
	}
	return false
}
