package presence

import (
	"context"
	"time"

	"hosteltrack/internal/leave"
	"hosteltrack/internal/metrics"
	"hosteltrack/internal/settings"
)

// EventStore is the slice of the repository the mark path needs.
type EventStore interface {
	Insert(ctx context.Context, evt Event) (Event, error)
	LastEvent(ctx context.Context, personID string) (*Event, error)
}

// StateStore is the cached per-person state projection.
type StateStore interface {
	State(ctx context.Context, personID string) (State, error)
	SetState(ctx context.Context, personID string, st State, at time.Time) error
}

// LeaveGate resolves leave collisions on the mark path.
type LeaveGate interface {
	Check(ctx context.Context, personID, date string) (*leave.Application, error)
	Apply(ctx context.Context, app leave.Application, res leave.Resolution) (leave.Outcome, error)
}

// PolicySource supplies the settings snapshot for validation.
type PolicySource interface {
	Load(ctx context.Context) (settings.Settings, error)
}

// Service runs the mark path: lock person, validate the transition, resolve
// any leave collision, persist the event, update the cached state.
type Service struct {
	events   EventStore
	state    StateStore
	leaves   LeaveGate
	settings PolicySource
	locks    *personLocks
	now      func() time.Time
}

// NewService wires the mark path to its collaborators.
func NewService(events EventStore, state StateStore, leaves LeaveGate, pol PolicySource) *Service {
	return &Service{
		events:   events,
		state:    state,
		leaves:   leaves,
		settings: pol,
		locks:    newPersonLocks(),
		now:      time.Now,
	}
}

// MarkRequest is one proposed IN/OUT event.
type MarkRequest struct {
	PersonID   string
	Type       State
	At         time.Time // zero means now
	Notes      string
	Source     Source
	Resolution *leave.Resolution // nil until a leave collision is answered
}

// MarkResult is the outcome of an accepted (or cancelled) mark.
type MarkResult struct {
	Event     Event
	NewState  State
	Cancelled bool
	OnLeave   bool
}

// Mark validates and records one attendance event.
//
// Expected business outcomes are typed: a *ValidationError for an illegal
// transition, a *leave.ConflictError when an approved leave covers the date
// and no resolution was supplied. Only infrastructure failures and unknown
// ids are plain errors.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (MarkResult, error) {
	if req.Source == "" {
		req.Source = SourceManual
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	s.locks.acquire(req.PersonID)
	defer s.locks.release(req.PersonID)

	return s.markLocked(ctx, req, at, nil)
}

// markLocked is the mark path body; the caller holds the person lock. A
// non-nil policy skips the settings read so batches validate uniformly.
func (s *Service) markLocked(ctx context.Context, req MarkRequest, at time.Time, pol *Policy) (MarkResult, error) {
	if pol == nil {
		cfg, err := s.settings.Load(ctx)
		if err != nil {
			return MarkResult{}, &TransientError{Op: "load settings", Err: err}
		}
		pol = &Policy{FirstEntryMustBeIn: cfg.FirstEntryMustBeIn}
	}

	last, err := s.lastState(ctx, req.PersonID)
	if err != nil {
		return MarkResult{}, err
	}

	dec := Validate(last, req.Type, *pol)
	if !dec.Accepted {
		metrics.MarksRejected.WithLabelValues(string(dec.Reason)).Inc()
		return MarkResult{}, &ValidationError{Reason: dec.Reason, CurrentState: dec.CurrentState}
	}

	evt := Event{
		PersonID:  req.PersonID,
		Date:      DateOf(at),
		Type:      req.Type,
		Timestamp: at,
		Source:    req.Source,
		Notes:     req.Notes,
	}

	app, err := s.leaves.Check(ctx, req.PersonID, evt.Date)
	if err != nil {
		return MarkResult{}, &TransientError{Op: "leave lookup", Err: err}
	}
	if app != nil {
		if req.Resolution == nil {
			metrics.LeaveCollisions.Inc()
			return MarkResult{OnLeave: true}, &leave.ConflictError{Leave: *app}
		}
		outcome, err := s.leaves.Apply(ctx, *app, *req.Resolution)
		if err != nil {
			return MarkResult{}, err
		}
		if outcome.Cancelled {
			return MarkResult{Cancelled: true, NewState: last, OnLeave: true}, nil
		}
		if outcome.OverrideLeaveID != "" {
			id := outcome.OverrideLeaveID
			evt.OverrideLeaveID = &id
		}
	}

	saved, err := s.events.Insert(ctx, evt)
	if err != nil {
		return MarkResult{}, err
	}
	metrics.MarksAccepted.WithLabelValues(string(req.Source)).Inc()
	if err := s.state.SetState(ctx, req.PersonID, req.Type, at); err != nil {
		// The event is already in the log, so a retry would duplicate it.
		// The stale cache is harmless to validation (lastState reads the
		// log) and shows up as STATE_DRIFT in consistency checks.
		return MarkResult{Event: saved, NewState: req.Type}, &StateSyncError{Event: saved, Err: err}
	}
	return MarkResult{Event: saved, NewState: req.Type}, nil
}

// lastState derives the person's last state from the event log, the source
// of truth. The cached projection covers only people with no events yet
// (enrollment default or an administrative reset) and doubles as the person
// existence check; it is never trusted over the log, so a stale cache cannot
// let a duplicate transition through.
func (s *Service) lastState(ctx context.Context, personID string) (State, error) {
	cached, err := s.state.State(ctx, personID)
	if err != nil {
		return StateUnknown, err
	}
	evt, err := s.events.LastEvent(ctx, personID)
	if err != nil {
		return StateUnknown, &TransientError{Op: "read event log", Err: err}
	}
	if evt != nil {
		return evt.Type, nil
	}
	return cached, nil
}
