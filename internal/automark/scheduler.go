// Package automark folds each person's terminal state into a present/absent
// verdict for a date, once per day or on demand.
package automark

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"hosteltrack/internal/leave"
	"hosteltrack/internal/metrics"
	"hosteltrack/internal/presence"
	"hosteltrack/internal/settings"
)

// PersonLister enumerates the sweep's population.
type PersonLister interface {
	ListActive(ctx context.Context) ([]presence.Person, error)
}

// EventStore is the slice of the repository a sweep needs.
type EventStore interface {
	Insert(ctx context.Context, evt presence.Event) (presence.Event, error)
	LastEventBefore(ctx context.Context, personID string, cutoff time.Time) (*presence.Event, error)
	VerdictFor(ctx context.Context, personID, date string) (*presence.Event, error)
}

// LeaveLookup answers whether a person is on approved leave.
type LeaveLookup interface {
	ApprovedLeaveOn(ctx context.Context, personID, date string) (*leave.Application, error)
}

// SettingsSource supplies the sweep configuration and records run info.
type SettingsSource interface {
	Load(ctx context.Context) (settings.Settings, error)
	RecordRun(ctx context.Context, run settings.RunInfo) error
}

// RunGate serializes sweeps per swept date across processes. A range sweep
// takes the gate once per date, so it contends with single-date sweeps on
// the same keys.
type RunGate interface {
	Acquire(ctx context.Context, date string) (bool, error)
	Release(ctx context.Context, date string)
}

// ErrSweepInProgress reports that another process holds the gate for the
// date. The caller skips; it is not a failure.
var ErrSweepInProgress = errors.New("sweep already running for date")

// Summary is one sweep's outcome.
type Summary struct {
	Present       int `json:"present"`
	Absent        int `json:"absent"`
	Leave         int `json:"leave"`
	AlreadyMarked int `json:"already_marked"`
}

func (s Summary) add(other Summary) Summary {
	s.Present += other.Present
	s.Absent += other.Absent
	s.Leave += other.Leave
	s.AlreadyMarked += other.AlreadyMarked
	return s
}

// Scheduler runs end-of-day sweeps. Runs are idempotent: a settled
// person/date is counted alreadyMarked and untouched, so re-running only
// fills gaps.
type Scheduler struct {
	persons  PersonLister
	events   EventStore
	leaves   LeaveLookup
	settings SettingsSource
	gate     RunGate
	now      func() time.Time
}

// NewScheduler wires a scheduler. gate may be nil for single-process
// deployments and tests.
func NewScheduler(persons PersonLister, events EventStore, leaves LeaveLookup, cfg SettingsSource, gate RunGate) *Scheduler {
	return &Scheduler{persons: persons, events: events, leaves: leaves, settings: cfg, gate: gate, now: time.Now}
}

// Run sweeps a single date and records the run in settings. A date whose
// gate is held elsewhere returns ErrSweepInProgress untouched.
func (s *Scheduler) Run(ctx context.Context, date string) (Summary, error) {
	if s.gate != nil {
		held, err := s.gate.Acquire(ctx, date)
		if err != nil {
			return Summary{}, err
		}
		if !held {
			return Summary{}, ErrSweepInProgress
		}
		defer s.gate.Release(ctx, date)
	}
	sum, err := s.sweep(ctx, date)
	if err != nil {
		return Summary{}, err
	}
	metrics.SweepRuns.Inc()
	if err := s.settings.RecordRun(ctx, settings.RunInfo{
		Date:    date,
		Present: sum.Present,
		Absent:  sum.Absent,
		RanAt:   s.now().UTC(),
	}); err != nil {
		log.Printf("automark: recording run info failed: %v", err)
	}
	return sum, nil
}

// RunRange sweeps fromDate..toDate inclusive, one day at a time. A day's
// failure is logged and skipped; later days still run.
func (s *Scheduler) RunRange(ctx context.Context, fromDate, toDate string) (Summary, error) {
	from, err := time.Parse(presence.DateLayout, fromDate)
	if err != nil {
		return Summary{}, fmt.Errorf("bad from date %q: %w", fromDate, err)
	}
	to, err := time.Parse(presence.DateLayout, toDate)
	if err != nil {
		return Summary{}, fmt.Errorf("bad to date %q: %w", toDate, err)
	}
	if to.Before(from) {
		return Summary{}, errors.New("toDate precedes fromDate")
	}

	var total Summary
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format(presence.DateLayout)
		sum, err := s.Run(ctx, date)
		if err != nil {
			log.Printf("automark: sweep for %s failed, continuing: %v", date, err)
			continue
		}
		total = total.add(sum)
	}
	return total, nil
}

func (s *Scheduler) sweep(ctx context.Context, date string) (Summary, error) {
	if _, err := time.Parse(presence.DateLayout, date); err != nil {
		return Summary{}, fmt.Errorf("bad date %q: %w", date, err)
	}
	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !cfg.StateBasedPresentAbsent {
		log.Printf("automark: state-based classification disabled, skipping %s", date)
		return Summary{}, nil
	}

	people, err := s.persons.ListActive(ctx)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, p := range people {
		outcome, err := s.markPerson(ctx, p, date)
		if err != nil {
			log.Printf("automark: person %s on %s failed, continuing: %v", p.ID, date, err)
			continue
		}
		switch outcome {
		case outcomePresent:
			sum.Present++
		case outcomeAbsent:
			sum.Absent++
		case outcomeLeave:
			sum.Leave++
		case outcomeAlready:
			sum.AlreadyMarked++
		}
	}
	return sum, nil
}

type outcome int

const (
	outcomePresent outcome = iota
	outcomeAbsent
	outcomeLeave
	outcomeAlready
)

func (s *Scheduler) markPerson(ctx context.Context, p presence.Person, date string) (outcome, error) {
	// Leave is checked first: people on approved leave stay out of the
	// present/absent classification even on re-runs.
	app, err := s.leaves.ApprovedLeaveOn(ctx, p.ID, date)
	if err != nil {
		return 0, err
	}
	if app != nil {
		return outcomeLeave, nil
	}

	existing, err := s.events.VerdictFor(ctx, p.ID, date)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		// Manual verdicts outrank auto ones and settled days stay settled.
		return outcomeAlready, nil
	}

	terminal, err := s.terminalState(ctx, p, date)
	if err != nil {
		return 0, err
	}

	verdict := presence.StatusAbsent
	out := outcomeAbsent
	if terminal == presence.StateIn {
		verdict = presence.StatusPresent
		out = outcomePresent
	}

	endOfDay, _ := time.Parse(presence.DateLayout, date)
	_, err = s.events.Insert(ctx, presence.Event{
		PersonID:  p.ID,
		Date:      date,
		Type:      terminal,
		Timestamp: endOfDay.Add(23*time.Hour + 59*time.Minute),
		Source:    presence.SourceAuto,
		Notes:     "auto-mark sweep",
		Status:    verdict,
	})
	if err != nil {
		return 0, err
	}
	metrics.SweepVerdicts.WithLabelValues(string(verdict)).Inc()
	return out, nil
}

// terminalState is the person's state at the end of the target date: the
// last event on or before that day, falling back to the cached state when
// the person has no events at all. The no-events default is IN.
func (s *Scheduler) terminalState(ctx context.Context, p presence.Person, date string) (presence.State, error) {
	day, _ := time.Parse(presence.DateLayout, date)
	cutoff := day.Add(24*time.Hour - time.Nanosecond)

	evt, err := s.events.LastEventBefore(ctx, p.ID, cutoff)
	if err != nil {
		return presence.StateUnknown, err
	}
	if evt != nil {
		return evt.Type, nil
	}
	if p.CurrentState.Valid() {
		return p.CurrentState, nil
	}
	return presence.StateIn, nil
}
