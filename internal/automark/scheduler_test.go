package automark

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hosteltrack/internal/leave"
	"hosteltrack/internal/presence"
	"hosteltrack/internal/settings"
)

type memPersons struct {
	people []presence.Person
}

func (m *memPersons) ListActive(context.Context) ([]presence.Person, error) {
	return m.people, nil
}

type memEvents struct {
	events  []presence.Event
	failFor map[string]error
}

func (m *memEvents) Insert(_ context.Context, evt presence.Event) (presence.Event, error) {
	if err := m.failFor[evt.PersonID]; err != nil {
		return presence.Event{}, err
	}
	if evt.ID == "" {
		evt.ID = fmt.Sprintf("evt-%d", len(m.events)+1)
	}
	m.events = append(m.events, evt)
	return evt, nil
}

func (m *memEvents) LastEventBefore(_ context.Context, personID string, cutoff time.Time) (*presence.Event, error) {
	var last *presence.Event
	for i := range m.events {
		evt := &m.events[i]
		if evt.PersonID != personID || evt.Timestamp.After(cutoff) {
			continue
		}
		if last == nil || evt.Timestamp.After(last.Timestamp) {
			last = evt
		}
	}
	return last, nil
}

func (m *memEvents) VerdictFor(_ context.Context, personID, date string) (*presence.Event, error) {
	for i := range m.events {
		evt := &m.events[i]
		if evt.PersonID == personID && evt.Date == date && evt.HasVerdict() {
			return evt, nil
		}
	}
	return nil, nil
}

type memLeaves struct {
	onLeave map[string][2]string // personID -> from..to
}

func (m *memLeaves) ApprovedLeaveOn(_ context.Context, personID, date string) (*leave.Application, error) {
	span, ok := m.onLeave[personID]
	if !ok || date < span[0] || date > span[1] {
		return nil, nil
	}
	return &leave.Application{
		ID: "lv-" + personID, PersonID: personID,
		FromDate: span[0], ToDate: span[1], Status: leave.StatusApproved,
	}, nil
}

type memSettings struct {
	cfg  settings.Settings
	runs []settings.RunInfo
}

func (m *memSettings) Load(context.Context) (settings.Settings, error) { return m.cfg, nil }

func (m *memSettings) RecordRun(_ context.Context, run settings.RunInfo) error {
	m.runs = append(m.runs, run)
	return nil
}

// hostelOf builds the scenario population: n people IN, o people OUT,
// l people on approved leave covering date.
func hostelOf(in, out, onLeave int, date string) (*memPersons, *memLeaves) {
	persons := &memPersons{}
	leaves := &memLeaves{onLeave: map[string][2]string{}}
	add := func(prefix string, n int, st presence.State) {
		for i := 0; i < n; i++ {
			persons.people = append(persons.people, presence.Person{
				ID: fmt.Sprintf("%s-%d", prefix, i), Kind: presence.KindStudent,
				CurrentState: st, Active: true,
			})
		}
	}
	add("in", in, presence.StateIn)
	add("out", out, presence.StateOut)
	add("leave", onLeave, presence.StateOut)
	for i := 0; i < onLeave; i++ {
		leaves.onLeave[fmt.Sprintf("leave-%d", i)] = [2]string{date, date}
	}
	return persons, leaves
}

func testScheduler(persons *memPersons, events *memEvents, leaves *memLeaves, cfg *memSettings) *Scheduler {
	s := NewScheduler(persons, events, leaves, cfg, nil)
	s.now = func() time.Time { return time.Date(2025, 12, 10, 23, 30, 0, 0, time.UTC) }
	return s
}

func enabled() *memSettings {
	return &memSettings{cfg: settings.Settings{AutoMarkEnabled: true, StateBasedPresentAbsent: true}}
}

func TestRunClassifiesByTerminalState(t *testing.T) {
	persons, leaves := hostelOf(40, 8, 2, "2025-12-10")
	events := &memEvents{}
	cfg := enabled()
	sched := testScheduler(persons, events, leaves, cfg)

	sum, err := sched.Run(context.Background(), "2025-12-10")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Summary{Present: 40, Absent: 8, Leave: 2}
	if sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}
	if len(events.events) != 48 {
		t.Errorf("wrote %d events, want 48 (leave people get none)", len(events.events))
	}
	for _, evt := range events.events {
		if evt.Source != presence.SourceAuto || !evt.HasVerdict() {
			t.Fatalf("sweep wrote %+v", evt)
		}
	}
	if len(cfg.runs) != 1 || cfg.runs[0].Present != 40 || cfg.runs[0].Absent != 8 {
		t.Errorf("run info = %+v", cfg.runs)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	persons, leaves := hostelOf(40, 8, 2, "2025-12-10")
	events := &memEvents{}
	sched := testScheduler(persons, events, leaves, enabled())
	ctx := context.Background()

	if _, err := sched.Run(ctx, "2025-12-10"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sum, err := sched.Run(ctx, "2025-12-10")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	want := Summary{Leave: 2, AlreadyMarked: 48}
	if sum != want {
		t.Fatalf("re-run summary = %+v, want %+v", sum, want)
	}
	if len(events.events) != 48 {
		t.Errorf("re-run duplicated events: %d", len(events.events))
	}
}

func TestRunRespectsManualVerdict(t *testing.T) {
	persons, leaves := hostelOf(1, 0, 0, "2025-12-10")
	events := &memEvents{events: []presence.Event{{
		ID: "manual-1", PersonID: "in-0", Date: "2025-12-10", Type: presence.StateIn,
		Timestamp: time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC),
		Source:    presence.SourceManual, Status: presence.StatusLate, Reconciled: true,
	}}}
	sched := testScheduler(persons, events, leaves, enabled())

	sum, err := sched.Run(context.Background(), "2025-12-10")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.AlreadyMarked != 1 || sum.Present != 0 {
		t.Errorf("summary = %+v, want the manual late verdict untouched", sum)
	}
	if len(events.events) != 1 {
		t.Errorf("sweep wrote over a manual verdict: %d events", len(events.events))
	}
}

func TestRunUsesLastEventOverCachedState(t *testing.T) {
	// Cache says IN but the person swiped OUT during the day; the terminal
	// event decides.
	persons := &memPersons{people: []presence.Person{{
		ID: "p1", CurrentState: presence.StateIn, Active: true,
	}}}
	events := &memEvents{events: []presence.Event{{
		ID: "e1", PersonID: "p1", Date: "2025-12-10", Type: presence.StateOut,
		Timestamp: time.Date(2025, 12, 10, 20, 0, 0, 0, time.UTC), Source: presence.SourceManual,
	}}}
	sched := testScheduler(persons, events, &memLeaves{}, enabled())

	sum, err := sched.Run(context.Background(), "2025-12-10")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Absent != 1 || sum.Present != 0 {
		t.Errorf("summary = %+v, want absent from terminal OUT", sum)
	}
}

func TestRunNoEventsNoStateDefaultsPresent(t *testing.T) {
	persons := &memPersons{people: []presence.Person{{
		ID: "p1", CurrentState: presence.StateUnknown, Active: true,
	}}}
	sched := testScheduler(persons, &memEvents{}, &memLeaves{}, enabled())

	sum, err := sched.Run(context.Background(), "2025-12-10")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Present != 1 {
		t.Errorf("summary = %+v, want the no-history default of present", sum)
	}
}

func TestRunDisabledClassification(t *testing.T) {
	persons, leaves := hostelOf(3, 0, 0, "2025-12-10")
	events := &memEvents{}
	cfg := &memSettings{cfg: settings.Settings{StateBasedPresentAbsent: false}}
	sched := testScheduler(persons, events, leaves, cfg)

	sum, err := sched.Run(context.Background(), "2025-12-10")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum != (Summary{}) || len(events.events) != 0 {
		t.Errorf("disabled sweep still acted: %+v, %d events", sum, len(events.events))
	}
}

func TestRunRangeContinuesPastPersonFailure(t *testing.T) {
	persons, leaves := hostelOf(2, 0, 0, "")
	events := &memEvents{failFor: map[string]error{"in-0": errors.New("disk full")}}
	sched := testScheduler(persons, events, leaves, enabled())

	sum, err := sched.RunRange(context.Background(), "2025-12-10", "2025-12-12")
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	// in-0 fails every day; in-1 gets a verdict for each of the 3 days.
	if sum.Present != 3 {
		t.Errorf("summary = %+v, want 3 present across the range", sum)
	}
}

// memGate fakes the cross-process run lock; dates in held refuse acquisition.
type memGate struct {
	held     map[string]bool
	acquired []string
	released []string
}

func (m *memGate) Acquire(_ context.Context, date string) (bool, error) {
	if m.held[date] {
		return false, nil
	}
	m.acquired = append(m.acquired, date)
	return true, nil
}

func (m *memGate) Release(_ context.Context, date string) {
	m.released = append(m.released, date)
}

func TestRunGateIsPerSweptDate(t *testing.T) {
	persons, leaves := hostelOf(1, 0, 0, "")
	gate := &memGate{held: map[string]bool{"2025-12-11": true}}
	sched := NewScheduler(persons, &memEvents{}, leaves, enabled(), gate)
	sched.now = func() time.Time { return time.Date(2025, 12, 12, 23, 30, 0, 0, time.UTC) }

	if _, err := sched.Run(context.Background(), "2025-12-11"); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("want ErrSweepInProgress, got %v", err)
	}

	// A range sweep locks each date individually, so it contends with a
	// single-date sweep on the same key and only the held date is skipped.
	sum, err := sched.RunRange(context.Background(), "2025-12-10", "2025-12-12")
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	if sum.Present != 2 {
		t.Errorf("summary = %+v, want the two unlocked days", sum)
	}
	if len(gate.acquired) != 2 || len(gate.released) != 2 {
		t.Errorf("gate acquired=%v released=%v, want one take per swept date", gate.acquired, gate.released)
	}
}

func TestRunRangeValidation(t *testing.T) {
	sched := testScheduler(&memPersons{}, &memEvents{}, &memLeaves{}, enabled())
	if _, err := sched.RunRange(context.Background(), "2025-12-12", "2025-12-10"); err == nil {
		t.Fatal("inverted range must fail")
	}
	if _, err := sched.RunRange(context.Background(), "not-a-date", "2025-12-10"); err == nil {
		t.Fatal("bad from date must fail")
	}
	if _, err := sched.Run(context.Background(), "yesterday"); err == nil {
		t.Fatal("bad date must fail")
	}
}
