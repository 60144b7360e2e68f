package presence

import "time"

// DateLayout is the wire and storage format for hostel dates.
const DateLayout = "2006-01-02"

// DateOf formats a timestamp as a hostel date.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// State is a person's terminal presence state. Events carry the same values:
// an IN event moves a person to IN, an OUT event to OUT.
type State string

const (
	StateIn      State = "IN"
	StateOut     State = "OUT"
	StateUnknown State = "UNKNOWN"
)

// Valid reports whether the state is one a person can actually be in.
func (s State) Valid() bool {
	return s == StateIn || s == StateOut
}

// Opposite returns the other terminal state.
func (s State) Opposite() State {
	switch s {
	case StateIn:
		return StateOut
	case StateOut:
		return StateIn
	default:
		return StateUnknown
	}
}

// Source identifies which entry point produced an event.
type Source string

const (
	SourceManual    Source = "manual"
	SourceBiometric Source = "biometric"
	SourceBulk      Source = "bulk"
	SourceAuto      Source = "auto"
)

// Status is the per-day attendance verdict attached to an event.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusUnknown Status = "unknown"
)

// Valid reports whether the status is a supported verdict value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusUnknown:
		return true
	default:
		return false
	}
}

// Kind distinguishes the two tracked populations.
type Kind string

const (
	KindStudent  Kind = "student"
	KindEmployee Kind = "employee"
)

// Person is a tracked resident or staff member. CurrentState is a cached
// projection of the event log; the consistency checker can recompute it.
type Person struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	Kind            Kind      `json:"kind"`
	CurrentState    State     `json:"current_state"`
	LastStateUpdate time.Time `json:"last_state_update"`
	Active          bool      `json:"active"`
}

// Event is one recorded IN/OUT transition. Events are append-only: a bad
// event is reconciled with a resolution note, never deleted. The only
// exception is auto-generated events voided by a leave early-return.
type Event struct {
	ID              string    `json:"id"`
	PersonID        string    `json:"person_id"`
	Date            string    `json:"date"`
	Type            State     `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	Source          Source    `json:"source"`
	Notes           string    `json:"notes,omitempty"`
	OverrideLeaveID *string   `json:"override_leave_id,omitempty"`
	Reconciled      bool      `json:"reconciled"`
	ResolutionNote  string    `json:"resolution_note,omitempty"`
	Status          Status    `json:"status,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasVerdict reports whether the event carries a settled present/absent/late
// verdict. An unknown status still needs reconciliation and does not count.
func (e Event) HasVerdict() bool {
	return e.Status != "" && e.Status != StatusUnknown
}
