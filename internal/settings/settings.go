package settings

import "time"

// Settings is the single operator-editable configuration document that every
// validation and sweep path consults.
type Settings struct {
	AutoMarkEnabled         bool     `json:"auto_mark_enabled"`
	AutoMarkTime            string   `json:"auto_mark_time"` // "HH:MM", local hostel time
	FirstEntryMustBeIn      bool     `json:"first_entry_must_be_in"`
	StateBasedPresentAbsent bool     `json:"state_based_present_absent"`
	LastRun                 *RunInfo `json:"last_run,omitempty"`
}

// RunInfo records the outcome of the most recent auto-mark sweep.
type RunInfo struct {
	Date    string    `json:"date"`
	Present int       `json:"present"`
	Absent  int       `json:"absent"`
	RanAt   time.Time `json:"ran_at"`
}

// Defaults returns the settings used before an operator has saved anything.
func Defaults() Settings {
	return Settings{
		AutoMarkEnabled:         true,
		AutoMarkTime:            "23:30",
		FirstEntryMustBeIn:      true,
		StateBasedPresentAbsent: true,
	}
}
