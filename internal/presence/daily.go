package presence

import "time"

// DailyRecord is the derived per-person per-date aggregate. It is never
// stored: callers rebuild it from the day's events whenever they change.
type DailyRecord struct {
	PersonID     string     `json:"person_id"`
	Date         string     `json:"date"`
	Entries      []Event    `json:"entries"`
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	TotalHours   float64    `json:"total_hours"`
	Status       Status     `json:"status,omitempty"`
}

// BuildDailyReport groups one date's events (assumed ordered by person, then
// timestamp) into a record per person.
func BuildDailyReport(date string, entries []Event) []DailyRecord {
	byPerson := make(map[string][]Event)
	var order []string
	for _, evt := range entries {
		if _, ok := byPerson[evt.PersonID]; !ok {
			order = append(order, evt.PersonID)
		}
		byPerson[evt.PersonID] = append(byPerson[evt.PersonID], evt)
	}

	records := make([]DailyRecord, 0, len(order))
	for _, id := range order {
		records = append(records, BuildDailyRecord(id, date, byPerson[id]))
	}
	return records
}

// BuildDailyRecord folds a day's events (assumed timestamp-ordered) into the
// aggregate. Hours accrue per IN→OUT pair; a trailing open IN contributes
// nothing until its OUT arrives.
func BuildDailyRecord(personID, date string, entries []Event) DailyRecord {
	rec := DailyRecord{PersonID: personID, Date: date, Entries: entries}

	var openIn *time.Time
	for i := range entries {
		evt := entries[i]
		switch evt.Type {
		case StateIn:
			if rec.CheckInTime == nil {
				t := evt.Timestamp
				rec.CheckInTime = &t
			}
			if openIn == nil {
				t := evt.Timestamp
				openIn = &t
			}
		case StateOut:
			t := evt.Timestamp
			rec.CheckOutTime = &t
			if openIn != nil {
				rec.TotalHours += evt.Timestamp.Sub(*openIn).Hours()
				openIn = nil
			}
		}
		if evt.HasVerdict() {
			rec.Status = evt.Status
		}
	}
	return rec
}
