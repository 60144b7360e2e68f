package presence

import (
	"context"
	"strings"
	"testing"
	"time"

	"hosteltrack/internal/leave"
)

func TestBulkMarkPartialSuccess(t *testing.T) {
	events := &memEvents{}
	state := newMemState("A", "B", "C")
	state.states["C"] = StateOut // C is already OUT
	svc := newTestService(events, state, &memLeaveGate{}, true)

	res, err := svc.BulkMark(context.Background(), "2025-12-01", []BatchItem{
		{PersonID: "A", Type: StateIn},
		{PersonID: "B", Type: StateIn},
		{PersonID: "C", Type: StateOut},
	}, "test")
	if err != nil {
		t.Fatalf("BulkMark: %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", res.Inserted)
	}
	if len(res.Errors) != 1 || res.Errors[0].PersonID != "C" || res.Errors[0].Reason != string(ReasonDuplicateState) {
		t.Errorf("Errors = %+v, want one DUPLICATE_STATE for C", res.Errors)
	}
	if len(events.events) != 2 {
		t.Errorf("persisted %d events, want 2 (siblings must survive C's rejection)", len(events.events))
	}
}

func TestBulkMarkSkipsLeaveCollisions(t *testing.T) {
	events := &memEvents{}
	gate := &memLeaveGate{leaves: []leave.Application{{
		ID: "lv1", PersonID: "B", FromDate: "2025-12-01", ToDate: "2025-12-05", Status: leave.StatusApproved,
	}}}
	svc := newTestService(events, newMemState("A", "B"), gate, true)

	res, err := svc.BulkMark(context.Background(), "2025-12-03", []BatchItem{
		{PersonID: "A", Type: StateIn},
		{PersonID: "B", Type: StateIn},
	}, "")
	if err != nil {
		t.Fatalf("BulkMark: %v", err)
	}
	if res.Inserted != 1 || res.SkippedOnLeave != 1 {
		t.Errorf("got inserted=%d skipped=%d, want 1/1", res.Inserted, res.SkippedOnLeave)
	}
	if len(gate.applied) != 0 {
		t.Error("batch mode must never apply a leave resolution")
	}
}

func TestBulkMarkUnknownPersonIsolated(t *testing.T) {
	svc := newTestService(&memEvents{}, newMemState("A"), &memLeaveGate{}, true)

	res, err := svc.BulkMark(context.Background(), "2025-12-01", []BatchItem{
		{PersonID: "ghost", Type: StateIn},
		{PersonID: "A", Type: StateIn},
	}, "")
	if err != nil {
		t.Fatalf("BulkMark: %v", err)
	}
	if res.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", res.Inserted)
	}
	if len(res.Errors) != 1 || res.Errors[0].Reason != "NOT_FOUND" {
		t.Errorf("Errors = %+v, want one NOT_FOUND", res.Errors)
	}
}

func TestBulkMarkBadDate(t *testing.T) {
	svc := newTestService(&memEvents{}, newMemState(), &memLeaveGate{}, true)
	if _, err := svc.BulkMark(context.Background(), "12/01/2025", nil, ""); err == nil {
		t.Fatal("want error for unparsable date")
	}
}

func TestCSVMarkPrefiltersBadRows(t *testing.T) {
	events := &memEvents{}
	svc := newTestService(events, newMemState("A", "B"), &memLeaveGate{}, true)

	csv := strings.NewReader(strings.Join([]string{
		"person_id,type",
		"A,IN",
		"B,SIDEWAYS",
		"",
		"B,in",
	}, "\n"))

	res, err := svc.CSVMark(context.Background(), "2025-12-01", csv, "import")
	if err != nil {
		t.Fatalf("CSVMark: %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2 (A and lowercased B)", res.Inserted)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %+v, want exactly the SIDEWAYS row", res.Errors)
	}
	if res.Errors[0].PersonID != "B" || !strings.Contains(res.Errors[0].Reason, "bad type") {
		t.Errorf("bad row error = %+v", res.Errors[0])
	}
	for _, evt := range events.events {
		if evt.Source != SourceBulk {
			t.Errorf("event source = %s, want bulk", evt.Source)
		}
	}
}

func TestBuildDailyRecord(t *testing.T) {
	day := "2025-12-01"
	in := mustTime(t, "2025-12-01T08:00:00Z")
	out := mustTime(t, "2025-12-01T12:30:00Z")
	backIn := mustTime(t, "2025-12-01T14:00:00Z")
	finalOut := mustTime(t, "2025-12-01T18:00:00Z")

	rec := BuildDailyRecord("p1", day, []Event{
		{Type: StateIn, Timestamp: in},
		{Type: StateOut, Timestamp: out},
		{Type: StateIn, Timestamp: backIn},
		{Type: StateOut, Timestamp: finalOut, Status: StatusPresent},
	})

	if rec.CheckInTime == nil || !rec.CheckInTime.Equal(in) {
		t.Errorf("CheckInTime = %v, want %v", rec.CheckInTime, in)
	}
	if rec.CheckOutTime == nil || !rec.CheckOutTime.Equal(finalOut) {
		t.Errorf("CheckOutTime = %v, want %v", rec.CheckOutTime, finalOut)
	}
	if rec.TotalHours != 8.5 {
		t.Errorf("TotalHours = %v, want 8.5", rec.TotalHours)
	}
	if rec.Status != StatusPresent {
		t.Errorf("Status = %s, want present", rec.Status)
	}
}

func TestBuildDailyReportGroupsByPerson(t *testing.T) {
	day := "2025-12-01"
	records := BuildDailyReport(day, []Event{
		{PersonID: "A", Type: StateIn, Timestamp: mustTime(t, "2025-12-01T08:00:00Z")},
		{PersonID: "A", Type: StateOut, Timestamp: mustTime(t, "2025-12-01T17:00:00Z")},
		{PersonID: "B", Type: StateIn, Timestamp: mustTime(t, "2025-12-01T09:00:00Z")},
	})

	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].PersonID != "A" || records[0].TotalHours != 9 {
		t.Errorf("A record = %+v", records[0])
	}
	if records[1].PersonID != "B" || records[1].TotalHours != 0 {
		t.Errorf("B record = %+v, want open IN contributing no hours", records[1])
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	out, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return out
}
