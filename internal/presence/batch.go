package presence

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"hosteltrack/internal/leave"
)

// BatchItem is one person/type pair inside a bulk mark.
type BatchItem struct {
	PersonID string `json:"person_id"`
	Type     State  `json:"type"`
}

// ItemError reports one failed item without touching its siblings.
type ItemError struct {
	PersonID string `json:"person_id"`
	Reason   string `json:"reason"`
}

// BatchResult aggregates a bulk mark. Partial success is the designed
// outcome: callers must read Errors, not infer failure from a non-nil error.
type BatchResult struct {
	Inserted       int         `json:"inserted"`
	SkippedOnLeave int         `json:"skipped_on_leave"`
	Errors         []ItemError `json:"errors"`
}

// BulkMark applies items for a common date and notes. Each item runs the
// full mark path independently; a rejection never aborts or rolls back the
// rest. Leave collisions default to skip-and-report, never silent override.
//
// Settings are snapshotted once, so a concurrent settings write cannot make
// two items of one batch validate under different rules.
func (s *Service) BulkMark(ctx context.Context, date string, items []BatchItem, notes string) (BatchResult, error) {
	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return BatchResult{}, &TransientError{Op: "load settings", Err: err}
	}
	pol := Policy{FirstEntryMustBeIn: cfg.FirstEntryMustBeIn}

	at, err := s.batchTimestamp(date)
	if err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for _, item := range items {
		req := MarkRequest{
			PersonID: item.PersonID,
			Type:     item.Type,
			At:       at,
			Notes:    notes,
			Source:   SourceBulk,
		}

		// Items run sequentially, which also serializes two items that
		// target the same person. The per-person lock still guards against
		// concurrent manual marks.
		s.locks.acquire(item.PersonID)
		_, err := s.markLocked(ctx, req, at, &pol)
		s.locks.release(item.PersonID)

		var syncErr *StateSyncError
		switch {
		case err == nil:
			res.Inserted++
		case errors.As(err, &syncErr):
			// The event landed; only the cache write failed.
			res.Inserted++
		case isLeaveConflict(err):
			res.SkippedOnLeave++
		default:
			res.Errors = append(res.Errors, ItemError{PersonID: item.PersonID, Reason: reasonOf(err)})
		}
	}
	return res, nil
}

// CSVMark parses rows of "person_id,type" and bulk-marks the parsable ones.
// Unparsable rows are pre-filtered into Errors before reaching the
// validator, matching the manual bulk contract.
func (s *Service) CSVMark(ctx context.Context, date string, r io.Reader, notes string) (BatchResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var items []BatchItem
	var bad []ItemError
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			bad = append(bad, ItemError{Reason: fmt.Sprintf("line %d: %v", line, err)})
			continue
		}
		if line == 1 && looksLikeHeader(record) {
			continue
		}
		item, perr := parseCSVRow(record)
		if perr != nil {
			bad = append(bad, ItemError{PersonID: item.PersonID, Reason: fmt.Sprintf("line %d: %v", line, perr)})
			continue
		}
		items = append(items, item)
	}

	res, err := s.BulkMark(ctx, date, items, notes)
	if err != nil {
		return BatchResult{}, err
	}
	res.Errors = append(bad, res.Errors...)
	return res, nil
}

func parseCSVRow(record []string) (BatchItem, error) {
	if len(record) < 2 {
		return BatchItem{}, errors.New("need person_id,type")
	}
	item := BatchItem{
		PersonID: strings.TrimSpace(record[0]),
		Type:     State(strings.ToUpper(strings.TrimSpace(record[1]))),
	}
	if item.PersonID == "" {
		return item, errors.New("empty person id")
	}
	if !item.Type.Valid() {
		return item, fmt.Errorf("bad type %q", record[1])
	}
	return item, nil
}

func looksLikeHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "person_id")
}

// batchTimestamp anchors the batch on its shared date, carrying the current
// clock time so same-day batches order naturally against manual marks.
func (s *Service) batchTimestamp(date string) (time.Time, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", date, err)
	}
	now := s.now()
	return time.Date(day.Year(), day.Month(), day.Day(),
		now.Hour(), now.Minute(), now.Second(), 0, now.Location()), nil
}

func isLeaveConflict(err error) bool {
	var conflict *leave.ConflictError
	return errors.As(err, &conflict)
}

// reasonOf flattens an item failure into the batch error vocabulary.
func reasonOf(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return string(verr.Reason)
	}
	if errors.Is(err, ErrNotFound) {
		return "NOT_FOUND"
	}
	var terr *TransientError
	if errors.As(err, &terr) {
		return "TRANSIENT_ERROR"
	}
	return err.Error()
}
