package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, person_id, event_date, event_type, occurred_at, source, notes,
	override_leave_id, reconciled, resolution_note, status, created_at`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var (
		evt      Event
		notes    sql.NullString
		override sql.NullString
		note     sql.NullString
		status   sql.NullString
	)
	err := row.Scan(&evt.ID, &evt.PersonID, &evt.Date, &evt.Type, &evt.Timestamp, &evt.Source,
		&notes, &override, &evt.Reconciled, &note, &status, &evt.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	evt.Notes = notes.String
	if override.Valid {
		evt.OverrideLeaveID = &override.String
	}
	evt.ResolutionNote = note.String
	evt.Status = Status(status.String)
	return evt, nil
}

// Insert writes a new event.
func (r *Repository) Insert(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Date == "" {
		evt.Date = DateOf(evt.Timestamp)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_events
			(id, person_id, event_date, event_type, occurred_at, source, notes, override_leave_id, reconciled, resolution_note, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, evt.ID, evt.PersonID, evt.Date, evt.Type, evt.Timestamp, evt.Source,
		nullable(evt.Notes), evt.OverrideLeaveID, evt.Reconciled, nullable(evt.ResolutionNote), nullable(string(evt.Status)))
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, &TransientError{Op: "insert event", Err: err}
	}
	return evt, nil
}

// Get returns a single event by id.
func (r *Repository) Get(ctx context.Context, id string) (Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM attendance_events WHERE id = $1`, id)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return evt, err
}

// LastEvent returns the person's chronologically last event, or nil.
func (r *Repository) LastEvent(ctx context.Context, personID string) (*Event, error) {
	return r.lastEvent(ctx, personID, time.Time{})
}

// LastEventBefore returns the last event at or before cutoff, or nil.
func (r *Repository) LastEventBefore(ctx context.Context, personID string, cutoff time.Time) (*Event, error) {
	return r.lastEvent(ctx, personID, cutoff)
}

func (r *Repository) lastEvent(ctx context.Context, personID string, cutoff time.Time) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM attendance_events WHERE person_id = $1`
	args := []any{personID}
	if !cutoff.IsZero() {
		query += ` AND occurred_at <= $2`
		args = append(args, cutoff)
	}
	query += ` ORDER BY occurred_at DESC LIMIT 1`

	evt, err := scanEvent(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// ListByPersonDate returns a person's events on a date in timestamp order.
func (r *Repository) ListByPersonDate(ctx context.Context, personID, date string) ([]Event, error) {
	return r.list(ctx, `
		SELECT `+eventColumns+` FROM attendance_events
		WHERE person_id = $1 AND event_date = $2
		ORDER BY occurred_at
	`, personID, date)
}

// ListByDate returns all events on a date in timestamp order.
func (r *Repository) ListByDate(ctx context.Context, date string) ([]Event, error) {
	return r.list(ctx, `
		SELECT `+eventColumns+` FROM attendance_events
		WHERE event_date = $1
		ORDER BY person_id, occurred_at
	`, date)
}

// ListUnreconciled returns events still awaiting reconciliation, optionally
// scoped to a date. Already-reconciled events are never included.
func (r *Repository) ListUnreconciled(ctx context.Context, date string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + eventColumns + ` FROM attendance_events WHERE reconciled = FALSE`
	args := []any{}
	if date != "" {
		args = append(args, date)
		query += fmt.Sprintf(" AND event_date = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at LIMIT $%d", len(args))
	return r.list(ctx, query, args...)
}

// VerdictFor returns the event carrying a settled verdict for the
// person/date, or nil when the day is still open.
func (r *Repository) VerdictFor(ctx context.Context, personID, date string) (*Event, error) {
	evts, err := r.list(ctx, `
		SELECT `+eventColumns+` FROM attendance_events
		WHERE person_id = $1 AND event_date = $2 AND status IS NOT NULL AND status NOT IN ('', 'unknown')
		ORDER BY occurred_at DESC
		LIMIT 1
	`, personID, date)
	if err != nil {
		return nil, err
	}
	if len(evts) == 0 {
		return nil, nil
	}
	return &evts[0], nil
}

// MarkReconciled flips reconciled exactly once, recording the resolution
// note and optionally rewriting the status. A second call affects no rows.
func (r *Repository) MarkReconciled(ctx context.Context, id string, status Status, note string) (int64, error) {
	query := `
		UPDATE attendance_events
		SET reconciled = TRUE, resolution_note = $2
	`
	args := []any{id, note}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(", status = $%d", len(args))
	}
	query += ` WHERE id = $1 AND reconciled = FALSE`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAutoEventsBetween voids auto-generated events created under a
// leave's assumption: event_date in (afterDate, toDate], source=auto only.
// toDate is the leave's original end, so verdicts swept after the leave are
// never touched. Returns how many were removed.
func (r *Repository) DeleteAutoEventsBetween(ctx context.Context, personID, afterDate, toDate, leaveID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_events
		WHERE person_id = $1 AND event_date > $2 AND event_date <= $3 AND source = 'auto'
		  AND (override_leave_id = $4 OR override_leave_id IS NULL)
	`, personID, afterDate, toDate, leaveID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
