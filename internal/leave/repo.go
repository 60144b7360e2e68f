package leave

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound signals an unknown leave id.
var ErrNotFound = errors.New("leave not found")

// Repository persists leave applications in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new application, defaulting status to pending.
func (r *Repository) Insert(ctx context.Context, app Application) (Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = StatusPending
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO leave_applications (id, person_id, from_date, to_date, status, reason, is_paid)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, app.ID, app.PersonID, app.FromDate, app.ToDate, app.Status, app.Reason, app.IsPaid)
	if err := row.Scan(&app.CreatedAt); err != nil {
		return Application{}, err
	}
	return app, nil
}

// Get returns a single application by id.
func (r *Repository) Get(ctx context.Context, id string) (Application, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, person_id, from_date, to_date, status, reason, is_paid, created_at
		FROM leave_applications WHERE id = $1
	`, id)
	var app Application
	err := row.Scan(&app.ID, &app.PersonID, &app.FromDate, &app.ToDate, &app.Status, &app.Reason, &app.IsPaid, &app.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, ErrNotFound
	}
	if err != nil {
		return Application{}, err
	}
	return app, nil
}

// ApprovedLeaveOn returns the approved application covering date for the
// person, or nil when there is none.
func (r *Repository) ApprovedLeaveOn(ctx context.Context, personID, date string) (*Application, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, person_id, from_date, to_date, status, reason, is_paid, created_at
		FROM leave_applications
		WHERE person_id = $1 AND status = $2 AND from_date <= $3 AND to_date >= $3
		ORDER BY from_date
		LIMIT 1
	`, personID, StatusApproved, date)
	var app Application
	err := row.Scan(&app.ID, &app.PersonID, &app.FromDate, &app.ToDate, &app.Status, &app.Reason, &app.IsPaid, &app.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// UpdateStatus moves an application through its lifecycle.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leave_applications SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Truncate shortens an approved leave so it ends on newToDate. A leave
// truncated to before its own start is cancelled outright.
func (r *Repository) Truncate(ctx context.Context, id, newToDate string) error {
	app, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if newToDate < app.FromDate {
		return r.UpdateStatus(ctx, id, StatusCancelled)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE leave_applications SET to_date = $2, updated_at = NOW() WHERE id = $1
	`, id, newToDate)
	return err
}

// ListForPerson returns a person's applications, newest first.
func (r *Repository) ListForPerson(ctx context.Context, personID string, limit int) ([]Application, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, person_id, from_date, to_date, status, reason, is_paid, created_at
		FROM leave_applications
		WHERE person_id = $1
		ORDER BY from_date DESC
		LIMIT $2
	`, personID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Application
	for rows.Next() {
		var app Application
		if err := rows.Scan(&app.ID, &app.PersonID, &app.FromDate, &app.ToDate, &app.Status, &app.Reason, &app.IsPaid, &app.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, app)
	}
	return res, rows.Err()
}
