package person

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"hosteltrack/internal/presence"
)

// Store is the authoritative holder of each person's cached IN/OUT state.
// The cache is a projection of the event log, never the source of truth:
// Checker can detect drift, and ResetState/ResetAll correct it explicitly.
type Store struct {
	db *sql.DB
}

// NewStore creates a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns one person by id.
func (s *Store) Get(ctx context.Context, id string) (presence.Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, current_state, last_state_update, active
		FROM persons WHERE id = $1
	`, id)
	return scanPerson(row)
}

// ListActive returns every non-deactivated person.
func (s *Store) ListActive(ctx context.Context) ([]presence.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, current_state, last_state_update, active
		FROM persons WHERE active = TRUE
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []presence.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// State returns the cached state, UNKNOWN when the cache is empty. An
// unknown person is presence.ErrNotFound.
func (s *Store) State(ctx context.Context, personID string) (presence.State, error) {
	p, err := s.Get(ctx, personID)
	if err != nil {
		return presence.StateUnknown, err
	}
	if !p.CurrentState.Valid() {
		return presence.StateUnknown, nil
	}
	return p.CurrentState, nil
}

// SetState updates the cached projection. Callers must only do this after
// the entry validator accepted the transition.
func (s *Store) SetState(ctx context.Context, personID string, st presence.State, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE persons SET current_state = $2, last_state_update = $3 WHERE id = $1
	`, personID, st, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return presence.ErrNotFound
	}
	return nil
}

// ResetState is the administrative correction for one person's drifted
// cache. It bypasses validation.
func (s *Store) ResetState(ctx context.Context, personID string, st presence.State) error {
	log.Printf("audit: state reset for person %s to %s", personID, st)
	return s.SetState(ctx, personID, st, time.Now().UTC())
}

// ResetAll is the bulk administrative escape hatch: every active person's
// cache is forced to newState, bypassing validation entirely.
func (s *Store) ResetAll(ctx context.Context, newState presence.State) (int, error) {
	if !newState.Valid() {
		return 0, errors.New("reset state must be IN or OUT")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE persons SET current_state = $1, last_state_update = NOW() WHERE active = TRUE
	`, newState)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	log.Printf("audit: bulk state reset to %s for %d persons", newState, n)
	return int(n), err
}

func scanPerson(row interface{ Scan(...any) error }) (presence.Person, error) {
	var (
		p    presence.Person
		name sql.NullString
		st   sql.NullString
		upd  sql.NullTime
	)
	err := row.Scan(&p.ID, &name, &p.Kind, &st, &upd, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Person{}, presence.ErrNotFound
	}
	if err != nil {
		return presence.Person{}, err
	}
	p.Name = name.String
	p.CurrentState = presence.State(st.String)
	if !p.CurrentState.Valid() {
		p.CurrentState = presence.StateUnknown
	}
	p.LastStateUpdate = upd.Time
	return p, nil
}
