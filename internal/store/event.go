package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/akram-events/apiserver/types"
	"github.com/lib/pq"
)

const pqForeignKeyViolation = "23503"

// EventRepository handles persistence for events and their rosters.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `
	e.id, e.title, e.date, e.location, e.description, e.organizer, e.poster_key,
	e.created_at, e.updated_at,
	COALESCE(array_agg(r.user_id ORDER BY r.user_id) FILTER (WHERE r.user_id IS NOT NULL), '{}')`

func (r *EventRepository) List(ctx context.Context, offset, limit int) ([]types.Event, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM events`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT` + eventColumns + `
		FROM events e
		LEFT JOIN event_registrations r ON r.event_id = e.id
		GROUP BY e.id
		ORDER BY e.date, e.id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]types.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

func (r *EventRepository) Get(ctx context.Context, id int) (types.Event, error) {
	const query = `
		SELECT` + eventColumns + `
		FROM events e
		LEFT JOIN event_registrations r ON r.event_id = e.id
		WHERE e.id = $1
		GROUP BY e.id`
	event, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Event{}, ErrNotFound
		}
		return types.Event{}, err
	}
	return event, nil
}

func (r *EventRepository) Create(ctx context.Context, event types.Event) (types.Event, error) {
	now := time.Now()
	event.CreatedAt = now
	event.UpdatedAt = now

	const query = `
		INSERT INTO events (title, date, location, description, organizer, poster_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		event.Title,
		event.Date,
		event.Location,
		event.Description,
		event.Organizer,
		event.PosterKey,
		event.CreatedAt,
		event.UpdatedAt,
	).Scan(&event.ID); err != nil {
		return types.Event{}, err
	}
	if event.RegisteredUsers == nil {
		event.RegisteredUsers = []int{}
	}
	return event, nil
}

func (r *EventRepository) Update(ctx context.Context, event types.Event) (types.Event, error) {
	event.UpdatedAt = time.Now()

	const query = `
		UPDATE events
		SET title = $1,
			date = $2,
			location = $3,
			description = $4,
			organizer = $5,
			updated_at = $6
		WHERE id = $7`
	result, err := r.db.ExecContext(
		ctx,
		query,
		event.Title,
		event.Date,
		event.Location,
		event.Description,
		event.Organizer,
		event.UpdatedAt,
		event.ID,
	)
	if err != nil {
		return types.Event{}, err
	}
	if err := checkAffected(result); err != nil {
		return types.Event{}, err
	}
	return r.Get(ctx, event.ID)
}

// SetPosterKey records the object-storage key of the event poster.
func (r *EventRepository) SetPosterKey(ctx context.Context, id int, key string) error {
	const query = `
		UPDATE events
		SET poster_key = $1,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, key, time.Now(), id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (r *EventRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM events WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// AddRegistration inserts the (event, user) pair. The composite primary key
// makes the insert at-most-once: a concurrent duplicate register surfaces as
// ErrAlreadyRegistered rather than a second row.
func (r *EventRepository) AddRegistration(ctx context.Context, eventID, userID int) error {
	const query = `
		INSERT INTO event_registrations (event_id, user_id, created_at)
		VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, eventID, userID, time.Now()); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyRegistered
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// RemoveRegistration deletes the (event, user) pair. A zero-row delete means
// the pair was not registered, which also covers a concurrent double cancel.
func (r *EventRepository) RemoveRegistration(ctx context.Context, eventID, userID int) error {
	const query = `
		DELETE FROM event_registrations
		WHERE event_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, eventID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotRegistered
	}
	return nil
}

// Registrants lists the users on the event roster, ordered by registration time.
func (r *EventRepository) Registrants(ctx context.Context, eventID int) ([]types.User, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.role, u.created_at, u.updated_at
		FROM event_registrations reg
		JOIN users u ON u.id = reg.user_id
		WHERE reg.event_id = $1
		ORDER BY reg.created_at, u.id`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		var user types.User
		if err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.Email,
			&user.Role,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func scanEvent(row rowScanner) (types.Event, error) {
	var event types.Event
	var registered pq.Int64Array
	if err := row.Scan(
		&event.ID,
		&event.Title,
		&event.Date,
		&event.Location,
		&event.Description,
		&event.Organizer,
		&event.PosterKey,
		&event.CreatedAt,
		&event.UpdatedAt,
		&registered,
	); err != nil {
		return types.Event{}, err
	}

	event.RegisteredUsers = make([]int, 0, len(registered))
	for _, id := range registered {
		event.RegisteredUsers = append(event.RegisteredUsers, int(id))
	}
	return event, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}
