package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/runclub-portal/internal/database"
	"github.com/iliyamo/runclub-portal/internal/model"
)

const eventCols = `id, slug, title, description, location, starts_at, price_cents, currency,
	max_participants, schedule, highlights, image_url, status, created_at, updated_at`

// EventRepo provides CRUD operations on events.  Listing for the public
// only ever returns published events.
type EventRepo struct{ db *sqlx.DB }

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sqlx.DB) *EventRepo { return &EventRepo{db: db} }

// Create inserts e and fills its ID and timestamps.  A taken slug yields
// ErrSlugExists.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
	if e.Status == "" {
		e.Status = model.EventDraft
	}
	const q = `INSERT INTO events (slug, title, description, location, starts_at, price_cents, currency,
		max_participants, schedule, highlights, image_url, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, q, e.Slug, e.Title, e.Description, e.Location, e.StartsAt,
		e.PriceCents, e.Currency, e.MaxParticipants, e.Schedule, e.Highlights, e.ImageURL, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return ErrSlugExists
	}
	return err
}

// Update overwrites every editable column of e.
func (r *EventRepo) Update(ctx context.Context, e *model.Event) error {
	const q = `UPDATE events SET slug=$1, title=$2, description=$3, location=$4, starts_at=$5,
		price_cents=$6, currency=$7, max_participants=$8, schedule=$9, highlights=$10,
		image_url=$11, status=$12, updated_at=now()
		WHERE id=$13 RETURNING updated_at`
	err := r.db.QueryRowxContext(ctx, q, e.Slug, e.Title, e.Description, e.Location, e.StartsAt,
		e.PriceCents, e.Currency, e.MaxParticipants, e.Schedule, e.Highlights, e.ImageURL, e.Status, e.ID,
	).Scan(&e.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return ErrSlugExists
	}
	return notFound(err)
}

// GetByID fetches an event by id.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	var e model.Event
	if err := r.db.GetContext(ctx, &e, `SELECT `+eventCols+` FROM events WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// GetBySlug fetches an event by its public slug.
func (r *EventRepo) GetBySlug(ctx context.Context, slug string) (*model.Event, error) {
	var e model.Event
	if err := r.db.GetContext(ctx, &e, `SELECT `+eventCols+` FROM events WHERE slug=$1`, slug); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ListPublished returns published events starting at or after from, soonest
// first.  A zero from lists past events too.
func (r *EventRepo) ListPublished(ctx context.Context, from time.Time) ([]model.Event, error) {
	out := []model.Event{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+eventCols+` FROM events WHERE status='published' AND starts_at >= $1 ORDER BY starts_at`, from)
	return out, err
}

// ListAll returns every event for the back office, newest first.
func (r *EventRepo) ListAll(ctx context.Context, includeArchived bool) ([]model.Event, error) {
	q := `SELECT ` + eventCols + ` FROM events`
	if !includeArchived {
		q += ` WHERE status <> 'archived'`
	}
	out := []model.Event{}
	err := r.db.SelectContext(ctx, &out, q+` ORDER BY starts_at DESC`)
	return out, err
}

// Archive hides an event from listings and closes registration.
func (r *EventRepo) Archive(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE events SET status='archived', updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event.  Events with bookings cannot be deleted
// (ErrConflict); archive them instead.
func (r *EventRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id=$1`, id)
	if database.IsForeignKeyViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Availability describes how many seats an event has left.  Remaining is
// -1 for events without a capacity.
type Availability struct {
	Capacity  *int `json:"capacity"`
	Taken     int  `json:"taken"`
	Remaining int  `json:"remaining"`
}

// Availability counts confirmed bookings and live holds for the event.
func (r *EventRepo) Availability(ctx context.Context, e *model.Event, now time.Time) (Availability, error) {
	taken, err := takenSeats(ctx, r.db, e.ID, now, model.BookingRef{})
	if err != nil {
		return Availability{}, fmt.Errorf("count seats: %w", err)
	}
	return Availability{Capacity: e.MaxParticipants, Taken: taken, Remaining: e.Remaining(taken)}, nil
}

// takenSeats counts seats held on eventID by confirmed bookings and by
// pending bookings whose hold has not expired, across both booking tables.
// The booking named by exclude is left out so a registrant re-claiming
// their own row is not counted twice.
func takenSeats(ctx context.Context, q sqlx.QueryerContext, eventID uint64, now time.Time, exclude model.BookingRef) (int, error) {
	var exReg, exAtt uint64
	switch exclude.Kind {
	case model.KindRegistration:
		exReg = exclude.ID
	case model.KindAttendee:
		exAtt = exclude.ID
	}
	const sql = `SELECT
		(SELECT count(*) FROM event_registrations
		  WHERE event_id=$1 AND id<>$3
		    AND (status='confirmed' OR (status='pending' AND hold_expires_at > $2)))
		+
		(SELECT count(*) FROM attendees
		  WHERE event_id=$1 AND id<>$4
		    AND (status='confirmed' OR (status='pending' AND hold_expires_at > $2)))`
	var n int
	err := sqlx.GetContext(ctx, q, &n, sql, eventID, now, exReg, exAtt)
	return n, err
}
