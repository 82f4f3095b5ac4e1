package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Event statuses.
const (
	EventDraft     = "draft"
	EventPublished = "published"
	EventArchived  = "archived"
)

// Event represents a club run, race or social outing.  Events are
// authored by admins and listed publicly once published.  A nil
// MaxParticipants means the event has no capacity limit; a zero
// PriceCents means registration is free.
//
// Fields:
//
//	ID              – primary key identifier.
//	Slug            – unique URL identifier used by public routes.
//	Title           – display title.
//	Description     – long description (markdown allowed).
//	Location        – meeting point.
//	StartsAt        – when the event begins.
//	PriceCents      – price per participant in the minor currency unit.
//	Currency        – ISO currency code, lower case.
//	MaxParticipants – capacity limit (nullable).
//	Schedule        – ordered agenda items.
//	Highlights      – short bullet points shown on the event card.
//	ImageURL        – cover image.
//	Status          – draft, published or archived.
type Event struct {
	ID              uint64       `db:"id" json:"id"`
	Slug            string       `db:"slug" json:"slug"`
	Title           string       `db:"title" json:"title"`
	Description     string       `db:"description" json:"description"`
	Location        string       `db:"location" json:"location"`
	StartsAt        time.Time    `db:"starts_at" json:"starts_at"`
	PriceCents      int64        `db:"price_cents" json:"price_cents"`
	Currency        string       `db:"currency" json:"currency"`
	MaxParticipants *int         `db:"max_participants" json:"max_participants"`
	Schedule        ScheduleList `db:"schedule" json:"schedule"`
	Highlights      StringList   `db:"highlights" json:"highlights"`
	ImageURL        string       `db:"image_url" json:"image_url"`
	Status          string       `db:"status" json:"status"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// IsFree reports whether registering costs nothing before coupons.
func (e Event) IsFree() bool { return e.PriceCents <= 0 }

// RegistrationOpen reports whether new bookings may be taken at now.
func (e Event) RegistrationOpen(now time.Time) bool {
	return e.Status == EventPublished && e.StartsAt.After(now)
}

// Remaining returns the free seats given taken ones, or -1 when unlimited.
func (e Event) Remaining(taken int) int {
	if e.MaxParticipants == nil {
		return -1
	}
	if r := *e.MaxParticipants - taken; r > 0 {
		return r
	}
	return 0
}

// ScheduleItem is one agenda line of an event.
type ScheduleItem struct {
	Time  string `json:"time"`
	Title string `json:"title"`
}

// ScheduleList is stored as a JSONB array.
type ScheduleList []ScheduleItem

func (s ScheduleList) Value() (driver.Value, error) { return jsonValue(s, "[]") }
func (s *ScheduleList) Scan(src any) error         { return jsonScan(src, s) }

// StringList is stored as a JSONB array of strings.
type StringList []string

func (s StringList) Value() (driver.Value, error) { return jsonValue(s, "[]") }
func (s *StringList) Scan(src any) error         { return jsonScan(src, s) }

func jsonValue[T any](v []T, empty string) (driver.Value, error) {
	if len(v) == 0 {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	}
	return errors.New("unsupported JSON column type")
}
