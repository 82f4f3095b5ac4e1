package model

import (
	"encoding/json"
	"time"
)

// Outbox topics.  Each topic is published to the queue of the same name.
const (
	TopicRegistrationConfirmed = "registration.confirmed"
	TopicRegistrationExpired   = "registration.expired"
)

// OutboxMessage is a row of the `outbox` table, written in the same
// transaction as the state change it announces.
type OutboxMessage struct {
	ID          uint64          `db:"id"`
	Topic       string          `db:"topic"`
	Payload     json.RawMessage `db:"payload"`
	Attempts    int             `db:"attempts"`
	LastError   string          `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	PublishedAt *time.Time      `db:"published_at"`
}

// RegistrationMessage is the payload of registration topics.  It carries
// enough to mail the registrant without querying the database again.
type RegistrationMessage struct {
	Booking     string    `json:"booking"`
	EventID     uint64    `json:"event_id"`
	EventTitle  string    `json:"event_title"`
	EventSlug   string    `json:"event_slug"`
	StartsAt    time.Time `json:"starts_at"`
	Location    string    `json:"location"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CheckinCode string    `json:"checkin_code"`
	OccurredAt  time.Time `json:"occurred_at"`
}
