package model

import "time"

// Payment transaction statuses.
const (
	TxPending = "pending"
	TxPaid    = "paid"
	TxExpired = "expired"
	TxFailed  = "failed"
)

// PaymentTransaction mirrors the `payment_transactions` table: one row per
// checkout session, written when the session is created and updated when
// the gateway reports its outcome.  Reconciliation uses rows without a
// completed booking to find payments that never reached the database.
type PaymentTransaction struct {
	ID              uint64      `db:"id" json:"id"`
	SessionID       string      `db:"session_id" json:"session_id"`
	PaymentIntentID *string     `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	BookingKind     BookingKind `db:"booking_kind" json:"booking_kind"`
	BookingID       *uint64     `db:"booking_id" json:"booking_id,omitempty"`
	EventID         *uint64     `db:"event_id" json:"event_id,omitempty"`
	MemberID        *uint64     `db:"member_id" json:"member_id,omitempty"`
	Email           string      `db:"email" json:"email"`
	AmountCents     int64       `db:"amount_cents" json:"amount_cents"`
	Currency        string      `db:"currency" json:"currency"`
	Status          string      `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// Ref returns the booking the transaction pays for, when known.
func (t PaymentTransaction) Ref() (BookingRef, bool) {
	if t.BookingID == nil || !t.BookingKind.Valid() {
		return BookingRef{}, false
	}
	return BookingRef{Kind: t.BookingKind, ID: *t.BookingID}, true
}
