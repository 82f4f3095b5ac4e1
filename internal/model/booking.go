package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BookingKind selects the table a booking lives in.  Members register
// through event_registrations; guests without an account are written to
// attendees.  Both share the same lifecycle.
type BookingKind string

const (
	KindRegistration BookingKind = "registration"
	KindAttendee     BookingKind = "attendee"
)

// Valid reports whether k names a known booking table.
func (k BookingKind) Valid() bool { return k == KindRegistration || k == KindAttendee }

// Booking statuses.
const (
	StatusPending     = "pending"
	StatusConfirmed   = "confirmed"
	StatusCancelled   = "cancelled"
	StatusExpired     = "expired"
	StatusNeedsRefund = "needs_refund"
)

// Payment statuses.
const (
	PaymentUnpaid   = "unpaid"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

// BookingRef identifies one booking across both tables.  Its string form
// ("registration:12", "attendee:7") travels in checkout metadata, in the
// client reference of a session and in URLs.
type BookingRef struct {
	Kind BookingKind `json:"kind"`
	ID   uint64      `json:"id"`
}

func (r BookingRef) String() string { return string(r.Kind) + ":" + strconv.FormatUint(r.ID, 10) }

// IsZero reports whether the ref was never set.
func (r BookingRef) IsZero() bool { return r.Kind == "" && r.ID == 0 }

// ErrBadBookingRef is returned by ParseBookingRef for malformed input.
var ErrBadBookingRef = errors.New("invalid booking reference")

// ParseBookingRef parses the String form of a BookingRef.
func ParseBookingRef(s string) (BookingRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return BookingRef{}, fmt.Errorf("%w: %q", ErrBadBookingRef, s)
	}
	k := BookingKind(kind)
	if !k.Valid() {
		return BookingRef{}, fmt.Errorf("%w: unknown kind %q", ErrBadBookingRef, kind)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return BookingRef{}, fmt.Errorf("%w: bad id %q", ErrBadBookingRef, id)
	}
	return BookingRef{Kind: k, ID: n}, nil
}

// Booking is the common view over an event_registrations or attendees row.
// For registrations Name, Email and Phone are joined from the member.
//
// Fields:
//
//	Kind              – registration or attendee (not a column).
//	ID                – primary key in its table.
//	EventID           – booked event.
//	MemberID          – owning member; nil for unlinked guests.
//	Status            – pending, confirmed, cancelled, expired or needs_refund.
//	PaymentStatus     – unpaid, paid or refunded.
//	AmountCents       – amount charged after coupons.
//	CouponID          – coupon reserved by this booking (nullable).
//	CheckoutSessionID – gateway session paying for this booking (nullable).
//	PaymentIntentID   – gateway payment intent once known (nullable).
//	HoldExpiresAt     – end of the seat hold while pending (nullable).
//	CheckinCode       – opaque code printed on the ticket.
//	CheckedInAt       – time of arrival at the event (nullable).
type Booking struct {
	Kind              BookingKind `db:"kind" json:"kind"`
	ID                uint64      `db:"id" json:"id"`
	EventID           uint64      `db:"event_id" json:"event_id"`
	MemberID          *uint64     `db:"member_id" json:"member_id,omitempty"`
	Name              string      `db:"name" json:"name"`
	Email             string      `db:"email" json:"email"`
	Phone             string      `db:"phone" json:"phone"`
	Status            string      `db:"status" json:"status"`
	PaymentStatus     string      `db:"payment_status" json:"payment_status"`
	AmountCents       int64       `db:"amount_cents" json:"amount_cents"`
	CouponID          *uint64     `db:"coupon_id" json:"coupon_id,omitempty"`
	CheckoutSessionID *string     `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	PaymentIntentID   *string     `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	HoldExpiresAt     *time.Time  `db:"hold_expires_at" json:"hold_expires_at,omitempty"`
	CheckinCode       string      `db:"checkin_code" json:"checkin_code"`
	CheckedInAt       *time.Time  `db:"checked_in_at" json:"checked_in_at,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// Ref returns the booking's reference.
func (b Booking) Ref() BookingRef { return BookingRef{Kind: b.Kind, ID: b.ID} }

// IsPaid reports a confirmed, paid booking.
func (b Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentPaid && b.Status == StatusConfirmed
}

// HoldActive reports whether a pending booking still keeps its seat at now.
func (b Booking) HoldActive(now time.Time) bool {
	return b.Status == StatusPending && b.HoldExpiresAt != nil && b.HoldExpiresAt.After(now)
}

// SessionID returns the checkout session id or "".
func (b Booking) SessionID() string {
	if b.CheckoutSessionID == nil {
		return ""
	}
	return *b.CheckoutSessionID
}

// Registrant describes who is booking.  Members carry MemberID; guests
// only contact details.  Email is the identity of a guest within an event.
type Registrant struct {
	MemberID *uint64
	Name     string
	Email    string
	Phone    string
}

// Kind returns the booking table used for this registrant.
func (r Registrant) Kind() BookingKind {
	if r.MemberID != nil {
		return KindRegistration
	}
	return KindAttendee
}

// Key identifies the registrant within one event, for locks and logs.
func (r Registrant) Key() string {
	if r.MemberID != nil {
		return "m" + strconv.FormatUint(*r.MemberID, 10)
	}
	return "g" + strings.ToLower(strings.TrimSpace(r.Email))
}
