// Package payment talks to the card payment gateway.  Services depend on
// the Gateway interface; Stripe is the production implementation.
package payment

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// Metadata keys written on every checkout session and its payment intent.
const (
	MetaEventID  = "event_id"
	MetaBooking  = "booking"
	MetaCouponID = "coupon_id"
	MetaMemberID = "member_id"
	MetaEmail    = "email"
)

// Webhook event types handled by the service.
const (
	EventSessionCompleted     = "checkout.session.completed"
	EventSessionExpired       = "checkout.session.expired"
	EventAsyncPaymentSucceded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed   = "checkout.session.async_payment_failed"
)

// ErrSignature is returned by ParseWebhook for payloads that fail
// signature verification.
var ErrSignature = errors.New("invalid webhook signature")

// Gateway is the subset of the payment processor the service relies on.
type Gateway interface {
	FindOrCreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (*Session, error)
	FindPaidSessionsByEmail(ctx context.Context, email string) ([]Session, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// CheckoutRequest describes a one-item checkout.
type CheckoutRequest struct {
	CustomerID        string
	Email             string
	AmountCents       int64
	Currency          string
	ProductName       string
	Description       string
	ClientReferenceID string
	Metadata          map[string]string
	IdempotencyKey    string
}

// Session is the gateway-neutral view of a checkout session.  Paid is true
// once the payment succeeded; Expired once the session can no longer be
// paid.
type Session struct {
	ID                string            `json:"id"`
	URL               string            `json:"url,omitempty"`
	PaymentIntentID   string            `json:"payment_intent_id,omitempty"`
	Paid              bool              `json:"paid"`
	Expired           bool              `json:"expired"`
	CustomerID        string            `json:"customer_id,omitempty"`
	Email             string            `json:"email,omitempty"`
	AmountCents       int64             `json:"amount_cents"`
	Currency          string            `json:"currency,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ClientReferenceID string            `json:"client_reference_id,omitempty"`
}

// Ref returns the booking the session pays for, read from the client
// reference first and the metadata second.
func (s Session) Ref() *model.BookingRef {
	for _, v := range []string{s.ClientReferenceID, s.Metadata[MetaBooking]} {
		if ref, err := model.ParseBookingRef(v); err == nil {
			return &ref
		}
	}
	return nil
}

// EventID returns the event id stored in metadata, or 0.
func (s Session) EventID() uint64 { return metaUint(s.Metadata, MetaEventID) }

// MemberID returns the member id stored in metadata, or nil.
func (s Session) MemberID() *uint64 {
	if id := metaUint(s.Metadata, MetaMemberID); id != 0 {
		return &id
	}
	return nil
}

// CouponID returns the coupon id stored in metadata, or nil.
func (s Session) CouponID() *uint64 {
	if id := metaUint(s.Metadata, MetaCouponID); id != 0 {
		return &id
	}
	return nil
}

// PayerEmail returns the session email, falling back to metadata.
func (s Session) PayerEmail() string {
	if s.Email != "" {
		return strings.ToLower(s.Email)
	}
	return strings.ToLower(s.Metadata[MetaEmail])
}

func metaUint(m map[string]string, key string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(m[key]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// WebhookEvent is a verified webhook delivery.  Session is set for
// checkout.session.* events.
type WebhookEvent struct {
	ID      string
	Type    string
	Session *Session
}
