package service

import (
	"context"
	"time"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// EventReader loads events.
type EventReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	GetBySlug(ctx context.Context, slug string) (*model.Event, error)
}

// MemberReader loads members and stores their gateway customer.
type MemberReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Member, error)
	SetStripeCustomerID(ctx context.Context, id uint64, customerID string) error
}

// CouponReader looks coupons up by code.
type CouponReader interface {
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
}

// Bookings is the booking store as seen by the services.
// *repository.BookingStore implements it.
type Bookings interface {
	Find(ctx context.Context, eventID uint64, reg model.Registrant) (*model.Booking, error)
	GetByRef(ctx context.Context, ref model.BookingRef) (*model.Booking, error)
	Claim(ctx context.Context, req repository.ClaimRequest) (*repository.Claim, error)
	AttachCheckout(ctx context.Context, ref model.BookingRef, a repository.CheckoutAttachment) error
	Release(ctx context.Context, ref model.BookingRef, status string) (bool, error)
	ExpireSession(ctx context.Context, sessionID string) (bool, error)
	Fulfill(ctx context.Context, req repository.FulfillRequest) (*repository.FulfillResult, error)
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
	Cancel(ctx context.Context, ref model.BookingRef) (*model.Booking, error)
	PendingWithSession(ctx context.Context, f repository.BookingFilter) ([]model.Booking, error)
	OrphanTransactions(ctx context.Context, f repository.BookingFilter) ([]model.PaymentTransaction, error)
	ListByEvent(ctx context.Context, eventID uint64, status string) ([]model.Booking, error)
	LinkAttendeesToMembers(ctx context.Context) (int64, error)
	AttendedBy(ctx context.Context, eventID, memberID uint64) (*model.Booking, error)
}

// Locker serialises work per key.  *lock.Locker implements it.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

var _ Bookings = (*repository.BookingStore)(nil)
