package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
	"github.com/iliyamo/runclub-portal/internal/service"
)

// AdminEvents is the event storage used by the back office.
type AdminEvents interface {
	Create(ctx context.Context, e *model.Event) error
	Update(ctx context.Context, e *model.Event) error
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	ListAll(ctx context.Context, includeArchived bool) ([]model.Event, error)
	Archive(ctx context.Context, id uint64) error
	Delete(ctx context.Context, id uint64) error
	Availability(ctx context.Context, e *model.Event, now time.Time) (repository.Availability, error)
}

type AdminMembers interface {
	GetByID(ctx context.Context, id uint64) (*model.Member, error)
	List(ctx context.Context, f repository.MemberFilter) ([]model.Member, int, error)
	Update(ctx context.Context, m *model.Member) error
	Delete(ctx context.Context, id uint64) error
}

type AdminReviews interface {
	List(ctx context.Context, status string, eventID uint64) ([]model.Review, error)
	SetStatus(ctx context.Context, id uint64, status string) error
	Delete(ctx context.Context, id uint64) error
}

type AdminCoupons interface {
	Create(ctx context.Context, c *model.Coupon) error
	Update(ctx context.Context, c *model.Coupon) error
	GetByID(ctx context.Context, id uint64) (*model.Coupon, error)
	List(ctx context.Context) ([]model.Coupon, error)
	Delete(ctx context.Context, id uint64) error
	Usages(ctx context.Context, couponID uint64) ([]model.CouponUsage, error)
}

// AdminBookings covers attendee lists, check-in and hold expiry.
type AdminBookings interface {
	ListByEvent(ctx context.Context, eventID uint64, status string) ([]model.Booking, error)
	GetByCheckinCode(ctx context.Context, code string) (*model.Booking, error)
	CheckIn(ctx context.Context, ref model.BookingRef, now time.Time) (*model.Booking, bool, error)
	UndoCheckIn(ctx context.Context, ref model.BookingRef) (*model.Booking, error)
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
}

// Reconciler repairs bookings against the payment gateway.
type Reconciler interface {
	ReconcileEvent(ctx context.Context, eventID uint64) (*service.Report, error)
	ReconcileMember(ctx context.Context, memberID uint64) (*service.Report, error)
	ReconcileEmails(ctx context.Context, emails []string, eventID *uint64) (*service.Report, error)
	LinkAttendees(ctx context.Context) (*service.Report, error)
}

// AdminHandler bundles the stores behind /v1/admin.  Purge, when set,
// drops the public response cache after a write that changes what public
// routes return.  Currency is applied to events created without one.
type AdminHandler struct {
	Events    AdminEvents
	Members   AdminMembers
	Reviews   AdminReviews
	Coupons   AdminCoupons
	Bookings  AdminBookings
	Reconcile Reconciler
	Purge     func(ctx context.Context) error
	Currency  string
	Log       *zerolog.Logger
	now       func() time.Time
}

// NewAdminHandler panics if a dependency is missing.
func NewAdminHandler(events AdminEvents, members AdminMembers, reviews AdminReviews, coupons AdminCoupons,
	bookings AdminBookings, rec Reconciler, log *zerolog.Logger) *AdminHandler {
	if events == nil || members == nil || reviews == nil || coupons == nil || bookings == nil || rec == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &AdminHandler{
		Events:    events,
		Members:   members,
		Reviews:   reviews,
		Coupons:   coupons,
		Bookings:  bookings,
		Reconcile: rec,
		Currency:  "eur",
		Log:       log,
		now:       time.Now,
	}
}

// purge is best effort; cached entries expire on their own.
func (h *AdminHandler) purge(ctx context.Context) {
	if h.Purge == nil {
		return
	}
	if err := h.Purge(ctx); err != nil {
		h.Log.Warn().Err(err).Msg("purge response cache")
	}
}
