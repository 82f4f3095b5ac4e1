package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/lock"
	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// RegistrationConfig carries the pricing and hold settings.
type RegistrationConfig struct {
	Currency        string
	MinPaymentCents int64
	Hold            time.Duration
}

// RegistrationService books members and guests onto events.  Free
// registrations are confirmed at once; paid ones hold a seat while the
// registrant completes a checkout session.
type RegistrationService struct {
	events   EventReader
	members  MemberReader
	bookings Bookings
	coupons  *CouponService
	gateway  payment.Gateway
	locker   Locker
	cfg      RegistrationConfig
	log      *zerolog.Logger
	now      func() time.Time
}

func NewRegistrationService(events EventReader, members MemberReader, bookings Bookings, coupons *CouponService,
	gateway payment.Gateway, locker Locker, cfg RegistrationConfig, log *zerolog.Logger) *RegistrationService {
	if cfg.Hold <= 0 {
		cfg.Hold = 30 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	return &RegistrationService{
		events: events, members: members, bookings: bookings, coupons: coupons,
		gateway: gateway, locker: locker, cfg: cfg, log: log, now: time.Now,
	}
}

// RegisterInput identifies the event by slug and the registrant.  For
// members only Registrant.MemberID is read; the rest is loaded.
type RegisterInput struct {
	EventSlug  string
	Registrant model.Registrant
	CouponCode string
}

// RegisterResult is returned to the client.  For paid bookings SessionID
// names the checkout session the client redirects to; Reused is set when an
// open session from an earlier attempt is handed back.
type RegisterResult struct {
	Booking   model.Booking `json:"booking"`
	Quote     model.Quote   `json:"quote"`
	Free      bool          `json:"free"`
	SessionID string        `json:"session_id,omitempty"`
	URL       string        `json:"checkout_url,omitempty"`
	Reused    bool          `json:"reused"`
}

// Register books in.Registrant onto the event.  It returns
// repository.ErrAlreadyRegistered when the registrant already paid,
// repository.ErrEventFull when no seat is free and ErrBusy when another
// attempt for the same registrant is running.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	now := s.now().UTC()
	ev, err := s.events.GetBySlug(ctx, in.EventSlug)
	if err != nil {
		return nil, err
	}
	if !ev.RegistrationOpen(now) {
		return nil, repository.ErrRegistrationClosed
	}

	reg, member, err := s.registrant(ctx, in.Registrant)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "register:"+strconv.FormatUint(ev.ID, 10)+":"+reg.Key())
	if errors.Is(err, lock.ErrHeld) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.bookings.Find(ctx, ev.ID, reg)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, err
	}
	if existing != nil {
		if existing.PaymentStatus == model.PaymentPaid {
			return nil, repository.ErrAlreadyRegistered
		}
		if res, err := s.resumeCheckout(ctx, existing, now); res != nil || err != nil {
			return res, err
		}
	}

	quote, err := s.coupons.Quote(ctx, in.CouponCode, ev)
	if err != nil {
		return nil, err
	}
	if quote.FinalCents > 0 && quote.FinalCents < s.cfg.MinPaymentCents {
		quote.FinalCents = s.cfg.MinPaymentCents
		quote.DiscountCents = quote.OriginalCents - quote.FinalCents
		if quote.DiscountCents < 0 {
			quote.DiscountCents = 0
		}
	}

	claim, err := s.bookings.Claim(ctx, repository.ClaimRequest{
		EventID:     ev.ID,
		Registrant:  reg,
		AmountCents: quote.FinalCents,
		CouponID:    quote.CouponID,
		Hold:        s.cfg.Hold,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	res := &RegisterResult{Booking: claim.Booking, Quote: quote, Free: claim.Free}
	if claim.Free {
		s.log.Info().Str("booking", claim.Booking.Ref().String()).Uint64("event_id", ev.ID).Msg("free registration confirmed")
		return res, nil
	}

	sess, err := s.startCheckout(ctx, ev, &claim.Booking, member, quote)
	if err != nil {
		if _, rerr := s.bookings.Release(ctx, claim.Booking.Ref(), model.StatusCancelled); rerr != nil {
			s.log.Error().Err(rerr).Str("booking", claim.Booking.Ref().String()).Msg("release after checkout failure")
		}
		return nil, err
	}
	res.SessionID, res.URL = sess.ID, sess.URL
	sid := sess.ID
	res.Booking.CheckoutSessionID = &sid
	return res, nil
}

// registrant validates the caller and fills in member details.
func (s *RegistrationService) registrant(ctx context.Context, r model.Registrant) (model.Registrant, *model.Member, error) {
	if r.MemberID == nil {
		r.Name = strings.TrimSpace(r.Name)
		r.Email = strings.ToLower(strings.TrimSpace(r.Email))
		if r.Name == "" || r.Email == "" {
			return r, nil, ErrInvalidRegistrant
		}
		return r, nil, nil
	}
	m, err := s.members.GetByID(ctx, *r.MemberID)
	if err != nil {
		return r, nil, err
	}
	if m.MembershipStatus != model.MembershipActive {
		return r, nil, ErrMembershipInactive
	}
	return model.Registrant{MemberID: &m.ID, Name: m.FullName(), Email: m.Email, Phone: m.Phone}, m, nil
}

// resumeCheckout inspects the session of an earlier attempt.  A paid
// session is fulfilled and reported as already registered; an open one
// with an active hold is handed back.  A nil result means start over.
func (s *RegistrationService) resumeCheckout(ctx context.Context, b *model.Booking, now time.Time) (*RegisterResult, error) {
	sid := b.SessionID()
	if sid == "" {
		return nil, nil
	}
	sess, err := s.gateway.GetSession(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", ErrGateway, err)
	}
	if sess.Paid {
		if _, err := s.bookings.Fulfill(ctx, fulfilRequest(*sess, false, now)); err != nil {
			return nil, err
		}
		return nil, repository.ErrAlreadyRegistered
	}
	if sess.Expired || b.Status != model.StatusPending || !b.HoldActive(now) {
		return nil, nil
	}
	return &RegisterResult{
		Booking: *b,
		Quote: model.Quote{
			OriginalCents: b.AmountCents,
			FinalCents:    b.AmountCents,
			Currency:      sess.Currency,
			CouponID:      b.CouponID,
		},
		SessionID: sess.ID,
		URL:       sess.URL,
		Reused:    true,
	}, nil
}

// startCheckout opens a checkout session for a pending booking and
// records it.  The idempotency key is tied to the booking and its hold so
// a retried request never opens a second session for the same attempt.
func (s *RegistrationService) startCheckout(ctx context.Context, ev *model.Event, b *model.Booking, member *model.Member,
	quote model.Quote) (*payment.Session, error) {
	customerID, err := s.customer(ctx, b, member)
	if err != nil {
		return nil, err
	}
	currency := ev.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	ref := b.Ref()
	meta := map[string]string{
		payment.MetaEventID: strconv.FormatUint(ev.ID, 10),
		payment.MetaBooking: ref.String(),
		payment.MetaEmail:   b.Email,
	}
	if b.MemberID != nil {
		meta[payment.MetaMemberID] = strconv.FormatUint(*b.MemberID, 10)
	}
	if quote.CouponID != nil {
		meta[payment.MetaCouponID] = strconv.FormatUint(*quote.CouponID, 10)
	}
	key := "checkout-" + ref.String()
	if b.HoldExpiresAt != nil {
		key += "-" + strconv.FormatInt(b.HoldExpiresAt.Unix(), 10)
	}
	sess, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		CustomerID:        customerID,
		Email:             b.Email,
		AmountCents:       b.AmountCents,
		Currency:          currency,
		ProductName:       ev.Title,
		Description:       "Inscripción " + ev.StartsAt.Format("02/01/2006 15:04"),
		ClientReferenceID: ref.String(),
		Metadata:          meta,
		IdempotencyKey:    key,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrGateway, err)
	}
	err = s.bookings.AttachCheckout(ctx, ref, repository.CheckoutAttachment{
		SessionID:   sess.ID,
		AmountCents: b.AmountCents,
		Currency:    currency,
		EventID:     ev.ID,
		MemberID:    b.MemberID,
		Email:       b.Email,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("booking", ref.String()).Str("session_id", sess.ID).Int64("amount_cents", b.AmountCents).
		Msg("checkout session created")
	return sess, nil
}

// customer returns the gateway customer for the booking, creating it and
// remembering it on the member when needed.
func (s *RegistrationService) customer(ctx context.Context, b *model.Booking, member *model.Member) (string, error) {
	if member != nil && member.StripeCustomerID != nil && *member.StripeCustomerID != "" {
		return *member.StripeCustomerID, nil
	}
	id, err := s.gateway.FindOrCreateCustomer(ctx, b.Email, b.Name)
	if err != nil {
		return "", fmt.Errorf("%w: customer: %v", ErrGateway, err)
	}
	if member != nil {
		if err := s.members.SetStripeCustomerID(ctx, member.ID, id); err != nil {
			s.log.Warn().Err(err).Uint64("member_id", member.ID).Msg("store customer id")
		}
	}
	return id, nil
}

// Cancel drops the member's own booking.
func (s *RegistrationService) Cancel(ctx context.Context, memberID uint64, ref model.BookingRef) (*model.Booking, error) {
	b, err := s.bookings.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if b.MemberID == nil || *b.MemberID != memberID {
		return nil, repository.ErrForbidden
	}
	return s.bookings.Cancel(ctx, ref)
}
