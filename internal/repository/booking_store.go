package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/iliyamo/runclub-portal/internal/database"
	"github.com/iliyamo/runclub-portal/internal/model"
)

// BookingStore reads and writes member registrations and guest attendees.
// Both tables share one lifecycle and every state change runs in a single
// transaction.  Capacity is checked while holding a row lock on the event,
// so claims for the same event are serialised and cannot oversell it.
type BookingStore struct {
	db *sqlx.DB
}

// NewBookingStore returns a BookingStore bound to the given database.
func NewBookingStore(db *sqlx.DB) *BookingStore { return &BookingStore{db: db} }

func table(k model.BookingKind) string {
	if k == model.KindAttendee {
		return "attendees"
	}
	return "event_registrations"
}

// bookingSelect returns a query over one booking table aliased "b", so
// cond can be shared between kinds.
func bookingSelect(k model.BookingKind, cond string) string {
	if k == model.KindAttendee {
		return `SELECT 'attendee' AS kind, b.id, b.event_id, b.member_id, b.name, b.email, b.phone,
			b.status, b.payment_status, b.amount_cents, b.coupon_id, b.checkout_session_id,
			b.payment_intent_id, b.hold_expires_at, b.checkin_code, b.checked_in_at, b.created_at, b.updated_at
			FROM attendees b WHERE ` + cond
	}
	return `SELECT 'registration' AS kind, b.id, b.event_id, b.member_id,
		trim(m.first_name || ' ' || m.last_name) AS name, m.email, m.phone,
		b.status, b.payment_status, b.amount_cents, b.coupon_id, b.checkout_session_id,
		b.payment_intent_id, b.hold_expires_at, b.checkin_code, b.checked_in_at, b.created_at, b.updated_at
		FROM event_registrations b JOIN members m ON m.id = b.member_id WHERE ` + cond
}

func bookingUnion(cond string) string {
	return bookingSelect(model.KindRegistration, cond) + " UNION ALL " + bookingSelect(model.KindAttendee, cond)
}

func getBooking(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*model.Booking, error) {
	var b model.Booking
	if err := sqlx.GetContext(ctx, q, &b, query, args...); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func lockBooking(ctx context.Context, tx *sqlx.Tx, ref model.BookingRef) (*model.Booking, error) {
	return getBooking(ctx, tx, bookingSelect(ref.Kind, `b.id=$1 FOR UPDATE OF b`), ref.ID)
}

func lockEvent(ctx context.Context, tx *sqlx.Tx, id uint64) (*model.Event, error) {
	var e model.Event
	if err := tx.GetContext(ctx, &e, `SELECT `+eventCols+` FROM events WHERE id=$1 FOR UPDATE`, id); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// findForRegistrant locates the registrant's booking on eventID in the
// table chosen by the registrant kind.
func findForRegistrant(ctx context.Context, q sqlx.QueryerContext, eventID uint64, reg model.Registrant, lock bool) (*model.Booking, error) {
	suffix := ""
	if lock {
		suffix = " FOR UPDATE OF b"
	}
	if reg.MemberID != nil {
		return getBooking(ctx, q, bookingSelect(model.KindRegistration, `b.event_id=$1 AND b.member_id=$2`+suffix), eventID, *reg.MemberID)
	}
	return getBooking(ctx, q, bookingSelect(model.KindAttendee, `b.event_id=$1 AND lower(b.email)=$2`+suffix), eventID, normEmail(reg.Email))
}

// Find returns the existing booking of reg on eventID, or ErrNotFound.
func (s *BookingStore) Find(ctx context.Context, eventID uint64, reg model.Registrant) (*model.Booking, error) {
	return findForRegistrant(ctx, s.db, eventID, reg, false)
}

// GetByRef loads a booking by reference.
func (s *BookingStore) GetByRef(ctx context.Context, ref model.BookingRef) (*model.Booking, error) {
	if !ref.Kind.Valid() {
		return nil, ErrNotFound
	}
	return getBooking(ctx, s.db, bookingSelect(ref.Kind, `b.id=$1`), ref.ID)
}

// GetBySessionID loads the booking currently tied to a checkout session.
func (s *BookingStore) GetBySessionID(ctx context.Context, sessionID string) (*model.Booking, error) {
	return getBooking(ctx, s.db, bookingUnion(`b.checkout_session_id=$1`), sessionID)
}

// GetByPaymentIntent loads the booking paid by a payment intent.
func (s *BookingStore) GetByPaymentIntent(ctx context.Context, pi string) (*model.Booking, error) {
	return getBooking(ctx, s.db, bookingUnion(`b.payment_intent_id=$1`)+` LIMIT 1`, pi)
}

// GetByCheckinCode loads the booking printed with code.
func (s *BookingStore) GetByCheckinCode(ctx context.Context, code string) (*model.Booking, error) {
	return getBooking(ctx, s.db, bookingUnion(`b.checkin_code=$1`), strings.ToUpper(strings.TrimSpace(code)))
}

// ClaimRequest asks for a seat on an event.  AmountCents is the final
// price after coupons; zero or less books the seat as confirmed and paid.
type ClaimRequest struct {
	EventID     uint64
	Registrant  model.Registrant
	AmountCents int64
	CouponID    *uint64
	Hold        time.Duration
	Now         time.Time
}

// Claim is the outcome of a successful claim.
type Claim struct {
	Booking model.Booking
	Event   model.Event
	Free    bool
	Created bool
}

// Claim reserves a seat for the registrant.  In one transaction it locks
// the event, rejects closed events and already paid registrants, counts
// the seats taken by others, reserves the coupon and inserts or resets the
// registrant's booking.  Free bookings are confirmed immediately and their
// confirmation is queued in the outbox.
func (s *BookingStore) Claim(ctx context.Context, req ClaimRequest) (*Claim, error) {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}
	kind := req.Registrant.Kind()
	out := &Claim{Free: req.AmountCents <= 0}
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		ev, err := lockEvent(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if !ev.RegistrationOpen(req.Now) {
			return ErrRegistrationClosed
		}
		out.Event = *ev

		existing, err := findForRegistrant(ctx, tx, ev.ID, req.Registrant, true)
		if err != nil && err != ErrNotFound {
			return err
		}
		var exclude model.BookingRef
		if existing != nil {
			if existing.PaymentStatus == model.PaymentPaid {
				return ErrAlreadyRegistered
			}
			exclude = existing.Ref()
			// the previous attempt's coupon goes back before a new one is taken
			if err := releaseCouponTx(ctx, tx, exclude); err != nil {
				return err
			}
			// a late payment of the abandoned session must not look like the live one
			if _, err := tx.ExecContext(ctx, `UPDATE payment_transactions SET status='expired', updated_at=now()
				WHERE booking_kind=$1 AND booking_id=$2 AND status='pending'`, exclude.Kind, exclude.ID); err != nil {
				return err
			}
		}
		paid, err := paidInOtherTableTx(ctx, tx, ev.ID, req.Registrant)
		if err != nil {
			return err
		}
		if paid {
			return ErrAlreadyRegistered
		}

		taken, err := takenSeats(ctx, tx, ev.ID, req.Now, exclude)
		if err != nil {
			return fmt.Errorf("count seats: %w", err)
		}
		if ev.MaxParticipants != nil && taken >= *ev.MaxParticipants {
			return ErrEventFull
		}

		if req.CouponID != nil {
			if err := reserveCouponTx(ctx, tx, *req.CouponID, ev.ID); err != nil {
				return err
			}
		}

		status, payment := model.StatusPending, model.PaymentUnpaid
		var hold *time.Time
		amount := req.AmountCents
		if out.Free {
			status, payment, amount = model.StatusConfirmed, model.PaymentPaid, 0
		} else {
			h := req.Now.Add(req.Hold)
			hold = &h
		}

		var ref model.BookingRef
		if existing != nil {
			ref = existing.Ref()
			q := fmt.Sprintf(`UPDATE %s SET status=$1, payment_status=$2, amount_cents=$3, coupon_id=$4,
				checkout_session_id=NULL, payment_intent_id=NULL, hold_expires_at=$5, updated_at=now()
				WHERE id=$6`, table(kind))
			if _, err := tx.ExecContext(ctx, q, status, payment, amount, req.CouponID, hold, ref.ID); err != nil {
				return err
			}
			if kind == model.KindAttendee {
				if _, err := tx.ExecContext(ctx, `UPDATE attendees SET name=$1, phone=$2 WHERE id=$3`,
					req.Registrant.Name, req.Registrant.Phone, ref.ID); err != nil {
					return err
				}
			}
		} else {
			id, err := insertBookingTx(ctx, tx, ev.ID, req.Registrant, status, payment, amount, req.CouponID, hold)
			if err != nil {
				return err
			}
			ref = model.BookingRef{Kind: kind, ID: id}
			out.Created = true
		}

		if req.CouponID != nil {
			usage := "reserved"
			if out.Free {
				usage = "redeemed"
			}
			if err := recordCouponUsageTx(ctx, tx, *req.CouponID, ref, req.Registrant.Email, usage); err != nil {
				return err
			}
		}

		b, err := lockBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		out.Booking = *b
		if out.Free {
			return enqueueTx(ctx, tx, model.TopicRegistrationConfirmed, ev, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// paidInOtherTableTx reports whether the registrant already paid for
// eventID through the other booking table: for a member, a guest booking
// linked to them or made with their email; for a guest, the registration
// of the member owning that email.  The caller holds the event row lock,
// which every fulfilment of the event also takes.
func paidInOtherTableTx(ctx context.Context, tx *sqlx.Tx, eventID uint64, reg model.Registrant) (bool, error) {
	var n int
	var err error
	if reg.MemberID != nil {
		err = tx.GetContext(ctx, &n, `SELECT count(*) FROM attendees a
			WHERE a.event_id=$1 AND a.payment_status='paid'
			  AND (a.member_id=$2 OR lower(a.email)=(SELECT lower(email) FROM members WHERE id=$2))`,
			eventID, *reg.MemberID)
	} else {
		err = tx.GetContext(ctx, &n, `SELECT count(*) FROM event_registrations r
			JOIN members m ON m.id = r.member_id
			WHERE r.event_id=$1 AND r.payment_status='paid' AND lower(m.email)=$2`,
			eventID, normEmail(reg.Email))
	}
	return n > 0, err
}

func insertBookingTx(ctx context.Context, tx *sqlx.Tx, eventID uint64, reg model.Registrant, status, payment string,
	amount int64, couponID *uint64, hold *time.Time) (uint64, error) {
	var id uint64
	var err error
	if reg.MemberID != nil {
		err = tx.QueryRowxContext(ctx, `INSERT INTO event_registrations
			(event_id, member_id, status, payment_status, amount_cents, coupon_id, hold_expires_at, checkin_code)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			eventID, *reg.MemberID, status, payment, amount, couponID, hold, newCheckinCode()).Scan(&id)
	} else {
		err = tx.QueryRowxContext(ctx, `INSERT INTO attendees
			(event_id, name, email, phone, status, payment_status, amount_cents, coupon_id, hold_expires_at, checkin_code)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
			eventID, reg.Name, normEmail(reg.Email), reg.Phone, status, payment, amount, couponID, hold, newCheckinCode()).Scan(&id)
	}
	if database.IsUniqueViolation(err) {
		return 0, ErrConflict
	}
	return id, err
}

// newCheckinCode returns a short upper-case code for tickets.
func newCheckinCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
}

// reserveCouponTx takes one usage of the coupon if any is left.  The
// conditional increment keeps used_count within usage_limit under
// concurrency.
func reserveCouponTx(ctx context.Context, tx *sqlx.Tx, couponID, eventID uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + 1, updated_at=now()
		WHERE id=$1 AND active AND (event_id IS NULL OR event_id=$2)
		  AND (usage_limit IS NULL OR used_count < usage_limit)`, couponID, eventID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func recordCouponUsageTx(ctx context.Context, tx *sqlx.Tx, couponID uint64, ref model.BookingRef, email, status string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO coupon_usages (coupon_id, booking_kind, booking_id, email, status)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (coupon_id, booking_kind, booking_id) DO UPDATE SET status=EXCLUDED.status`,
		couponID, ref.Kind, ref.ID, normEmail(email), status)
	return err
}

// releaseCouponTx returns the reserved (not redeemed) coupon usage of ref.
func releaseCouponTx(ctx context.Context, tx *sqlx.Tx, ref model.BookingRef) error {
	var ids []uint64
	err := tx.SelectContext(ctx, &ids, `DELETE FROM coupon_usages
		WHERE booking_kind=$1 AND booking_id=$2 AND status='reserved' RETURNING coupon_id`, ref.Kind, ref.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE coupons SET used_count = used_count - 1, updated_at=now() WHERE id=$1 AND used_count > 0`, id); err != nil {
			return err
		}
	}
	return nil
}

// redeemCouponTx turns the reservation of ref into a redemption.  When the
// reservation was released in the meantime a new usage is taken if the
// limit still allows it; ok is false when it does not.
func redeemCouponTx(ctx context.Context, tx *sqlx.Tx, couponID uint64, ref model.BookingRef, eventID uint64, email string) (ok bool, err error) {
	res, err := tx.ExecContext(ctx, `UPDATE coupon_usages SET status='redeemed'
		WHERE coupon_id=$1 AND booking_kind=$2 AND booking_id=$3`, couponID, ref.Kind, ref.ID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if err := reserveCouponTx(ctx, tx, couponID, eventID); err != nil {
		if err == ErrCouponExhausted {
			return false, nil
		}
		return false, err
	}
	return true, recordCouponUsageTx(ctx, tx, couponID, ref, email, "redeemed")
}

func enqueueTx(ctx context.Context, tx *sqlx.Tx, topic string, ev *model.Event, b *model.Booking) error {
	payload, err := json.Marshal(model.RegistrationMessage{
		Booking:     b.Ref().String(),
		EventID:     ev.ID,
		EventTitle:  ev.Title,
		EventSlug:   ev.Slug,
		StartsAt:    ev.StartsAt,
		Location:    ev.Location,
		Name:        b.Name,
		Email:       b.Email,
		AmountCents: b.AmountCents,
		Currency:    ev.Currency,
		Status:      b.Status,
		CheckinCode: b.CheckinCode,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, topic, string(payload))
	return err
}

// CheckoutAttachment links a pending booking to its checkout session.
type CheckoutAttachment struct {
	SessionID   string
	AmountCents int64
	Currency    string
	EventID     uint64
	MemberID    *uint64
	Email       string
}

// AttachCheckout stores the session id on the pending booking and records
// the pending payment transaction, in one transaction.
func (s *BookingStore) AttachCheckout(ctx context.Context, ref model.BookingRef, a CheckoutAttachment) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		b, err := lockBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		if b.Status != model.StatusPending {
			return ErrInvalidState
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET checkout_session_id=$1, updated_at=now() WHERE id=$2`, table(ref.Kind)), a.SessionID, ref.ID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO payment_transactions
			(session_id, booking_kind, booking_id, event_id, member_id, email, amount_cents, currency, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending')
			ON CONFLICT (session_id) DO UPDATE SET booking_kind=EXCLUDED.booking_kind,
				booking_id=EXCLUDED.booking_id, amount_cents=EXCLUDED.amount_cents, updated_at=now()`,
			a.SessionID, ref.Kind, ref.ID, a.EventID, a.MemberID, normEmail(a.Email), a.AmountCents, a.Currency)
		return err
	})
}

// Release ends a pending booking with status (cancelled or expired): the
// seat and any reserved coupon usage are returned and open payment
// transactions are marked expired.  Bookings no longer pending are left
// untouched and changed is false.
func (s *BookingStore) Release(ctx context.Context, ref model.BookingRef, status string) (changed bool, err error) {
	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		b, err := lockBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		if b.Status != model.StatusPending {
			return nil
		}
		changed = true
		return releaseTx(ctx, tx, b, status)
	})
	return changed, err
}

func releaseTx(ctx context.Context, tx *sqlx.Tx, b *model.Booking, status string) error {
	ref := b.Ref()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status=$1, hold_expires_at=NULL, updated_at=now() WHERE id=$2`, table(ref.Kind)), status, ref.ID); err != nil {
		return err
	}
	if err := releaseCouponTx(ctx, tx, ref); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE payment_transactions SET status='expired', updated_at=now()
		WHERE booking_kind=$1 AND booking_id=$2 AND status='pending'`, ref.Kind, ref.ID); err != nil {
		return err
	}
	ev, err := lockEvent(ctx, tx, b.EventID)
	if err != nil {
		return err
	}
	b.Status = status
	return enqueueTx(ctx, tx, model.TopicRegistrationExpired, ev, b)
}

// ExpireSession handles a checkout session that ended without payment.  The
// transaction row is marked expired and, when the session still belongs to
// a pending booking, that booking is released.
func (s *BookingStore) ExpireSession(ctx context.Context, sessionID string) (released bool, err error) {
	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE payment_transactions SET status='expired', updated_at=now()
			WHERE session_id=$1 AND status='pending'`, sessionID); err != nil {
			return err
		}
		cur, err := getBooking(ctx, tx, bookingUnion(`b.checkout_session_id=$1`), sessionID)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		b, err := lockBooking(ctx, tx, cur.Ref())
		if err != nil {
			return err
		}
		if b.Status != model.StatusPending || b.SessionID() != sessionID {
			return nil
		}
		released = true
		return releaseTx(ctx, tx, b, model.StatusExpired)
	})
	return released, err
}

// ExpireHolds releases every pending booking whose hold ended before now
// and returns how many were released.
func (s *BookingStore) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	var refs []model.BookingRef
	err := s.db.SelectContext(ctx, &refs, `
		SELECT 'registration' AS kind, id FROM event_registrations WHERE status='pending' AND hold_expires_at <= $1
		UNION ALL
		SELECT 'attendee' AS kind, id FROM attendees WHERE status='pending' AND hold_expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ref := range refs {
		changed, err := s.Release(ctx, ref, model.StatusExpired)
		if err != nil {
			return n, fmt.Errorf("release %s: %w", ref, err)
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// FulfillRequest describes a paid checkout session.  Ref, EventID,
// MemberID and Email come from the session metadata and are used, in that
// order after the transaction row, to find the booking it paid for.
type FulfillRequest struct {
	SessionID       string
	PaymentIntentID string
	Ref             *model.BookingRef
	EventID         uint64
	MemberID        *uint64
	Email           string
	Name            string
	AmountCents     int64
	Currency        string
	CouponID        *uint64
	// CreateMissing inserts a booking when none can be found.  Used by
	// reconciliation for payments whose booking was never written.
	CreateMissing bool
	Now           time.Time
}

// Fulfil outcomes.
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyPaid      = "already_paid"
	OutcomeNeedsRefund      = "needs_refund"
	OutcomeDuplicatePayment = "duplicate_payment" // paid again through another session
)

// FulfillResult reports what Fulfill did.
type FulfillResult struct {
	Booking    model.Booking
	Outcome    string
	Changed    bool
	Created    bool
	CouponLost bool
}

// Fulfill marks the booking paid by a checkout session as paid.  It is
// idempotent: the session's transaction row is locked first, and a booking
// that is already paid is reported as such without further writes.  When
// the booking was paid by a different session the outcome is
// OutcomeDuplicatePayment and the second charge has to be refunded.  The
// booking is confirmed when its hold is still active or a seat is free;
// otherwise it is flagged needs_refund.
func (s *BookingStore) Fulfill(ctx context.Context, req FulfillRequest) (*FulfillResult, error) {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}
	out := &FulfillResult{}
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO payment_transactions
			(session_id, payment_intent_id, event_id, member_id, email, amount_cents, currency, status)
			VALUES ($1, NULLIF($2,''), NULLIF($3::bigint,0), $4, $5, $6, $7, 'pending')
			ON CONFLICT (session_id) DO NOTHING`,
			req.SessionID, req.PaymentIntentID, int64(req.EventID), req.MemberID, normEmail(req.Email),
			req.AmountCents, strings.ToLower(req.Currency)); err != nil {
			return err
		}
		var txn model.PaymentTransaction
		if err := tx.GetContext(ctx, &txn, `SELECT id, session_id, payment_intent_id, booking_kind, booking_id,
			event_id, member_id, email, amount_cents, currency, status, created_at, updated_at
			FROM payment_transactions WHERE session_id=$1 FOR UPDATE`, req.SessionID); err != nil {
			return err
		}
		if req.EventID == 0 && txn.EventID != nil {
			req.EventID = *txn.EventID
		}
		if req.Email == "" {
			req.Email = txn.Email
		}

		b, err := s.resolveTx(ctx, tx, &txn, &req)
		if err != nil {
			return err
		}
		if b == nil {
			if !req.CreateMissing {
				return ErrNotFound
			}
			if b, err = s.createPaidTx(ctx, tx, &req); err != nil {
				return err
			}
			out.Created = true
		}

		if b.PaymentStatus == model.PaymentPaid {
			out.Booking, out.Outcome = *b, OutcomeAlreadyPaid
			if b.SessionID() != req.SessionID {
				out.Outcome = OutcomeDuplicatePayment
			}
			if txn.Status != model.TxPaid {
				out.Changed = true
				return markTxPaidTx(ctx, tx, req.SessionID, req.PaymentIntentID, b)
			}
			return nil
		}

		ev, err := lockEvent(ctx, tx, b.EventID)
		if err != nil {
			return err
		}
		status := model.StatusConfirmed
		if !b.HoldActive(req.Now) && b.Status != model.StatusConfirmed {
			taken, err := takenSeats(ctx, tx, ev.ID, req.Now, b.Ref())
			if err != nil {
				return err
			}
			if ev.MaxParticipants != nil && taken >= *ev.MaxParticipants {
				status = model.StatusNeedsRefund
			}
		}
		amount := b.AmountCents
		if req.AmountCents > 0 {
			amount = req.AmountCents
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status=$1, payment_status='paid', amount_cents=$2,
			checkout_session_id=$3, payment_intent_id=NULLIF($4,''), hold_expires_at=NULL, updated_at=now()
			WHERE id=$5`, table(b.Kind)), status, amount, req.SessionID, req.PaymentIntentID, b.ID); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}

		couponID := b.CouponID
		if couponID == nil {
			couponID = req.CouponID
		}
		if couponID != nil && status == model.StatusConfirmed {
			ok, err := redeemCouponTx(ctx, tx, *couponID, b.Ref(), ev.ID, b.Email)
			if err != nil {
				return err
			}
			out.CouponLost = !ok
		}

		if err := markTxPaidTx(ctx, tx, req.SessionID, req.PaymentIntentID, b); err != nil {
			return err
		}
		nb, err := lockBooking(ctx, tx, b.Ref())
		if err != nil {
			return err
		}
		out.Booking, out.Changed = *nb, true
		out.Outcome = OutcomeConfirmed
		if status == model.StatusNeedsRefund {
			out.Outcome = OutcomeNeedsRefund
			return nil
		}
		return enqueueTx(ctx, tx, model.TopicRegistrationConfirmed, ev, nb)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveTx finds and locks the booking a paid session belongs to, trying
// the transaction row, the metadata ref, the session id, the payment intent
// and finally the registrant's email on the event.  A nil booking with a
// nil error means nothing matched.
func (s *BookingStore) resolveTx(ctx context.Context, tx *sqlx.Tx, txn *model.PaymentTransaction, req *FulfillRequest) (*model.Booking, error) {
	lockRef := func(ref model.BookingRef) (*model.Booking, error) {
		b, err := lockBooking(ctx, tx, ref)
		if err == ErrNotFound {
			return nil, nil
		}
		return b, err
	}
	if ref, ok := txn.Ref(); ok {
		if b, err := lockRef(ref); b != nil || err != nil {
			return b, err
		}
	}
	if req.Ref != nil && req.Ref.Kind.Valid() {
		if b, err := lockRef(*req.Ref); b != nil || err != nil {
			return b, err
		}
	}
	for _, probe := range []struct{ cond, arg string }{
		{`b.checkout_session_id=$1`, req.SessionID},
		{`b.payment_intent_id=$1`, req.PaymentIntentID},
	} {
		if probe.arg == "" {
			continue
		}
		b, err := getBooking(ctx, tx, bookingUnion(probe.cond)+` LIMIT 1`, probe.arg)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		return lockRef(b.Ref())
	}
	if req.EventID == 0 {
		return nil, nil
	}
	reg, err := registrantFor(ctx, tx, req)
	if err != nil || reg == nil {
		return nil, err
	}
	b, err := findForRegistrant(ctx, tx, req.EventID, *reg, true)
	if err == ErrNotFound {
		// a member may have booked as a guest before signing up
		if reg.MemberID != nil && req.Email != "" {
			b, err = findForRegistrant(ctx, tx, req.EventID, model.Registrant{Email: req.Email}, true)
		}
		if err == ErrNotFound {
			return nil, nil
		}
	}
	return b, err
}

// registrantFor picks the registrant a paid session describes: the member
// from metadata, else the member owning the email, else a guest.
func registrantFor(ctx context.Context, q sqlx.QueryerContext, req *FulfillRequest) (*model.Registrant, error) {
	if req.MemberID != nil {
		return &model.Registrant{MemberID: req.MemberID, Email: req.Email, Name: req.Name}, nil
	}
	if req.Email == "" {
		return nil, nil
	}
	var id uint64
	err := sqlx.GetContext(ctx, q, &id, `SELECT id FROM members WHERE email=$1`, normEmail(req.Email))
	switch notFound(err) {
	case nil:
		return &model.Registrant{MemberID: &id, Email: req.Email, Name: req.Name}, nil
	case ErrNotFound:
		name := req.Name
		if name == "" {
			name = req.Email
		}
		return &model.Registrant{Email: req.Email, Name: name}, nil
	}
	return nil, err
}

func (s *BookingStore) createPaidTx(ctx context.Context, tx *sqlx.Tx, req *FulfillRequest) (*model.Booking, error) {
	if req.EventID == 0 {
		return nil, fmt.Errorf("%w: paid session %s has no event", ErrNotFound, req.SessionID)
	}
	reg, err := registrantFor(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: paid session %s has no registrant", ErrNotFound, req.SessionID)
	}
	if _, err := lockEvent(ctx, tx, req.EventID); err != nil {
		return nil, err
	}
	id, err := insertBookingTx(ctx, tx, req.EventID, *reg, model.StatusPending, model.PaymentUnpaid, req.AmountCents, nil, nil)
	if err != nil {
		return nil, err
	}
	return lockBooking(ctx, tx, model.BookingRef{Kind: reg.Kind(), ID: id})
}

func markTxPaidTx(ctx context.Context, tx *sqlx.Tx, sessionID, pi string, b *model.Booking) error {
	_, err := tx.ExecContext(ctx, `UPDATE payment_transactions SET status='paid',
		payment_intent_id=COALESCE(NULLIF($2,''), payment_intent_id),
		booking_kind=$3, booking_id=$4, event_id=$5, member_id=COALESCE($6, member_id), updated_at=now()
		WHERE session_id=$1`, sessionID, pi, b.Kind, b.ID, b.EventID, b.MemberID)
	return err
}

// BookingFilter narrows listings and reconciliation scans.  Zero fields
// are ignored.  Conditions apply to the unified booking view "x".
type BookingFilter struct {
	EventID  uint64
	MemberID uint64
	Emails   []string
	Status   string
}

func (f BookingFilter) apply(w *where) {
	if f.EventID != 0 {
		w.add(`x.event_id = ?`, f.EventID)
	}
	if f.MemberID != 0 {
		w.add(`x.member_id = ?`, f.MemberID)
	}
	if len(f.Emails) > 0 {
		emails := make([]string, len(f.Emails))
		for i, e := range f.Emails {
			emails[i] = normEmail(e)
		}
		w.add(`lower(x.email) = ANY(?)`, pq.Array(emails))
	}
	if f.Status != "" {
		w.add(`x.status = ?`, f.Status)
	}
}

// ListByEvent returns the bookings of an event, oldest first.
func (s *BookingStore) ListByEvent(ctx context.Context, eventID uint64, status string) ([]model.Booking, error) {
	var w where
	BookingFilter{EventID: eventID, Status: status}.apply(&w)
	out := []model.Booking{}
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM (`+bookingUnion(`TRUE`)+`) x WHERE `+w.sql()+` ORDER BY created_at, id`, w.args...)
	return out, err
}

// AttendedBy returns the paid, confirmed booking memberID holds for
// eventID, either as a registration or as a guest booking linked to the
// member.  ErrNotFound when there is none.
func (s *BookingStore) AttendedBy(ctx context.Context, eventID, memberID uint64) (*model.Booking, error) {
	return getBooking(ctx, s.db, `SELECT * FROM (`+bookingUnion(`b.event_id=$1 AND b.member_id=$2`)+`) x
		WHERE x.payment_status='paid' AND x.status='confirmed'
		ORDER BY x.kind DESC LIMIT 1`, eventID, memberID)
}

// MemberBooking is a booking together with the event it is for.
type MemberBooking struct {
	model.Booking
	EventSlug     string    `db:"event_slug" json:"event_slug"`
	EventTitle    string    `db:"event_title" json:"event_title"`
	EventStartsAt time.Time `db:"event_starts_at" json:"event_starts_at"`
}

// ListByMember returns a member's registrations and linked guest bookings,
// most recent event first.
func (s *BookingStore) ListByMember(ctx context.Context, memberID uint64) ([]MemberBooking, error) {
	out := []MemberBooking{}
	err := s.db.SelectContext(ctx, &out, `SELECT x.*, e.slug AS event_slug, e.title AS event_title,
		e.starts_at AS event_starts_at
		FROM (`+bookingUnion(`b.member_id=$1`)+`) x JOIN events e ON e.id = x.event_id
		ORDER BY e.starts_at DESC`, memberID)
	return out, err
}

// CheckIn marks a confirmed, paid booking as arrived.  A second check-in
// returns the booking with already set and changes nothing.
func (s *BookingStore) CheckIn(ctx context.Context, ref model.BookingRef, now time.Time) (b *model.Booking, already bool, err error) {
	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		b, err = lockBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !b.IsPaid() {
			return ErrInvalidState
		}
		if b.CheckedInAt != nil {
			already = true
			return nil
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET checked_in_at=$1, updated_at=now() WHERE id=$2`, table(ref.Kind)), now, ref.ID); err != nil {
			return err
		}
		b.CheckedInAt = &now
		return nil
	})
	return b, already, err
}

// UndoCheckIn clears the arrival time of a booking.
func (s *BookingStore) UndoCheckIn(ctx context.Context, ref model.BookingRef) (*model.Booking, error) {
	if !ref.Kind.Valid() {
		return nil, ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET checked_in_at=NULL, updated_at=now() WHERE id=$1`, table(ref.Kind)), ref.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByRef(ctx, ref)
}

// Cancel lets a registrant drop a pending or free booking.  Paid bookings
// with an amount are refunded out of band and yield ErrConflict.
func (s *BookingStore) Cancel(ctx context.Context, ref model.BookingRef) (*model.Booking, error) {
	var out *model.Booking
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		b, err := lockBooking(ctx, tx, ref)
		if err != nil {
			return err
		}
		switch {
		case b.Status == model.StatusPending:
			if err := releaseTx(ctx, tx, b, model.StatusCancelled); err != nil {
				return err
			}
		case b.Status == model.StatusConfirmed && b.AmountCents == 0:
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status='cancelled', payment_status='unpaid',
				updated_at=now() WHERE id=$1`, table(ref.Kind)), ref.ID); err != nil {
				return err
			}
			var ids []uint64
			if err := tx.SelectContext(ctx, &ids, `DELETE FROM coupon_usages WHERE booking_kind=$1 AND booking_id=$2
				RETURNING coupon_id`, ref.Kind, ref.ID); err != nil {
				return err
			}
			for _, id := range ids {
				if _, err := tx.ExecContext(ctx,
					`UPDATE coupons SET used_count=used_count-1 WHERE id=$1 AND used_count > 0`, id); err != nil {
					return err
				}
			}
		case b.PaymentStatus == model.PaymentPaid:
			return ErrConflict
		default:
			return ErrInvalidState
		}
		out, err = lockBooking(ctx, tx, ref)
		return err
	})
	return out, err
}

// LinkAttendeesToMembers attaches guest bookings to the member owning the
// same email and returns how many rows were linked.
func (s *BookingStore) LinkAttendeesToMembers(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE attendees a SET member_id=m.id, updated_at=now()
		FROM members m WHERE a.member_id IS NULL AND lower(a.email)=m.email`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingWithSession lists unpaid bookings that have a checkout session,
// whatever their status; a payment may have succeeded after the hold was
// released.
func (s *BookingStore) PendingWithSession(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	var w where
	w.add(`x.payment_status = ?`, model.PaymentUnpaid)
	w.add(`x.checkout_session_id IS NOT NULL`)
	f.apply(&w)
	out := []model.Booking{}
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM (`+bookingUnion(`TRUE`)+`) x WHERE `+w.sql()+` ORDER BY id`, w.args...)
	return out, err
}

// OrphanTransactions lists payment transactions that are not known to be
// paid or are not linked to a booking.
func (s *BookingStore) OrphanTransactions(ctx context.Context, f BookingFilter) ([]model.PaymentTransaction, error) {
	var w where
	w.add(`(t.status <> 'paid' OR t.booking_id IS NULL)`)
	if f.EventID != 0 {
		w.add(`t.event_id = ?`, f.EventID)
	}
	if f.MemberID != 0 {
		w.add(`t.member_id = ?`, f.MemberID)
	}
	if len(f.Emails) > 0 {
		emails := make([]string, len(f.Emails))
		for i, e := range f.Emails {
			emails[i] = normEmail(e)
		}
		w.add(`t.email = ANY(?)`, pq.Array(emails))
	}
	out := []model.PaymentTransaction{}
	err := s.db.SelectContext(ctx, &out, `SELECT id, session_id, payment_intent_id, booking_kind, booking_id,
		event_id, member_id, email, amount_cents, currency, status, created_at, updated_at
		FROM payment_transactions t WHERE `+w.sql()+` ORDER BY id`, w.args...)
	return out, err
}
