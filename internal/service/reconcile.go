package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// Report summarises a reconciliation run.
type Report struct {
	Scope     string `json:"scope"`
	Checked   int    `json:"checked"`
	Fixed     int    `json:"fixed"`
	Created   int    `json:"created"`
	Released  int    `json:"released"`
	AlreadyOK int    `json:"already_ok"`

	// Duplicates counts bookings paid by a second session; each needs a refund.
	Duplicates int          `json:"duplicate_payments"`
	Errors     []string     `json:"errors"`
	Items      []ReportItem `json:"items"`
}

// ReportItem describes what happened to one checkout session.
type ReportItem struct {
	SessionID string `json:"session_id"`
	Booking   string `json:"booking,omitempty"`
	Action    string `json:"action"`
}

// Item actions.
const (
	ActionConfirmed   = "confirmed"
	ActionCreated     = "created"
	ActionNeedsRefund = "needs_refund"
	ActionDuplicate   = "duplicate_payment"
	ActionReleased    = "released"
	ActionOK          = "ok"
	ActionOpen        = "open"
)

func (r *Report) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// ReconcileService repairs bookings whose payment state drifted from the
// gateway, e.g. after a lost webhook.  Every run is safe to repeat.
type ReconcileService struct {
	events   EventReader
	members  MemberReader
	bookings Bookings
	gateway  payment.Gateway
	log      *zerolog.Logger
	now      func() time.Time
}

func NewReconcileService(events EventReader, members MemberReader, bookings Bookings, gateway payment.Gateway,
	log *zerolog.Logger) *ReconcileService {
	return &ReconcileService{events: events, members: members, bookings: bookings, gateway: gateway, log: log, now: time.Now}
}

// run tracks the sessions already handled in one reconciliation.
type run struct {
	rep     *Report
	seen    map[string]bool
	eventID uint64
}

func newRun(scope string, eventID uint64) *run {
	return &run{rep: &Report{Scope: scope, Errors: []string{}, Items: []ReportItem{}}, seen: map[string]bool{}, eventID: eventID}
}

// ReconcileEvent checks every unpaid booking with a session, every open
// transaction and every unpaid registrant email of the event.
func (s *ReconcileService) ReconcileEvent(ctx context.Context, eventID uint64) (*Report, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	r := newRun(fmt.Sprintf("event:%d", eventID), eventID)
	f := repository.BookingFilter{EventID: eventID}
	if err := s.scanLocal(ctx, r, f); err != nil {
		return nil, err
	}
	unpaid, err := s.bookings.ListByEvent(ctx, eventID, "")
	if err != nil {
		return nil, err
	}
	var emails []string
	for _, b := range unpaid {
		if b.PaymentStatus != model.PaymentPaid && b.Email != "" {
			emails = append(emails, b.Email)
		}
	}
	s.scanEmails(ctx, r, emails)
	return s.finish(r), nil
}

// ReconcileMember checks the member's sessions and the gateway's payments
// made with the member's email.
func (s *ReconcileService) ReconcileMember(ctx context.Context, memberID uint64) (*Report, error) {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	r := newRun(fmt.Sprintf("member:%d", memberID), 0)
	if err := s.scanLocal(ctx, r, repository.BookingFilter{MemberID: memberID}); err != nil {
		return nil, err
	}
	s.scanEmails(ctx, r, []string{m.Email})
	return s.finish(r), nil
}

// ReconcileEmails checks the given payer emails, optionally limited to one
// event.
func (s *ReconcileService) ReconcileEmails(ctx context.Context, emails []string, eventID *uint64) (*Report, error) {
	clean := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			clean = append(clean, e)
		}
	}
	if len(clean) == 0 {
		return nil, ErrInvalidRegistrant
	}
	var ev uint64
	if eventID != nil {
		if _, err := s.events.GetByID(ctx, *eventID); err != nil {
			return nil, err
		}
		ev = *eventID
	}
	r := newRun("emails", ev)
	if err := s.scanLocal(ctx, r, repository.BookingFilter{Emails: clean, EventID: ev}); err != nil {
		return nil, err
	}
	s.scanEmails(ctx, r, clean)
	return s.finish(r), nil
}

// LinkAttendees attaches guest bookings to members with the same email.
func (s *ReconcileService) LinkAttendees(ctx context.Context) (*Report, error) {
	n, err := s.bookings.LinkAttendeesToMembers(ctx)
	if err != nil {
		return nil, err
	}
	r := newRun("attendee-links", 0)
	r.rep.Checked, r.rep.Fixed = int(n), int(n)
	return s.finish(r), nil
}

// scanLocal follows the sessions known to the database: those on unpaid
// bookings and those on transactions not yet linked or paid.
func (s *ReconcileService) scanLocal(ctx context.Context, r *run, f repository.BookingFilter) error {
	pending, err := s.bookings.PendingWithSession(ctx, f)
	if err != nil {
		return err
	}
	for _, b := range pending {
		s.checkSession(ctx, r, b.SessionID())
	}
	orphans, err := s.bookings.OrphanTransactions(ctx, f)
	if err != nil {
		return err
	}
	for _, t := range orphans {
		s.checkSession(ctx, r, t.SessionID)
	}
	return nil
}

// scanEmails asks the gateway for payments made with each email.
func (s *ReconcileService) scanEmails(ctx context.Context, r *run, emails []string) {
	done := map[string]bool{}
	for _, e := range emails {
		e = strings.ToLower(e)
		if done[e] {
			continue
		}
		done[e] = true
		sessions, err := s.gateway.FindPaidSessionsByEmail(ctx, e)
		if err != nil {
			r.rep.fail("%s: %v", e, err)
			continue
		}
		for i := range sessions {
			if r.eventID != 0 && sessions[i].EventID() != r.eventID {
				continue
			}
			s.apply(ctx, r, &sessions[i])
		}
	}
}

func (s *ReconcileService) checkSession(ctx context.Context, r *run, id string) {
	if id == "" || r.seen[id] {
		return
	}
	sess, err := s.gateway.GetSession(ctx, id)
	if err != nil {
		r.seen[id] = true
		r.rep.Checked++
		r.rep.fail("%s: %v", id, err)
		return
	}
	s.apply(ctx, r, sess)
}

// apply brings the local state in line with one gateway session.
func (s *ReconcileService) apply(ctx context.Context, r *run, sess *payment.Session) {
	if sess.ID == "" || r.seen[sess.ID] {
		return
	}
	r.seen[sess.ID] = true
	r.rep.Checked++
	item := ReportItem{SessionID: sess.ID}
	if ref := sess.Ref(); ref != nil {
		item.Booking = ref.String()
	}

	switch {
	case sess.Paid:
		res, err := s.bookings.Fulfill(ctx, fulfilRequest(*sess, true, s.now().UTC()))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.rep.fail("%s: paid session matches no event or registrant", sess.ID)
			} else {
				r.rep.fail("%s: %v", sess.ID, err)
			}
			return
		}
		item.Booking = res.Booking.Ref().String()
		switch {
		case res.Created:
			r.rep.Created++
			item.Action = ActionCreated
		case res.Outcome == repository.OutcomeDuplicatePayment:
			r.rep.Duplicates++
			item.Action = ActionDuplicate
			s.log.Warn().Str("booking", item.Booking).Str("session_id", sess.ID).
				Msg("booking paid by two sessions, refund required")
		case res.Outcome == repository.OutcomeAlreadyPaid:
			r.rep.AlreadyOK++
			item.Action = ActionOK
		case res.Outcome == repository.OutcomeNeedsRefund:
			r.rep.Fixed++
			item.Action = ActionNeedsRefund
		default:
			r.rep.Fixed++
			item.Action = ActionConfirmed
		}
	case sess.Expired:
		released, err := s.bookings.ExpireSession(ctx, sess.ID)
		if err != nil {
			r.rep.fail("%s: %v", sess.ID, err)
			return
		}
		if released {
			r.rep.Released++
			item.Action = ActionReleased
		} else {
			r.rep.AlreadyOK++
			item.Action = ActionOK
		}
	default:
		r.rep.AlreadyOK++
		item.Action = ActionOpen
	}
	r.rep.Items = append(r.rep.Items, item)
}

func (s *ReconcileService) finish(r *run) *Report {
	s.log.Info().Str("scope", r.rep.Scope).Int("checked", r.rep.Checked).Int("fixed", r.rep.Fixed).
		Int("created", r.rep.Created).Int("released", r.rep.Released).Int("duplicates", r.rep.Duplicates).
		Int("errors", len(r.rep.Errors)).
		Msg("reconciliation finished")
	return r.rep
}
