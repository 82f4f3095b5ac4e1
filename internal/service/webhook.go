package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// WebhookLog deduplicates gateway deliveries.  *repository.WebhookRepo
// implements it.
type WebhookLog interface {
	Begin(ctx context.Context, id, typ string) (bool, error)
	Finish(ctx context.Context, id string) error
}

// Webhook outcomes reported back to the caller and logged.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookAwaiting  = "awaiting_payment"
)

// WebhookService applies verified gateway events to bookings.
type WebhookService struct {
	gateway  payment.Gateway
	bookings Bookings
	events   WebhookLog
	log      *zerolog.Logger
	now      func() time.Time
}

func NewWebhookService(gateway payment.Gateway, bookings Bookings, events WebhookLog, log *zerolog.Logger) *WebhookService {
	return &WebhookService{gateway: gateway, bookings: bookings, events: events, log: log, now: time.Now}
}

// Handle verifies and applies one delivery.  An event id seen and finished
// before is acknowledged without work.  Failures leave the event
// unfinished so the gateway's retry processes it again; fulfilment itself
// is idempotent.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) (string, error) {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return "", err
	}
	fresh, err := s.events.Begin(ctx, ev.ID, ev.Type)
	if err != nil {
		return "", fmt.Errorf("record webhook: %w", err)
	}
	if !fresh {
		return WebhookDuplicate, nil
	}

	outcome, err := s.apply(ctx, ev)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).Msg("webhook failed")
		return "", err
	}
	if err := s.events.Finish(ctx, ev.ID); err != nil {
		return "", fmt.Errorf("finish webhook: %w", err)
	}
	s.log.Info().Str("event_id", ev.ID).Str("type", ev.Type).Str("outcome", outcome).Msg("webhook handled")
	return outcome, nil
}

func (s *WebhookService) apply(ctx context.Context, ev *payment.WebhookEvent) (string, error) {
	sess := ev.Session
	switch ev.Type {
	case payment.EventSessionCompleted, payment.EventAsyncPaymentSucceded:
		if sess == nil {
			return WebhookIgnored, nil
		}
		if !sess.Paid {
			return WebhookAwaiting, nil
		}
		res, err := s.bookings.Fulfill(ctx, fulfilRequest(*sess, true, s.now().UTC()))
		if errors.Is(err, repository.ErrNotFound) {
			// nothing to attach the payment to; reconciliation reports it
			s.log.Warn().Str("session_id", sess.ID).Msg("paid session without booking")
			return WebhookIgnored, nil
		}
		if err != nil {
			return "", err
		}
		if res.Outcome == repository.OutcomeNeedsRefund {
			s.log.Warn().Str("booking", res.Booking.Ref().String()).Str("session_id", sess.ID).
				Msg("late payment for a full event, refund required")
		}
		if res.Outcome == repository.OutcomeDuplicatePayment {
			s.log.Warn().Str("booking", res.Booking.Ref().String()).Str("session_id", sess.ID).
				Str("paid_session", res.Booking.SessionID()).Msg("booking paid by two sessions, refund required")
		}
		if res.CouponLost {
			s.log.Warn().Str("booking", res.Booking.Ref().String()).Msg("coupon limit reached at fulfilment")
		}
		return WebhookProcessed, nil
	case payment.EventSessionExpired, payment.EventAsyncPaymentFailed:
		if sess == nil {
			return WebhookIgnored, nil
		}
		if _, err := s.bookings.ExpireSession(ctx, sess.ID); err != nil {
			return "", err
		}
		return WebhookProcessed, nil
	}
	return WebhookIgnored, nil
}
