package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/mailer"
	"github.com/iliyamo/runclub-portal/internal/model"
)

// Notifier turns registration messages from the broker into emails.
type Notifier struct {
	mail mailer.Mailer
	log  *zerolog.Logger
}

func NewNotifier(m mailer.Mailer, log *zerolog.Logger) *Notifier {
	return &Notifier{mail: m, log: log}
}

// Handle is a queue.Handler.  Confirmations and hold expiries are mailed;
// bookings the registrant cancelled are only logged.
func (n *Notifier) Handle(ctx context.Context, topic string, msg model.RegistrationMessage) error {
	n.log.Info().Str("topic", topic).Str("booking", msg.Booking).Uint64("event_id", msg.EventID).
		Str("status", msg.Status).Msg("registration event")
	switch {
	case topic == model.TopicRegistrationConfirmed && msg.Status == model.StatusConfirmed:
	case topic == model.TopicRegistrationExpired && msg.Status == model.StatusExpired:
	default:
		return nil
	}
	if msg.Email == "" {
		n.log.Warn().Str("booking", msg.Booking).Msg("no recipient")
		return nil
	}
	return n.mail.SendRegistration(ctx, msg)
}
