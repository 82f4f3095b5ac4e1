// Package mailer sends registration emails.  MailerSend is used in
// production; without an API key messages are only logged.
package mailer

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// Mailer delivers the email announcing a registration change.
type Mailer interface {
	SendRegistration(ctx context.Context, msg model.RegistrationMessage) error
}

// MailerSend implements Mailer with the MailerSend API.
type MailerSend struct {
	client    *mailersend.Mailersend
	fromEmail string
	fromName  string
	log       *zerolog.Logger
}

// New returns a MailerSend mailer, or a LogMailer when apiKey is empty.
func New(apiKey, fromEmail, fromName string, log *zerolog.Logger) Mailer {
	if apiKey == "" {
		return LogMailer{log: log}
	}
	return &MailerSend{
		client:    mailersend.NewMailersend(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
		log:       log,
	}
}

// SendRegistration sends the confirmation (or expiry notice) for msg.
func (m *MailerSend) SendRegistration(ctx context.Context, msg model.RegistrationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	subject, text := Compose(msg)
	message := m.client.Email.NewMessage()
	message.SetFrom(mailersend.From{Name: m.fromName, Email: m.fromEmail})
	message.SetRecipients([]mailersend.Recipient{{Name: msg.Name, Email: msg.Email}})
	message.SetSubject(subject)
	message.SetText(text)
	message.SetHTML(HTMLBody(text))
	message.SetTags([]string{"registration", msg.Status})

	res, err := m.client.Email.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	m.log.Info().Str("booking", msg.Booking).Str("message_id", res.Header.Get("X-Message-Id")).Msg("email sent")
	return nil
}

// LogMailer writes the email to the log instead of sending it.
type LogMailer struct{ log *zerolog.Logger }

func (l LogMailer) SendRegistration(_ context.Context, msg model.RegistrationMessage) error {
	subject, _ := Compose(msg)
	l.log.Info().Str("to", msg.Email).Str("subject", subject).Str("booking", msg.Booking).Msg("email not sent: mailer disabled")
	return nil
}

// Compose builds the subject and plain-text body for msg.
func Compose(msg model.RegistrationMessage) (subject, body string) {
	var b strings.Builder
	name := msg.Name
	if name == "" {
		name = msg.Email
	}
	fmt.Fprintf(&b, "Hola %s,\n\n", name)
	when := msg.StartsAt.Format("02/01/2006 15:04")
	switch msg.Status {
	case model.StatusConfirmed:
		subject = "Inscripción confirmada: " + msg.EventTitle
		fmt.Fprintf(&b, "Tu inscripción en %q está confirmada.\n\n", msg.EventTitle)
		fmt.Fprintf(&b, "Fecha: %s\n", when)
		if msg.Location != "" {
			fmt.Fprintf(&b, "Lugar: %s\n", msg.Location)
		}
		if msg.AmountCents > 0 {
			fmt.Fprintf(&b, "Importe pagado: %s\n", FormatAmount(msg.AmountCents, msg.Currency))
		}
		fmt.Fprintf(&b, "Código de acceso: %s\n", msg.CheckinCode)
	default:
		subject = "Reserva liberada: " + msg.EventTitle
		fmt.Fprintf(&b, "Tu reserva en %q (%s) ha sido liberada porque no se completó el pago.\n", msg.EventTitle, when)
		b.WriteString("Puedes volver a inscribirte mientras queden plazas.\n")
	}
	b.WriteString("\n¡Nos vemos corriendo!\n")
	return subject, b.String()
}

// FormatAmount renders cents as "12.50 EUR".
func FormatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}

// HTMLBody wraps the plain-text body in an escaped <pre> block.
func HTMLBody(text string) string {
	return "<pre>" + html.EscapeString(text) + "</pre>"
}
