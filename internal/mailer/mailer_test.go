package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/runclub-portal/internal/model"
)

func TestComposeConfirmed(t *testing.T) {
	subject, body := Compose(model.RegistrationMessage{
		EventTitle:  "10K del Retiro",
		StartsAt:    time.Date(2026, 11, 8, 9, 30, 0, 0, time.UTC),
		Location:    "Puerta de Alcalá",
		Name:        "Ana",
		AmountCents: 1250,
		Currency:    "eur",
		Status:      model.StatusConfirmed,
		CheckinCode: "ABC123",
	})
	assert.Equal(t, "Inscripción confirmada: 10K del Retiro", subject)
	assert.Contains(t, body, "Hola Ana")
	assert.Contains(t, body, "08/11/2026 09:30")
	assert.Contains(t, body, "12.50 EUR")
	assert.Contains(t, body, "ABC123")
}

func TestComposeExpiredFallsBackToEmail(t *testing.T) {
	subject, body := Compose(model.RegistrationMessage{EventTitle: "Trail", Email: "x@y.z", Status: model.StatusExpired})
	assert.Equal(t, "Reserva liberada: Trail", subject)
	assert.Contains(t, body, "Hola x@y.z")
}

func TestNewWithoutKeyLogsOnly(t *testing.T) {
	log := zerolog.Nop()
	m := New("", "from@club.test", "Club", &log)
	assert.IsType(t, LogMailer{}, m)
	assert.NoError(t, m.SendRegistration(context.Background(), model.RegistrationMessage{}))
}

func TestHTMLBodyEscapesMarkup(t *testing.T) {
	got := HTMLBody(`O'Brien <b>"Trail" & co</b>`)
	assert.Equal(t, "<pre>O&#39;Brien &lt;b&gt;&#34;Trail&#34; &amp; co&lt;/b&gt;</pre>", got)
}
