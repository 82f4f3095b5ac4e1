package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/model"
)

func signPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newTestStripe() *Stripe {
	log := zerolog.Nop()
	return NewStripe(StripeConfig{SecretKey: "sk_test_x", WebhookSecret: "whsec_test"}, &log)
}

const completedEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_1",
    "object": "checkout.session",
    "client_reference_id": "registration:12",
    "customer": "cus_9",
    "customer_details": {"email": "Ana@Example.com"},
    "payment_intent": "pi_3",
    "payment_status": "paid",
    "amount_total": 1500,
    "currency": "eur",
    "metadata": {"event_id": "4", "booking": "registration:12", "member_id": "8"}
  }}
}`

func TestParseWebhookCompleted(t *testing.T) {
	s := newTestStripe()
	payload := []byte(completedEvent)

	ev, err := s.ParseWebhook(payload, signPayload("whsec_test", payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventSessionCompleted, ev.Type)
	require.NotNil(t, ev.Session)

	sess := ev.Session
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "cus_9", sess.CustomerID)
	assert.Equal(t, "pi_3", sess.PaymentIntentID)
	assert.True(t, sess.Paid)
	assert.False(t, sess.Expired)
	assert.Equal(t, int64(1500), sess.AmountCents)
	assert.Equal(t, "ana@example.com", sess.PayerEmail())
	assert.Equal(t, uint64(4), sess.EventID())
	require.NotNil(t, sess.MemberID())
	assert.Equal(t, uint64(8), *sess.MemberID())
	assert.Equal(t, &model.BookingRef{Kind: model.KindRegistration, ID: 12}, sess.Ref())
}

func TestParseWebhookBadSignature(t *testing.T) {
	s := newTestStripe()
	payload := []byte(completedEvent)
	_, err := s.ParseWebhook(payload, signPayload("whsec_other", payload))
	assert.ErrorIs(t, err, ErrSignature)
}

func TestDecodeSessionVariants(t *testing.T) {
	t.Run("unpaid async completion", func(t *testing.T) {
		s, err := decodeSession([]byte(`{"id":"cs_2","payment_status":"unpaid","status":"complete"}`), EventSessionCompleted)
		require.NoError(t, err)
		assert.False(t, s.Paid)
	})
	t.Run("free session", func(t *testing.T) {
		s, err := decodeSession([]byte(`{"id":"cs_3","payment_status":"no_payment_required"}`), EventSessionCompleted)
		require.NoError(t, err)
		assert.True(t, s.Paid)
	})
	t.Run("expanded objects", func(t *testing.T) {
		s, err := decodeSession([]byte(`{"id":"cs_4","customer":{"id":"cus_1"},"payment_intent":{"id":"pi_1"}}`), EventSessionExpired)
		require.NoError(t, err)
		assert.Equal(t, "cus_1", s.CustomerID)
		assert.Equal(t, "pi_1", s.PaymentIntentID)
		assert.True(t, s.Expired)
		assert.False(t, s.Paid)
	})
	t.Run("null payment intent", func(t *testing.T) {
		s, err := decodeSession([]byte(`{"id":"cs_5","payment_intent":null}`), EventSessionExpired)
		require.NoError(t, err)
		assert.Empty(t, s.PaymentIntentID)
	})
}

func TestSessionRefFallsBackToMetadata(t *testing.T) {
	s := Session{ClientReferenceID: "junk", Metadata: map[string]string{MetaBooking: "attendee:5"}}
	assert.Equal(t, &model.BookingRef{Kind: model.KindAttendee, ID: 5}, s.Ref())
	assert.Nil(t, Session{}.Ref())
	assert.Nil(t, Session{}.CouponID())
	assert.Zero(t, Session{Metadata: map[string]string{MetaEventID: "x"}}.EventID())
}
