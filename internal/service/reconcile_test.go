package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

func newReconciler(fx *fixture) *ReconcileService {
	return NewReconcileService(fx.events, fx.members, fx.bookings, fx.gateway, &nopLog)
}

func TestReconcileEventConfirmsLostPayment(t *testing.T) {
	fx := newFixture(upcoming(1, "media", 1500, nil))
	ref := pendingBooking(t, fx, "g@example.com", "cs_1")
	fx.gateway.On("GetSession", mock.Anything, "cs_1").Return(&payment.Session{
		ID: "cs_1", Paid: true, AmountCents: 1500, ClientReferenceID: ref.String(),
	}, nil).Once()

	svc := newReconciler(fx)
	rep, err := svc.ReconcileEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, 1, rep.Fixed)
	assert.Empty(t, rep.Errors)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, ActionConfirmed, rep.Items[0].Action)
	assert.True(t, fx.bookings.get(ref).IsPaid())

	again, err := svc.ReconcileEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, again.Fixed)
	assert.Zero(t, again.Created)
	assert.Equal(t, 1, fx.bookings.count())
	fx.gateway.AssertExpectations(t)
}

func TestReconcileEmailsCreatesMissingBookingOnce(t *testing.T) {
	fx := newFixture(upcoming(1, "media", 1500, nil), upcoming(2, "otra", 900, nil))
	paid := []payment.Session{
		{ID: "cs_9", Paid: true, AmountCents: 1500, Email: "lost@example.com",
			Metadata: map[string]string{payment.MetaEventID: "1"}},
		{ID: "cs_10", Paid: true, AmountCents: 900, Email: "lost@example.com",
			Metadata: map[string]string{payment.MetaEventID: "2"}},
	}
	fx.gateway.On("FindPaidSessionsByEmail", mock.Anything, "lost@example.com").Return(paid, nil)

	svc := newReconciler(fx)
	eventID := uint64(1)
	rep, err := svc.ReconcileEmails(context.Background(), []string{" Lost@Example.com "}, &eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, fx.bookings.count())

	b, err := fx.bookings.Find(context.Background(), 1, model.Registrant{Email: "lost@example.com"})
	require.NoError(t, err)
	assert.True(t, b.IsPaid())

	again, err := svc.ReconcileEmails(context.Background(), []string{"lost@example.com"}, &eventID)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, 1, again.AlreadyOK)
	assert.Equal(t, 1, fx.bookings.count())
}

func TestReconcileReleasesExpiredSession(t *testing.T) {
	fx := newFixture(upcoming(1, "media", 1500, nil))
	ref := pendingBooking(t, fx, "g@example.com", "cs_1")
	fx.gateway.On("GetSession", mock.Anything, "cs_1").Return(&payment.Session{ID: "cs_1", Expired: true}, nil).Once()
	fx.gateway.On("FindPaidSessionsByEmail", mock.Anything, "g@example.com").Return([]payment.Session{}, nil)

	rep, err := newReconciler(fx).ReconcileEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Released)
	assert.Equal(t, model.StatusExpired, fx.bookings.get(ref).Status)
}

func TestReconcileCollectsGatewayErrors(t *testing.T) {
	fx := newFixture(upcoming(1, "media", 1500, nil))
	pendingBooking(t, fx, "g@example.com", "cs_1")
	fx.gateway.On("GetSession", mock.Anything, "cs_1").Return(nil, errors.New("timeout"))
	fx.gateway.On("FindPaidSessionsByEmail", mock.Anything, "g@example.com").Return(nil, errors.New("timeout"))

	rep, err := newReconciler(fx).ReconcileEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, rep.Errors, 2)
}

func TestReconcileUnknownScope(t *testing.T) {
	fx := newFixture()
	svc := newReconciler(fx)
	_, err := svc.ReconcileEvent(context.Background(), 5)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.ReconcileMember(context.Background(), 5)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.ReconcileEmails(context.Background(), []string{"  "}, nil)
	assert.ErrorIs(t, err, ErrInvalidRegistrant)
}

func TestReconcileCountsDuplicatePayments(t *testing.T) {
	fx := newFixture(upcoming(1, "media", 1500, nil))
	ref := pendingBooking(t, fx, "g@example.com", "cs_1")
	paid := []payment.Session{
		{ID: "cs_1", Paid: true, AmountCents: 1500, Email: "g@example.com", ClientReferenceID: ref.String(),
			Metadata: map[string]string{payment.MetaEventID: "1"}},
		{ID: "cs_2", Paid: true, AmountCents: 1500, Email: "g@example.com", ClientReferenceID: ref.String(),
			Metadata: map[string]string{payment.MetaEventID: "1"}},
	}
	fx.gateway.On("GetSession", mock.Anything, "cs_1").Return(&paid[0], nil).Once()
	fx.gateway.On("FindPaidSessionsByEmail", mock.Anything, "g@example.com").Return(paid, nil)

	rep, err := newReconciler(fx).ReconcileEmails(context.Background(), []string{"g@example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Fixed)
	assert.Equal(t, 1, rep.Duplicates)
	require.Len(t, rep.Items, 2)
	assert.Equal(t, ActionConfirmed, rep.Items[0].Action)
	assert.Equal(t, ActionDuplicate, rep.Items[1].Action)
	assert.Equal(t, ref.String(), rep.Items[1].Booking)
	assert.Equal(t, 1, fx.bookings.count())
}
