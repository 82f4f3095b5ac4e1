package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

var nopLog = zerolog.Nop()

func ptr[T any](v T) *T { return &v }

type fakeEvents map[uint64]*model.Event

func (f fakeEvents) GetByID(_ context.Context, id uint64) (*model.Event, error) {
	if e, ok := f[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f fakeEvents) GetBySlug(_ context.Context, slug string) (*model.Event, error) {
	for _, e := range f {
		if e.Slug == slug {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeMembers struct {
	mu sync.Mutex
	m  map[uint64]*model.Member
}

func (f *fakeMembers) GetByID(_ context.Context, id uint64) (*model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.m[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeMembers) SetStripeCustomerID(_ context.Context, id uint64, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.m[id]; ok {
		m.StripeCustomerID = &customerID
		return nil
	}
	return repository.ErrNotFound
}

type nopLocker struct{ err error }

func (l nopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, l.err }

// fakeBookings keeps bookings in memory with the same capacity and coupon
// rules as the SQL store.  Coupons are shared with fakeCoupons.
type fakeBookings struct {
	mu       sync.Mutex
	events   fakeEvents
	coupons  map[string]*model.Coupon
	bookings []*model.Booking
	txns     map[string]*model.PaymentTransaction
	outbox   []string
	fulfils  int
	members  *fakeMembers
}

func newFakeBookings(events fakeEvents) *fakeBookings {
	return &fakeBookings{events: events, coupons: map[string]*model.Coupon{}, txns: map[string]*model.PaymentTransaction{}}
}

func (f *fakeBookings) GetByCode(_ context.Context, code string) (*model.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.coupons[strings.ToUpper(code)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeBookings) couponByID(id uint64) *model.Coupon {
	for _, c := range f.coupons {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeBookings) find(eventID uint64, reg model.Registrant) *model.Booking {
	for _, b := range f.bookings {
		if b.EventID != eventID || b.Kind != reg.Kind() {
			continue
		}
		if reg.MemberID != nil && b.MemberID != nil && *b.MemberID == *reg.MemberID {
			return b
		}
		if reg.MemberID == nil && strings.EqualFold(b.Email, reg.Email) {
			return b
		}
	}
	return nil
}

func (f *fakeBookings) memberEmail(id uint64) string {
	if f.members == nil {
		return ""
	}
	f.members.mu.Lock()
	defer f.members.mu.Unlock()
	if m, ok := f.members.m[id]; ok {
		return m.Email
	}
	return ""
}

// paidElsewhere reports a paid booking for the same person in the other table.
func (f *fakeBookings) paidElsewhere(eventID uint64, reg model.Registrant) bool {
	for _, b := range f.bookings {
		if b.EventID != eventID || b.Kind == reg.Kind() || b.PaymentStatus != model.PaymentPaid {
			continue
		}
		if reg.MemberID != nil {
			email := f.memberEmail(*reg.MemberID)
			if (b.MemberID != nil && *b.MemberID == *reg.MemberID) || (email != "" && strings.EqualFold(b.Email, email)) {
				return true
			}
			continue
		}
		if b.MemberID != nil && strings.EqualFold(f.memberEmail(*b.MemberID), reg.Email) {
			return true
		}
	}
	return false
}

func (f *fakeBookings) byRef(ref model.BookingRef) *model.Booking {
	for _, b := range f.bookings {
		if b.Ref() == ref {
			return b
		}
	}
	return nil
}

func (f *fakeBookings) taken(eventID uint64, now time.Time, exclude model.BookingRef) int {
	n := 0
	for _, b := range f.bookings {
		if b.EventID != eventID || b.Ref() == exclude {
			continue
		}
		if b.Status == model.StatusConfirmed || b.HoldActive(now) {
			n++
		}
	}
	return n
}

func (f *fakeBookings) Find(_ context.Context, eventID uint64, reg model.Registrant) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b := f.find(eventID, reg); b != nil {
		cp := *b
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeBookings) GetByRef(_ context.Context, ref model.BookingRef) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b := f.byRef(ref); b != nil {
		cp := *b
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeBookings) Claim(_ context.Context, req repository.ClaimRequest) (*repository.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[req.EventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !ev.RegistrationOpen(req.Now) {
		return nil, repository.ErrRegistrationClosed
	}
	existing := f.find(ev.ID, req.Registrant)
	var exclude model.BookingRef
	if existing != nil {
		if existing.PaymentStatus == model.PaymentPaid {
			return nil, repository.ErrAlreadyRegistered
		}
		exclude = existing.Ref()
		f.releaseCoupon(existing)
		for _, t := range f.txns {
			if t.BookingID != nil && *t.BookingID == existing.ID && t.BookingKind == existing.Kind && t.Status == model.TxPending {
				t.Status = model.TxExpired
			}
		}
	}
	if f.paidElsewhere(ev.ID, req.Registrant) {
		return nil, repository.ErrAlreadyRegistered
	}
	if ev.MaxParticipants != nil && f.taken(ev.ID, req.Now, exclude) >= *ev.MaxParticipants {
		return nil, repository.ErrEventFull
	}
	if req.CouponID != nil {
		c := f.couponByID(*req.CouponID)
		if c == nil || c.Exhausted() {
			return nil, repository.ErrCouponExhausted
		}
		c.UsedCount++
	}
	out := &repository.Claim{Event: *ev, Free: req.AmountCents <= 0}
	b := existing
	if b == nil {
		b = &model.Booking{
			Kind:        req.Registrant.Kind(),
			ID:          uint64(len(f.bookings) + 1),
			EventID:     ev.ID,
			MemberID:    req.Registrant.MemberID,
			Name:        req.Registrant.Name,
			Email:       req.Registrant.Email,
			CheckinCode: strings.ToUpper(req.Registrant.Key()),
			CreatedAt:   req.Now,
		}
		f.bookings = append(f.bookings, b)
		out.Created = true
	}
	b.CouponID = req.CouponID
	b.CheckoutSessionID = nil
	if out.Free {
		b.Status, b.PaymentStatus, b.AmountCents, b.HoldExpiresAt = model.StatusConfirmed, model.PaymentPaid, 0, nil
		f.outbox = append(f.outbox, model.TopicRegistrationConfirmed)
	} else {
		hold := req.Now.Add(req.Hold)
		b.Status, b.PaymentStatus, b.AmountCents, b.HoldExpiresAt = model.StatusPending, model.PaymentUnpaid, req.AmountCents, &hold
	}
	out.Booking = *b
	return out, nil
}

func (f *fakeBookings) releaseCoupon(b *model.Booking) {
	if b.CouponID == nil || b.PaymentStatus == model.PaymentPaid {
		return
	}
	if c := f.couponByID(*b.CouponID); c != nil && c.UsedCount > 0 {
		c.UsedCount--
	}
	b.CouponID = nil
}

func (f *fakeBookings) AttachCheckout(_ context.Context, ref model.BookingRef, a repository.CheckoutAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.byRef(ref)
	if b == nil {
		return repository.ErrNotFound
	}
	if b.Status != model.StatusPending {
		return repository.ErrInvalidState
	}
	sid := a.SessionID
	b.CheckoutSessionID = &sid
	id := ref.ID
	f.txns[sid] = &model.PaymentTransaction{SessionID: sid, BookingKind: ref.Kind, BookingID: &id, EventID: &a.EventID,
		MemberID: a.MemberID, Email: a.Email, AmountCents: a.AmountCents, Currency: a.Currency, Status: model.TxPending}
	return nil
}

func (f *fakeBookings) release(b *model.Booking, status string) {
	b.Status, b.HoldExpiresAt = status, nil
	f.releaseCoupon(b)
	for _, t := range f.txns {
		if t.BookingID != nil && *t.BookingID == b.ID && t.BookingKind == b.Kind && t.Status == model.TxPending {
			t.Status = model.TxExpired
		}
	}
	f.outbox = append(f.outbox, model.TopicRegistrationExpired)
}

func (f *fakeBookings) Release(_ context.Context, ref model.BookingRef, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.byRef(ref)
	if b == nil {
		return false, repository.ErrNotFound
	}
	if b.Status != model.StatusPending {
		return false, nil
	}
	f.release(b, status)
	return true, nil
}

func (f *fakeBookings) ExpireSession(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.txns[sessionID]; ok && t.Status == model.TxPending {
		t.Status = model.TxExpired
	}
	for _, b := range f.bookings {
		if b.SessionID() == sessionID && b.Status == model.StatusPending {
			f.release(b, model.StatusExpired)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBookings) Fulfill(_ context.Context, req repository.FulfillRequest) (*repository.FulfillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfils++
	txn, ok := f.txns[req.SessionID]
	if !ok {
		txn = &model.PaymentTransaction{SessionID: req.SessionID, Email: req.Email, Status: model.TxPending}
		f.txns[req.SessionID] = txn
	}
	var b *model.Booking
	if ref, ok := txn.Ref(); ok {
		b = f.byRef(ref)
	}
	if b == nil && req.Ref != nil {
		b = f.byRef(*req.Ref)
	}
	if b == nil {
		for _, x := range f.bookings {
			if x.SessionID() == req.SessionID {
				b = x
			}
		}
	}
	if b == nil && req.EventID != 0 {
		b = f.find(req.EventID, model.Registrant{MemberID: req.MemberID, Email: req.Email})
	}
	out := &repository.FulfillResult{}
	if b == nil {
		if !req.CreateMissing || req.EventID == 0 || req.Email == "" {
			return nil, repository.ErrNotFound
		}
		kind := model.KindAttendee
		if req.MemberID != nil {
			kind = model.KindRegistration
		}
		b = &model.Booking{Kind: kind, ID: uint64(len(f.bookings) + 1), EventID: req.EventID, MemberID: req.MemberID,
			Name: req.Email, Email: req.Email, Status: model.StatusPending, PaymentStatus: model.PaymentUnpaid}
		f.bookings = append(f.bookings, b)
		out.Created = true
	}
	if b.PaymentStatus == model.PaymentPaid {
		out.Booking, out.Outcome = *b, repository.OutcomeAlreadyPaid
		if b.SessionID() != req.SessionID {
			out.Outcome = repository.OutcomeDuplicatePayment
		}
		if txn.Status != model.TxPaid {
			txn.Status, out.Changed = model.TxPaid, true
		}
		return out, nil
	}
	status := model.StatusConfirmed
	if !b.HoldActive(req.Now) {
		ev := f.events[b.EventID]
		if ev.MaxParticipants != nil && f.taken(ev.ID, req.Now, b.Ref()) >= *ev.MaxParticipants {
			status = model.StatusNeedsRefund
		}
	}
	sid := req.SessionID
	b.Status, b.PaymentStatus, b.CheckoutSessionID, b.HoldExpiresAt = status, model.PaymentPaid, &sid, nil
	if req.AmountCents > 0 {
		b.AmountCents = req.AmountCents
	}
	id := b.ID
	txn.Status, txn.BookingKind, txn.BookingID = model.TxPaid, b.Kind, &id
	out.Booking, out.Changed, out.Outcome = *b, true, repository.OutcomeConfirmed
	if status == model.StatusNeedsRefund {
		out.Outcome = repository.OutcomeNeedsRefund
	} else {
		f.outbox = append(f.outbox, model.TopicRegistrationConfirmed)
	}
	return out, nil
}

func (f *fakeBookings) ExpireHolds(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.bookings {
		if b.Status == model.StatusPending && b.HoldExpiresAt != nil && !b.HoldExpiresAt.After(now) {
			f.release(b, model.StatusExpired)
			n++
		}
	}
	return n, nil
}

func (f *fakeBookings) Cancel(_ context.Context, ref model.BookingRef) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.byRef(ref)
	if b == nil {
		return nil, repository.ErrNotFound
	}
	switch {
	case b.Status == model.StatusPending:
		f.release(b, model.StatusCancelled)
	case b.Status == model.StatusConfirmed && b.AmountCents == 0:
		b.Status, b.PaymentStatus = model.StatusCancelled, model.PaymentUnpaid
	case b.PaymentStatus == model.PaymentPaid:
		return nil, repository.ErrConflict
	default:
		return nil, repository.ErrInvalidState
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) matches(b *model.Booking, flt repository.BookingFilter) bool {
	if flt.EventID != 0 && b.EventID != flt.EventID {
		return false
	}
	if flt.MemberID != 0 && (b.MemberID == nil || *b.MemberID != flt.MemberID) {
		return false
	}
	if len(flt.Emails) > 0 {
		hit := false
		for _, e := range flt.Emails {
			hit = hit || strings.EqualFold(e, b.Email)
		}
		if !hit {
			return false
		}
	}
	return flt.Status == "" || b.Status == flt.Status
}

func (f *fakeBookings) PendingWithSession(_ context.Context, flt repository.BookingFilter) ([]model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Booking{}
	for _, b := range f.bookings {
		if b.PaymentStatus == model.PaymentUnpaid && b.SessionID() != "" && f.matches(b, flt) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookings) OrphanTransactions(_ context.Context, flt repository.BookingFilter) ([]model.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.PaymentTransaction{}
	for _, t := range f.txns {
		if t.Status == model.TxPaid && t.BookingID != nil {
			continue
		}
		if flt.EventID != 0 && (t.EventID == nil || *t.EventID != flt.EventID) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeBookings) ListByEvent(_ context.Context, eventID uint64, status string) ([]model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Booking{}
	for _, b := range f.bookings {
		if b.EventID == eventID && (status == "" || b.Status == status) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookings) LinkAttendeesToMembers(context.Context) (int64, error) { return 0, nil }

func (f *fakeBookings) AttendedBy(_ context.Context, eventID, memberID uint64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.EventID == eventID && b.MemberID != nil && *b.MemberID == memberID &&
			b.IsPaid() && b.Status == model.StatusConfirmed {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeBookings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bookings)
}

func (f *fakeBookings) get(ref model.BookingRef) model.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byRef(ref)
}

// mockGateway is a testify mock of payment.Gateway.
type mockGateway struct{ mock.Mock }

func (m *mockGateway) FindOrCreateCustomer(ctx context.Context, email, name string) (string, error) {
	args := m.Called(ctx, email, name)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*payment.Session)
	return s, args.Error(1)
}

func (m *mockGateway) GetSession(ctx context.Context, id string) (*payment.Session, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*payment.Session)
	return s, args.Error(1)
}

func (m *mockGateway) FindSessionByPaymentIntent(ctx context.Context, pi string) (*payment.Session, error) {
	args := m.Called(ctx, pi)
	s, _ := args.Get(0).(*payment.Session)
	return s, args.Error(1)
}

func (m *mockGateway) FindPaidSessionsByEmail(ctx context.Context, email string) ([]payment.Session, error) {
	args := m.Called(ctx, email)
	s, _ := args.Get(0).([]payment.Session)
	return s, args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	args := m.Called(payload, signature)
	ev, _ := args.Get(0).(*payment.WebhookEvent)
	return ev, args.Error(1)
}

var _ payment.Gateway = (*mockGateway)(nil)
var _ Bookings = (*fakeBookings)(nil)

// fixture wires a registration service over the fakes.
type fixture struct {
	events   fakeEvents
	members  *fakeMembers
	bookings *fakeBookings
	gateway  *mockGateway
	svc      *RegistrationService
}

func newFixture(events ...*model.Event) *fixture {
	evs := fakeEvents{}
	for _, e := range events {
		evs[e.ID] = e
	}
	fx := &fixture{
		events:   evs,
		members:  &fakeMembers{m: map[uint64]*model.Member{}},
		bookings: newFakeBookings(evs),
		gateway:  &mockGateway{},
	}
	fx.bookings.members = fx.members
	fx.svc = NewRegistrationService(evs, fx.members, fx.bookings, NewCouponService(fx.bookings), fx.gateway,
		nopLocker{}, RegistrationConfig{Currency: "eur", MinPaymentCents: 50, Hold: 30 * time.Minute}, &nopLog)
	return fx
}

func (fx *fixture) addMember(id uint64, email string) {
	fx.members.m[id] = &model.Member{ID: id, Email: email, FirstName: "Ana", LastName: "Ruiz",
		MembershipStatus: model.MembershipActive}
}

func upcoming(id uint64, slug string, price int64, capacity *int) *model.Event {
	return &model.Event{ID: id, Slug: slug, Title: "Carrera " + slug, StartsAt: time.Now().Add(72 * time.Hour),
		PriceCents: price, Currency: "eur", MaxParticipants: capacity, Status: model.EventPublished}
}
