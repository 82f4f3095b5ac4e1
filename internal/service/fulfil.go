package service

import (
	"time"

	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// fulfilRequest maps a paid gateway session onto the store's request.
func fulfilRequest(s payment.Session, createMissing bool, now time.Time) repository.FulfillRequest {
	return repository.FulfillRequest{
		SessionID:       s.ID,
		PaymentIntentID: s.PaymentIntentID,
		Ref:             s.Ref(),
		EventID:         s.EventID(),
		MemberID:        s.MemberID(),
		Email:           s.PayerEmail(),
		AmountCents:     s.AmountCents,
		Currency:        s.Currency,
		CouponID:        s.CouponID(),
		CreateMissing:   createMissing,
		Now:             now,
	}
}
