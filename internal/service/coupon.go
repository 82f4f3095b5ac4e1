package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// CouponService prices events with discount codes.
type CouponService struct {
	coupons CouponReader
	now     func() time.Time
}

func NewCouponService(coupons CouponReader) *CouponService {
	if coupons == nil {
		panic("NewCouponService: nil coupon reader")
	}
	return &CouponService{coupons: coupons, now: time.Now}
}

// Quote returns the price of ev after applying code.  An empty code quotes
// the plain price.  Unknown, inactive, out-of-window and wrong-event codes
// yield ErrCouponInvalid; exhausted ones ErrCouponExhausted.  The coupon is
// only checked here; the usage is reserved when the seat is claimed.
func (s *CouponService) Quote(ctx context.Context, code string, ev *model.Event) (model.Quote, error) {
	q := model.Quote{OriginalCents: ev.PriceCents, FinalCents: ev.PriceCents, Currency: ev.Currency}
	code = strings.TrimSpace(code)
	if code == "" {
		return q, nil
	}
	c, err := s.coupons.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return q, fmt.Errorf("%w: unknown code", model.ErrCouponInvalid)
	}
	if err != nil {
		return q, err
	}
	if err := c.Usable(s.now().UTC(), ev.ID); err != nil {
		return q, err
	}
	q.DiscountCents = c.Discount(ev.PriceCents)
	q.FinalCents = ev.PriceCents - q.DiscountCents
	q.CouponID, q.CouponCode = &c.ID, c.Code
	return q, nil
}
