package model

import (
	"errors"
	"fmt"
	"time"
)

// Discount types.
const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

var (
	// ErrCouponInvalid covers unknown, inactive, out-of-window and
	// wrong-event coupons.  The wrapped message names the reason.
	ErrCouponInvalid = errors.New("coupon invalid")
	// ErrCouponExhausted means the usage limit has been reached.
	ErrCouponExhausted = errors.New("coupon exhausted")
)

// Coupon stores a discount code as kept in the `coupons` table.  UsedCount
// counts reserved and redeemed usages; it never exceeds UsageLimit.
//
// Fields:
//
//	Code          – unique, upper-cased code typed by users.
//	DiscountType  – percent (1..100) or fixed (cents).
//	DiscountValue – percentage or amount depending on type.
//	UsageLimit    – maximum usages (nullable means unlimited).
//	UsedCount     – usages reserved so far.
//	ValidFrom     – start of validity (nullable).
//	ValidUntil    – end of validity (nullable).
//	EventID       – restricts the coupon to one event (nullable).
//	Active        – admins can switch a code off without deleting it.
type Coupon struct {
	ID            uint64     `db:"id" json:"id"`
	Code          string     `db:"code" json:"code"`
	Description   string     `db:"description" json:"description"`
	DiscountType  string     `db:"discount_type" json:"discount_type"`
	DiscountValue int64      `db:"discount_value" json:"discount_value"`
	UsageLimit    *int       `db:"usage_limit" json:"usage_limit"`
	UsedCount     int        `db:"used_count" json:"used_count"`
	ValidFrom     *time.Time `db:"valid_from" json:"valid_from"`
	ValidUntil    *time.Time `db:"valid_until" json:"valid_until"`
	EventID       *uint64    `db:"event_id" json:"event_id"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Discount returns the amount taken off priceCents, never more than the
// price itself.
func (c Coupon) Discount(priceCents int64) int64 {
	if priceCents <= 0 || c.DiscountValue <= 0 {
		return 0
	}
	var d int64
	switch c.DiscountType {
	case DiscountPercent:
		pct := c.DiscountValue
		if pct > 100 {
			pct = 100
		}
		d = priceCents * pct / 100
	case DiscountFixed:
		d = c.DiscountValue
	}
	if d > priceCents {
		d = priceCents
	}
	return d
}

// Exhausted reports whether no usage is left.
func (c Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// Usable checks the coupon can be applied to eventID at now.
func (c Coupon) Usable(now time.Time, eventID uint64) error {
	switch {
	case !c.Active:
		return fmt.Errorf("%w: inactive", ErrCouponInvalid)
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return fmt.Errorf("%w: not yet valid", ErrCouponInvalid)
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return fmt.Errorf("%w: expired", ErrCouponInvalid)
	case c.EventID != nil && *c.EventID != eventID:
		return fmt.Errorf("%w: not valid for this event", ErrCouponInvalid)
	case c.Exhausted():
		return ErrCouponExhausted
	}
	return nil
}

// CouponUsage records one booking holding a coupon.  Reserved usages are
// released when the hold expires; redeemed ones are permanent.
type CouponUsage struct {
	ID          uint64      `db:"id" json:"id"`
	CouponID    uint64      `db:"coupon_id" json:"coupon_id"`
	BookingKind BookingKind `db:"booking_kind" json:"booking_kind"`
	BookingID   uint64      `db:"booking_id" json:"booking_id"`
	Email       string      `db:"email" json:"email"`
	Status      string      `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Quote is the result of pricing an event with an optional coupon.
type Quote struct {
	OriginalCents int64   `json:"original_cents"`
	DiscountCents int64   `json:"discount_cents"`
	FinalCents    int64   `json:"final_cents"`
	Currency      string  `json:"currency"`
	CouponID      *uint64 `json:"coupon_id,omitempty"`
	CouponCode    string  `json:"coupon_code,omitempty"`
}

// Free reports whether nothing needs to be charged.
func (q Quote) Free() bool { return q.FinalCents <= 0 }
