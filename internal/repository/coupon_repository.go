package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/runclub-portal/internal/database"
	"github.com/iliyamo/runclub-portal/internal/model"
)

const couponCols = `id, code, description, discount_type, discount_value, usage_limit, used_count,
	valid_from, valid_until, event_id, active, created_at, updated_at`

// CouponRepo manages discount codes.  used_count is only ever changed by
// the booking store, inside the transaction that reserves or releases a
// usage.
type CouponRepo struct{ db *sqlx.DB }

func NewCouponRepo(db *sqlx.DB) *CouponRepo { return &CouponRepo{db: db} }

// NormCode upper-cases and trims a coupon code.
func NormCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Create inserts c.  A taken code yields ErrSlugExists.
func (r *CouponRepo) Create(ctx context.Context, c *model.Coupon) error {
	c.Code = NormCode(c.Code)
	const q = `INSERT INTO coupons (code, description, discount_type, discount_value, usage_limit,
		valid_from, valid_until, event_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, used_count, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, q, c.Code, c.Description, c.DiscountType, c.DiscountValue, c.UsageLimit,
		c.ValidFrom, c.ValidUntil, c.EventID, c.Active).Scan(&c.ID, &c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return ErrSlugExists
	}
	return err
}

// Update writes the editable columns of c.  Lowering usage_limit below the
// current used_count violates the table check and yields ErrConflict.
func (r *CouponRepo) Update(ctx context.Context, c *model.Coupon) error {
	c.Code = NormCode(c.Code)
	const q = `UPDATE coupons SET code=$1, description=$2, discount_type=$3, discount_value=$4, usage_limit=$5,
		valid_from=$6, valid_until=$7, event_id=$8, active=$9, updated_at=now()
		WHERE id=$10 RETURNING used_count, updated_at`
	err := r.db.QueryRowxContext(ctx, q, c.Code, c.Description, c.DiscountType, c.DiscountValue, c.UsageLimit,
		c.ValidFrom, c.ValidUntil, c.EventID, c.Active, c.ID).Scan(&c.UsedCount, &c.UpdatedAt)
	switch {
	case database.IsUniqueViolation(err):
		return ErrSlugExists
	case database.IsCheckViolation(err):
		return ErrConflict
	}
	return notFound(err)
}

// GetByCode fetches a coupon by its normalised code.
func (r *CouponRepo) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var c model.Coupon
	if err := r.db.GetContext(ctx, &c, `SELECT `+couponCols+` FROM coupons WHERE code=$1`, NormCode(code)); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetByID fetches a coupon by id.
func (r *CouponRepo) GetByID(ctx context.Context, id uint64) (*model.Coupon, error) {
	var c model.Coupon
	if err := r.db.GetContext(ctx, &c, `SELECT `+couponCols+` FROM coupons WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// List returns all coupons, newest first.
func (r *CouponRepo) List(ctx context.Context) ([]model.Coupon, error) {
	out := []model.Coupon{}
	err := r.db.SelectContext(ctx, &out, `SELECT `+couponCols+` FROM coupons ORDER BY id DESC`)
	return out, err
}

// Delete removes a coupon.  Bookings keep their amount; their coupon_id is
// cleared by the foreign key.
func (r *CouponRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM coupons WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Usages lists the reservations and redemptions of a coupon.
func (r *CouponRepo) Usages(ctx context.Context, couponID uint64) ([]model.CouponUsage, error) {
	out := []model.CouponUsage{}
	err := r.db.SelectContext(ctx, &out, `SELECT id, coupon_id, booking_kind, booking_id, email, status, created_at
		FROM coupon_usages WHERE coupon_id=$1 ORDER BY id`, couponID)
	return out, err
}
