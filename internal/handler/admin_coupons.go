package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
)

type couponReq struct {
	Code          string     `json:"code" validate:"required,alphanum,max=64"`
	Description   string     `json:"description" validate:"max=500"`
	DiscountType  string     `json:"discount_type" validate:"required,oneof=percent fixed"`
	DiscountValue int64      `json:"discount_value" validate:"required,min=1"`
	UsageLimit    *int       `json:"usage_limit" validate:"omitempty,min=1"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
	EventID       *uint64    `json:"event_id" validate:"omitempty,min=1"`
	Active        *bool      `json:"active"`
}

// check covers the rules struct tags cannot express.
func (r couponReq) check() error {
	if r.DiscountType == model.DiscountPercent && r.DiscountValue > 100 {
		return fieldErr("discount_value", "un porcentaje no puede superar 100")
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && r.ValidUntil.Before(*r.ValidFrom) {
		return fieldErr("valid_until", "debe ser posterior a valid_from")
	}
	return nil
}

func (r couponReq) apply(c *model.Coupon) {
	c.Code = strings.TrimSpace(r.Code)
	c.Description = strings.TrimSpace(r.Description)
	c.DiscountType = r.DiscountType
	c.DiscountValue = r.DiscountValue
	c.UsageLimit = r.UsageLimit
	c.ValidFrom = r.ValidFrom
	c.ValidUntil = r.ValidUntil
	c.EventID = r.EventID
	c.Active = r.Active == nil || *r.Active
}

func (h *AdminHandler) ListCoupons(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Coupons.List(ctx)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *AdminHandler) GetCoupon(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	cp, err := h.Coupons.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

func (h *AdminHandler) CreateCoupon(c echo.Context) error {
	var req couponReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := req.check(); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	cp := &model.Coupon{}
	req.apply(cp)
	if err := h.Coupons.Create(ctx, cp); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, cp)
}

// UpdateCoupon rewrites a coupon.  A usage limit below the current count
// is a conflict.
func (h *AdminHandler) UpdateCoupon(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req couponReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := req.check(); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	cp, err := h.Coupons.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	req.apply(cp)
	if err := h.Coupons.Update(ctx, cp); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

func (h *AdminHandler) DeleteCoupon(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Coupons.Delete(ctx, id); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CouponUsages lists who reserved or redeemed a coupon.
func (h *AdminHandler) CouponUsages(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Coupons.GetByID(ctx, id); err != nil {
		return fail(c, err)
	}
	items, err := h.Coupons.Usages(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
