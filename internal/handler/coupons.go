package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// Quoter prices an event with an optional coupon.
type Quoter interface {
	Quote(ctx context.Context, code string, ev *model.Event) (model.Quote, error)
}

// CouponHandler serves public coupon checks.
type CouponHandler struct {
	Events EventQueries
	Quotes Quoter
}

func NewCouponHandler(events EventQueries, q Quoter) *CouponHandler {
	return &CouponHandler{Events: events, Quotes: q}
}

type validateCouponReq struct {
	Code      string `json:"code" validate:"required,max=64"`
	EventSlug string `json:"event_slug" validate:"required,slug"`
}

// Validate returns the price breakdown the coupon would give on the event.
// Nothing is reserved; the check is repeated when registering.
func (h *CouponHandler) Validate(c echo.Context) error {
	var req validateCouponReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ev, err := h.Events.GetBySlug(ctx, req.EventSlug)
	if err != nil {
		return fail(c, err)
	}
	q, err := h.Quotes.Quote(ctx, req.Code, ev)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true, "quote": q})
}
