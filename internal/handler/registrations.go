package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/service"
)

// Registrar starts and cancels bookings.
type Registrar interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.RegisterResult, error)
	Cancel(ctx context.Context, memberID uint64, ref model.BookingRef) (*model.Booking, error)
}

// RegistrationHandler serves member and guest sign-ups for events.
type RegistrationHandler struct {
	Registrations  Registrar
	PublishableKey string
}

func NewRegistrationHandler(r Registrar, publishableKey string) *RegistrationHandler {
	return &RegistrationHandler{Registrations: r, PublishableKey: publishableKey}
}

type memberRegisterReq struct {
	CouponCode string `json:"coupon_code" validate:"max=64"`
}

type guestRegisterReq struct {
	Name       string `json:"name" validate:"required,max=200"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Phone      string `json:"phone" validate:"max=40"`
	CouponCode string `json:"coupon_code" validate:"max=64"`
}

type registerResp struct {
	*service.RegisterResult
	PublishableKey string `json:"publishable_key,omitempty"`
}

// Register books the authenticated member onto :slug.
func (h *RegistrationHandler) Register(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	var req memberRegisterReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	return h.register(c, service.RegisterInput{
		EventSlug:  c.Param("slug"),
		Registrant: model.Registrant{MemberID: &id},
		CouponCode: req.CouponCode,
	})
}

// RegisterGuest books someone without an account onto :slug.
func (h *RegistrationHandler) RegisterGuest(c echo.Context) error {
	var req guestRegisterReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	return h.register(c, service.RegisterInput{
		EventSlug: c.Param("slug"),
		Registrant: model.Registrant{
			Name:  strings.TrimSpace(req.Name),
			Email: strings.TrimSpace(req.Email),
			Phone: strings.TrimSpace(req.Phone),
		},
		CouponCode: req.CouponCode,
	})
}

func (h *RegistrationHandler) register(c echo.Context, in service.RegisterInput) error {
	// gateway calls can be slower than a database round trip
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*requestTimeout)
	defer cancel()

	res, err := h.Registrations.Register(ctx, in)
	if err != nil {
		return fail(c, err)
	}
	resp := registerResp{RegisterResult: res}
	if !res.Free {
		resp.PublishableKey = h.PublishableKey
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	return c.JSON(status, resp)
}

// Cancel drops one of the caller's own bookings.
func (h *RegistrationHandler) Cancel(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	ref, err := paramRef(c, "ref")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	b, err := h.Registrations.Cancel(ctx, id, ref)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
