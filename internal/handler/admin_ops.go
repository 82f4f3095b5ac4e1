package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// reconciliation walks the gateway and may take a while
const reconcileTimeout = 2 * time.Minute

type reconcileEmailsReq struct {
	Emails  []string `json:"emails" validate:"required,min=1,max=200"`
	EventID *uint64  `json:"event_id" validate:"omitempty,min=1"`
}

func (h *AdminHandler) ReconcileEvent(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), reconcileTimeout)
	defer cancel()

	rep, err := h.Reconcile.ReconcileEvent(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, rep)
}

func (h *AdminHandler) ReconcileMember(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), reconcileTimeout)
	defer cancel()

	rep, err := h.Reconcile.ReconcileMember(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, rep)
}

// ReconcileEmails repairs bookings paid by the given emails, optionally
// limited to one event.
func (h *AdminHandler) ReconcileEmails(c echo.Context) error {
	var req reconcileEmailsReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), reconcileTimeout)
	defer cancel()

	rep, err := h.Reconcile.ReconcileEmails(ctx, req.Emails, req.EventID)
	if err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, rep)
}

// LinkAttendees attaches guest bookings to members with the same email.
func (h *AdminHandler) LinkAttendees(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	rep, err := h.Reconcile.LinkAttendees(ctx)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// ExpireHolds releases lapsed seat holds now instead of waiting for the
// sweeper.
func (h *AdminHandler) ExpireHolds(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	n, err := h.Bookings.ExpireHolds(ctx, h.now().UTC())
	if err != nil {
		return fail(c, err)
	}
	if n > 0 {
		h.purge(ctx)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}
