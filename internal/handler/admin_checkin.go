package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
)

type checkinReq struct {
	Code string `json:"code" validate:"required_without=Ref,max=64"`
	Ref  string `json:"ref" validate:"required_without=Code,max=64"`
}

// CheckIn marks a booking as arrived, found by ticket code or by ref.  A
// repeated check-in succeeds with already_checked_in set.
func (h *AdminHandler) CheckIn(c echo.Context) error {
	var req checkinReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	var ref model.BookingRef
	if code := strings.TrimSpace(req.Code); code != "" {
		b, err := h.Bookings.GetByCheckinCode(ctx, code)
		if err != nil {
			return fail(c, err)
		}
		ref = b.Ref()
	} else {
		r, err := model.ParseBookingRef(req.Ref)
		if err != nil {
			return fail(c, err)
		}
		ref = r
	}
	b, already, err := h.Bookings.CheckIn(ctx, ref, h.now().UTC())
	if err != nil {
		return fail(c, err)
	}
	if !already {
		h.Log.Info().Str("booking", ref.String()).Uint64("event_id", b.EventID).Msg("checked in")
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b, "already_checked_in": already})
}

// UndoCheckIn clears the arrival of :ref.
func (h *AdminHandler) UndoCheckIn(c echo.Context) error {
	ref, err := paramRef(c, "ref")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	b, err := h.Bookings.UndoCheckIn(ctx, ref)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": b})
}
