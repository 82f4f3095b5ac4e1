package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type reviewStatusReq struct {
	Status string `json:"status" validate:"required,oneof=pending approved hidden"`
}

// ListReviews supports ?status= and ?event_id= filters.
func (h *AdminHandler) ListReviews(c echo.Context) error {
	var eventID uint64
	if v := c.QueryParam("event_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fail(c, errBadID)
		}
		eventID = n
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Reviews.List(ctx, c.QueryParam("status"), eventID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// SetReviewStatus approves, hides or resets a review.
func (h *AdminHandler) SetReviewStatus(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req reviewStatusReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Reviews.SetStatus(ctx, id, req.Status); err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": req.Status})
}

func (h *AdminHandler) DeleteReview(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Reviews.Delete(ctx, id); err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	return c.NoContent(http.StatusNoContent)
}
