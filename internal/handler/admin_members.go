package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/repository"
)

type adminMemberReq struct {
	Email            string `json:"email" validate:"required,email,max=254"`
	FirstName        string `json:"first_name" validate:"required,max=100"`
	LastName         string `json:"last_name" validate:"max=100"`
	Phone            string `json:"phone" validate:"max=40"`
	MembershipStatus string `json:"membership_status" validate:"required,oneof=active inactive"`
}

// ListMembers pages through members.  Supports ?q=, ?status=, ?limit=
// and ?offset=.
func (h *AdminHandler) ListMembers(c echo.Context) error {
	f := repository.MemberFilter{
		Query:  c.QueryParam("q"),
		Status: c.QueryParam("status"),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, total, err := h.Members.List(ctx, f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "total": total})
}

func (h *AdminHandler) GetMember(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	m, err := h.Members.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

// UpdateMember edits profile and membership status.
func (h *AdminHandler) UpdateMember(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req adminMemberReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	m, err := h.Members.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	m.Email = strings.TrimSpace(req.Email)
	m.FirstName = strings.TrimSpace(req.FirstName)
	m.LastName = strings.TrimSpace(req.LastName)
	m.Phone = strings.TrimSpace(req.Phone)
	m.MembershipStatus = req.MembershipStatus
	if err := h.Members.Update(ctx, m); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *AdminHandler) DeleteMember(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Members.Delete(ctx, id); err != nil {
		return fail(c, err)
	}
	h.Log.Info().Uint64("member_id", id).Msg("member deleted")
	return c.NoContent(http.StatusNoContent)
}
