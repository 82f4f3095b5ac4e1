package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/middleware"
	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// ProfileStore reads and writes the caller's member row.
type ProfileStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Member, error)
	Update(ctx context.Context, m *model.Member) error
}

// MemberBookings lists a member's bookings.
type MemberBookings interface {
	ListByMember(ctx context.Context, memberID uint64) ([]repository.MemberBooking, error)
}

// MeHandler serves the authenticated member's own profile.
type MeHandler struct {
	Members  ProfileStore
	Bookings MemberBookings
	Admins   middleware.AdminChecker
}

func NewMeHandler(m ProfileStore, b MemberBookings, a middleware.AdminChecker) *MeHandler {
	return &MeHandler{Members: m, Bookings: b, Admins: a}
}

type meResp struct {
	*model.Member
	IsAdmin bool `json:"is_admin"`
}

// email is optional; an empty value keeps the current one
type updateMeReq struct {
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"max=40"`
}

func (h *MeHandler) Get(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	m, err := h.Members.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return h.respond(c, ctx, m)
}

// Update changes the caller's contact details.  Membership status is
// admin-only and left untouched.
func (h *MeHandler) Update(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	var req updateMeReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	m, err := h.Members.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	if e := strings.TrimSpace(req.Email); e != "" {
		m.Email = e
	}
	m.FirstName = strings.TrimSpace(req.FirstName)
	m.LastName = strings.TrimSpace(req.LastName)
	m.Phone = strings.TrimSpace(req.Phone)
	if err := h.Members.Update(ctx, m); err != nil {
		return fail(c, err)
	}
	return h.respond(c, ctx, m)
}

// Registrations lists the caller's bookings, newest event first.
func (h *MeHandler) Registrations(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Bookings.ListByMember(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *MeHandler) respond(c echo.Context, ctx context.Context, m *model.Member) error {
	admin := false
	if h.Admins != nil {
		ok, err := h.Admins.IsAdmin(ctx, m.ID)
		if err != nil {
			return fail(c, err)
		}
		admin = ok
	}
	return c.JSON(http.StatusOK, meResp{Member: m, IsAdmin: admin})
}
