package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/service"
)

// Leaderboard links Strava accounts and ranks members.
type Leaderboard interface {
	ConnectURL(memberID uint64) (string, error)
	Callback(ctx context.Context, code, state string) (uint64, error)
	SyncMember(ctx context.Context, memberID uint64) (int, error)
	SyncAll(ctx context.Context) (*service.SyncReport, error)
	Leaderboard(ctx context.Context, period string, limit int) ([]model.LeaderboardEntry, error)
}

type StravaHandler struct {
	Board Leaderboard
}

func NewStravaHandler(b Leaderboard) *StravaHandler { return &StravaHandler{Board: b} }

// Connect returns the Strava consent URL for the caller.
func (h *StravaHandler) Connect(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	url, err := h.Board.ConnectURL(id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url})
}

// Callback is the OAuth redirect target.  The member is identified by the
// signed state, not by a bearer token.
func (h *StravaHandler) Callback(c echo.Context) error {
	if e := c.QueryParam("error"); e != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "autorización de Strava denegada", "code": "strava_denied"})
	}
	code, state := c.QueryParam("code"), c.QueryParam("state")
	if code == "" || state == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "faltan code o state", "code": "invalid_query"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*requestTimeout)
	defer cancel()

	id, err := h.Board.Callback(ctx, code, state)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"connected": true, "member_id": id})
}

// Sync pulls the caller's runs.
func (h *StravaHandler) Sync(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 6*requestTimeout)
	defer cancel()

	n, err := h.Board.SyncMember(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"activities": n})
}

// SyncAll is the admin trigger for a full sync.
func (h *StravaHandler) SyncAll(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*requestTimeout)
	defer cancel()

	rep, err := h.Board.SyncAll(ctx)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Ranking serves GET /v1/leaderboard?period=week|month|year&limit=n.
func (h *StravaHandler) Ranking(c echo.Context) error {
	period := c.QueryParam("period")
	limit := queryInt(c, "limit", 50)
	if limit == 0 || limit > 200 {
		limit = 50
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Board.Leaderboard(ctx, period, limit)
	if err != nil {
		return fail(c, err)
	}
	if period == "" {
		period = service.PeriodMonth
	}
	return c.JSON(http.StatusOK, echo.Map{"period": period, "items": items})
}
