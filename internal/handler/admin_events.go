package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
)

type eventReq struct {
	Slug            string               `json:"slug" validate:"required,slug,max=120"`
	Title           string               `json:"title" validate:"required,max=200"`
	Description     string               `json:"description"`
	Location        string               `json:"location" validate:"max=200"`
	StartsAt        time.Time            `json:"starts_at" validate:"required"`
	PriceCents      int64                `json:"price_cents" validate:"min=0"`
	Currency        string               `json:"currency" validate:"omitempty,currency"`
	MaxParticipants *int                 `json:"max_participants" validate:"omitempty,min=1"`
	Schedule        []model.ScheduleItem `json:"schedule" validate:"dive"`
	Highlights      []string             `json:"highlights"`
	ImageURL        string               `json:"image_url" validate:"omitempty,url"`
	Status          string               `json:"status" validate:"omitempty,oneof=draft published archived"`
}

func (r eventReq) apply(e *model.Event, defCurrency string) {
	e.Slug = strings.TrimSpace(r.Slug)
	e.Title = strings.TrimSpace(r.Title)
	e.Description = r.Description
	e.Location = strings.TrimSpace(r.Location)
	e.StartsAt = r.StartsAt.UTC()
	e.PriceCents = r.PriceCents
	e.Currency = r.Currency
	if e.Currency == "" {
		e.Currency = defCurrency
	}
	e.MaxParticipants = r.MaxParticipants
	e.Schedule = r.Schedule
	e.Highlights = r.Highlights
	e.ImageURL = strings.TrimSpace(r.ImageURL)
	if r.Status != "" {
		e.Status = r.Status
	}
}

// ListEvents returns every event.  ?archived=true includes archived ones.
func (h *AdminHandler) ListEvents(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	events, err := h.Events.ListAll(ctx, queryBool(c, "archived"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": events})
}

// GetEvent returns an event with its seat count.
func (h *AdminHandler) GetEvent(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ev, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	av, err := h.Events.Availability(ctx, ev, h.now().UTC())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, PublicEvent{Event: *ev, Availability: av, RegistrationOpen: ev.RegistrationOpen(h.now())})
}

func (h *AdminHandler) CreateEvent(c echo.Context) error {
	var req eventReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ev := &model.Event{}
	req.apply(ev, h.Currency)
	if err := h.Events.Create(ctx, ev); err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	h.Log.Info().Uint64("event_id", ev.ID).Str("slug", ev.Slug).Msg("event created")
	return c.JSON(http.StatusCreated, ev)
}

// UpdateEvent replaces the editable fields of an event.
func (h *AdminHandler) UpdateEvent(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req eventReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ev, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	req.apply(ev, h.Currency)
	if err := h.Events.Update(ctx, ev); err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, ev)
}

func (h *AdminHandler) ArchiveEvent(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Events.Archive(ctx, id); err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	return c.NoContent(http.StatusNoContent)
}

// DeleteEvent removes an event without bookings.
func (h *AdminHandler) DeleteEvent(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Events.Delete(ctx, id); err != nil {
		return fail(c, err)
	}
	h.purge(ctx)
	h.Log.Info().Uint64("event_id", id).Msg("event deleted")
	return c.NoContent(http.StatusNoContent)
}

// EventBookings lists registrations and guest bookings of an event.
// ?status= narrows by booking status.
func (h *AdminHandler) EventBookings(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Events.GetByID(ctx, id); err != nil {
		return fail(c, err)
	}
	items, err := h.Bookings.ListByEvent(ctx, id, c.QueryParam("status"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "total": len(items)})
}
