package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// EventQueries is the read side of the event repository.
type EventQueries interface {
	GetBySlug(ctx context.Context, slug string) (*model.Event, error)
	ListPublished(ctx context.Context, from time.Time) ([]model.Event, error)
	Availability(ctx context.Context, e *model.Event, now time.Time) (repository.Availability, error)
}

// PublicReviews lists approved reviews of an event.
type PublicReviews interface {
	ListPublic(ctx context.Context, eventID uint64) (repository.ReviewSummary, error)
}

// EventHandler serves the public event listing.  Drafts are never shown.
type EventHandler struct {
	Events  EventQueries
	Reviews PublicReviews
	now     func() time.Time
}

func NewEventHandler(events EventQueries, reviews PublicReviews) *EventHandler {
	return &EventHandler{Events: events, Reviews: reviews, now: time.Now}
}

// PublicEvent is an event with its live seat count.
type PublicEvent struct {
	model.Event
	Availability     repository.Availability `json:"availability"`
	RegistrationOpen bool                    `json:"registration_open"`
}

// List returns upcoming published events.  ?past=true includes events
// that have already started.
func (h *EventHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	now := h.now().UTC()
	from := now
	if queryBool(c, "past") {
		from = time.Time{}
	}
	events, err := h.Events.ListPublished(ctx, from)
	if err != nil {
		return fail(c, err)
	}
	out := make([]PublicEvent, 0, len(events))
	for i := range events {
		pe, err := h.view(ctx, &events[i], now)
		if err != nil {
			return fail(c, err)
		}
		out = append(out, pe)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Show returns one published event by slug.
func (h *EventHandler) Show(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	ev, err := h.published(ctx, c.Param("slug"))
	if err != nil {
		return fail(c, err)
	}
	pe, err := h.view(ctx, ev, h.now().UTC())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pe)
}

// ListReviews returns approved reviews with the average rating.
func (h *EventHandler) ListReviews(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	ev, err := h.published(ctx, c.Param("slug"))
	if err != nil {
		return fail(c, err)
	}
	sum, err := h.Reviews.ListPublic(ctx, ev.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *EventHandler) published(ctx context.Context, slug string) (*model.Event, error) {
	ev, err := h.Events.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ev.Status == model.EventDraft {
		return nil, repository.ErrNotFound
	}
	return ev, nil
}

func (h *EventHandler) view(ctx context.Context, ev *model.Event, now time.Time) (PublicEvent, error) {
	av, err := h.Events.Availability(ctx, ev, now)
	if err != nil {
		return PublicEvent{}, err
	}
	return PublicEvent{Event: *ev, Availability: av, RegistrationOpen: ev.RegistrationOpen(now)}, nil
}
