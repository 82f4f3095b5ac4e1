package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxWebhookBody bounds the payload read from Stripe.
const maxWebhookBody = 64 << 10

// WebhookProcessor verifies and applies a gateway event.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (string, error)
}

type WebhookHandler struct {
	Webhooks WebhookProcessor
}

func NewWebhookHandler(w WebhookProcessor) *WebhookHandler { return &WebhookHandler{Webhooks: w} }

// Stripe receives checkout events.  A bad signature is a 400; any other
// failure is a 500 so Stripe delivers the event again.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return fail(c, errBadBody)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*requestTimeout)
	defer cancel()

	result, err := h.Webhooks.Handle(ctx, payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true, "result": result})
}
