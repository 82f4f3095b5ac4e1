package router

import (
	"github.com/labstack/echo/v4"
)

// RegisterPublic registers unauthenticated endpoints.  Read-only listings
// go through the response cache; writes open to guests are rate limited.
// The Stripe webhook and the Strava callback authenticate by signature and
// signed state respectively.
func RegisterPublic(e *echo.Echo, h Handlers, o Options) {
	cached := optional(o.Cache)
	limited := optional(o.RateLimit)

	e.GET("/v1/events", h.Events.List, cached...)
	e.GET("/v1/events/:slug", h.Events.Show, cached...)
	e.GET("/v1/events/:slug/reviews", h.Events.ListReviews, cached...)
	e.GET("/v1/leaderboard", h.Strava.Ranking, cached...)

	e.POST("/v1/events/:slug/guest-registrations", h.Registrations.RegisterGuest, limited...)
	e.POST("/v1/coupons/validate", h.Coupons.Validate, limited...)

	e.POST("/v1/webhooks/stripe", h.Webhook.Stripe)
	e.GET("/v1/strava/callback", h.Strava.Callback)
}
