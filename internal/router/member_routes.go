package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/middleware"
)

// RegisterMember registers endpoints that need a valid access token.  They
// are registered per route rather than on a /v1 group so unknown /v1 paths
// still answer 404 instead of 401.
func RegisterMember(e *echo.Echo, h Handlers, o Options) {
	auth := middleware.JWTAuth(o.JWTSecret)
	limited := append([]echo.MiddlewareFunc{auth}, optional(o.RateLimit)...)

	e.GET("/v1/me", h.Me.Get, auth)
	e.PUT("/v1/me", h.Me.Update, auth)
	e.GET("/v1/me/registrations", h.Me.Registrations, auth)
	e.DELETE("/v1/me/registrations/:ref", h.Registrations.Cancel, auth)

	e.POST("/v1/events/:slug/registrations", h.Registrations.Register, limited...)
	e.POST("/v1/events/:slug/reviews", h.Reviews.Create, auth)

	e.GET("/v1/strava/connect", h.Strava.Connect, auth)
	e.POST("/v1/strava/sync", h.Strava.Sync, auth)
}
