// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/handler"
	"github.com/iliyamo/runclub-portal/internal/middleware"
	"github.com/iliyamo/runclub-portal/internal/validate"
)

// Handlers groups every HTTP handler the API serves.
type Handlers struct {
	Auth          *handler.AuthHandler
	Events        *handler.EventHandler
	Registrations *handler.RegistrationHandler
	Me            *handler.MeHandler
	Coupons       *handler.CouponHandler
	Reviews       *handler.ReviewHandler
	Webhook       *handler.WebhookHandler
	Strava        *handler.StravaHandler
	Admin         *handler.AdminHandler
}

// Options carries what the route groups need besides handlers.  RateLimit
// and Cache may be nil, in which case routes are registered without them.
type Options struct {
	JWTSecret string
	Admins    middleware.AdminChecker
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
	DB        handler.Pinger
}

// New returns an echo instance with the global middleware chain: request
// id, request logging, panic recovery and CORS.
func New(log *zerolog.Logger, origins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Retry-After", "X-RateLimit-Remaining"},
	}))
	return e
}

// Register mounts every route group.
func Register(e *echo.Echo, h Handlers, o Options) {
	RegisterRoutes(e, o.DB)
	RegisterAuth(e, h.Auth, o.RateLimit)
	RegisterPublic(e, h, o)
	RegisterMember(e, h, o)
	RegisterAdmin(e, h.Admin, h.Strava, o)
}

// RegisterRoutes registers routes that do not belong to the API proper.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers sign-up and session routes under /v1/auth.  None
// of them require an access token; logout accepts one optionally.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", optional(limit)...)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)
}

func optional(mw ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
