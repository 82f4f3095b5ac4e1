package middleware // package middleware contains reusable echo middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/utils"
)

// Context keys set by JWTAuth.
const (
	KeyMemberID = "user_id"
	KeyEmail    = "email"
	KeyIsAdmin  = "is_admin"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// stores the member id (uint64) and email in the request context.  The
// provided secret must match the one used when issuing tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "falta el token de acceso", "code": "missing_token"})
			}
			id, email, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token inválido o caducado", "code": "invalid_token"})
			}
			c.Set(KeyMemberID, id)
			c.Set(KeyEmail, email)
			return next(c)
		}
	}
}

// OptionalJWT behaves like JWTAuth when a bearer token is present and lets
// anonymous requests through untouched.  Invalid tokens are still rejected.
func OptionalJWT(secret string) echo.MiddlewareFunc {
	strict := JWTAuth(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		auth := strict(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				return next(c)
			}
			return auth(c)
		}
	}
}
