package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AdminChecker reports whether a member has an admins row.
type AdminChecker interface {
	IsAdmin(ctx context.Context, memberID uint64) (bool, error)
}

// RequireAdmin enforces that the authenticated member is an administrator.
// Membership in the admins table is checked on every request so revoking
// access takes effect without waiting for tokens to expire.  It must run
// after JWTAuth.
func RequireAdmin(admins AdminChecker, log *zerolog.Logger) echo.MiddlewareFunc {
	if admins == nil {
		panic("RequireAdmin: nil admin checker")
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := MemberID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "no autenticado", "code": "unauthorized"})
			}
			isAdmin, err := admins.IsAdmin(c.Request().Context(), id)
			if err != nil {
				log.Error().Err(err).Uint64("member_id", id).Msg("admin lookup failed")
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "error interno", "code": "internal"})
			}
			if !isAdmin {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "acceso restringido a administradores", "code": "forbidden"})
			}
			c.Set(KeyIsAdmin, true)
			return next(c)
		}
	}
}
