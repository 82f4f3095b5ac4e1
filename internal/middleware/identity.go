package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// MemberID returns the authenticated member id stored by JWTAuth.
func MemberID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(KeyMemberID).(uint64)
	return id, ok && id != 0
}

// userKey identifies the caller for rate limiting and logs.  It returns
// "anon" when no member is authenticated.
func userKey(c echo.Context) string {
	if id, ok := MemberID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
