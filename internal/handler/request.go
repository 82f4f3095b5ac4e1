package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/middleware"
	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
	"github.com/iliyamo/runclub-portal/internal/validate"
)

const requestTimeout = 5 * time.Second

// reqCtx bounds the work of one request.
func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// bind decodes the body into v and runs the echo validator on it.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return errBadBody
	}
	if c.Echo().Validator == nil {
		return nil
	}
	return c.Validate(v)
}

func paramID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errBadID
	}
	return id, nil
}

func paramRef(c echo.Context, name string) (model.BookingRef, error) {
	return model.ParseBookingRef(c.Param(name))
}

// memberID returns the authenticated caller or ErrForbidden.
func memberID(c echo.Context) (uint64, error) {
	id, ok := middleware.MemberID(c)
	if !ok {
		return 0, repository.ErrForbidden
	}
	return id, nil
}

func queryInt(c echo.Context, name string, def int) int {
	if n, err := strconv.Atoi(c.QueryParam(name)); err == nil && n >= 0 {
		return n
	}
	return def
}

func queryBool(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(c.QueryParam(name)))
	return v
}

func isNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }

func fieldErr(field, msg string) error {
	return &validate.FieldError{Field: field, Message: msg}
}
