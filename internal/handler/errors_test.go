package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
	"github.com/iliyamo/runclub-portal/internal/service"
	"github.com/iliyamo/runclub-portal/internal/validate"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{repository.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("load event: %w", repository.ErrNotFound), http.StatusNotFound, "not_found"},
		{repository.ErrEventFull, http.StatusConflict, "event_full"},
		{repository.ErrAlreadyRegistered, http.StatusConflict, "already_registered"},
		{repository.ErrRegistrationClosed, http.StatusUnprocessableEntity, "registration_closed"},
		{fmt.Errorf("%w: expired", model.ErrCouponInvalid), http.StatusUnprocessableEntity, "coupon_invalid"},
		{repository.ErrCouponExhausted, http.StatusUnprocessableEntity, "coupon_exhausted"},
		{service.ErrBusy, http.StatusConflict, "busy"},
		{fmt.Errorf("%w: card declined", service.ErrGateway), http.StatusBadGateway, "payment_gateway"},
		{service.ErrStravaDisabled, http.StatusServiceUnavailable, "strava_disabled"},
		{&validate.FieldError{Field: "email", Message: "email no válido"}, http.StatusBadRequest, "validation"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code, msg := Classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestFailKeepsInternalErrorForLogging(t *testing.T) {
	cause := errors.New("connection reset")
	rec := newCall(http.MethodGet, "/", "").run(t, func(c echo.Context) error {
		err := fail(c, cause)
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, cause, he.Internal)
		return err
	})
	requireCode(t, rec, http.StatusInternalServerError, "internal")
}
