package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/repository"
	"github.com/iliyamo/runclub-portal/internal/service"
	"github.com/iliyamo/runclub-portal/internal/utils"
	"github.com/iliyamo/runclub-portal/internal/validate"
)

// errBadBody is returned when the request body cannot be decoded.
var errBadBody = errors.New("invalid request body")

// errBadID is returned for malformed path ids.
var errBadID = errors.New("invalid id")

// errBadCredentials covers an unknown email and a wrong password alike.
var errBadCredentials = errors.New("invalid credentials")

type apiError struct {
	sentinel error
	status   int
	code     string
	msg      string
}

// Order matters: the first sentinel matched by errors.Is wins.
var apiErrors = []apiError{
	{errBadBody, http.StatusBadRequest, "invalid_body", "cuerpo de la petición no válido"},
	{errBadID, http.StatusBadRequest, "invalid_id", "identificador no válido"},
	{errBadCredentials, http.StatusUnauthorized, "invalid_credentials", "email o contraseña incorrectos"},
	{model.ErrBadBookingRef, http.StatusBadRequest, "invalid_ref", "referencia de inscripción no válida"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found", "recurso no encontrado"},
	{repository.ErrForbidden, http.StatusForbidden, "forbidden", "no tienes permiso para esta acción"},
	{repository.ErrEmailExists, http.StatusConflict, "email_exists", "ya existe una cuenta con ese email"},
	{repository.ErrSlugExists, http.StatusConflict, "slug_exists", "ese identificador ya está en uso"},
	{repository.ErrAlreadyRegistered, http.StatusConflict, "already_registered", "ya estás inscrito en este evento"},
	{repository.ErrEventFull, http.StatusConflict, "event_full", "no quedan plazas disponibles"},
	{repository.ErrRegistrationClosed, http.StatusUnprocessableEntity, "registration_closed", "las inscripciones para este evento están cerradas"},
	{repository.ErrInvalidState, http.StatusConflict, "invalid_state", "la inscripción no admite esta operación en su estado actual"},
	{repository.ErrConflict, http.StatusConflict, "conflict", "la operación entra en conflicto con datos existentes"},
	{model.ErrCouponExhausted, http.StatusUnprocessableEntity, "coupon_exhausted", "el cupón ha alcanzado su límite de usos"},
	{model.ErrCouponInvalid, http.StatusUnprocessableEntity, "coupon_invalid", "el cupón no es válido"},
	{service.ErrBusy, http.StatusConflict, "busy", "ya hay una inscripción en curso, inténtalo de nuevo en unos segundos"},
	{service.ErrInvalidRegistrant, http.StatusBadRequest, "invalid_registrant", "indica nombre y email"},
	{service.ErrMembershipInactive, http.StatusForbidden, "membership_inactive", "tu membresía no está activa"},
	{service.ErrNotAttended, http.StatusForbidden, "not_attended", "solo pueden opinar quienes participaron en el evento"},
	{service.ErrEventNotFinished, http.StatusUnprocessableEntity, "event_not_finished", "el evento aún no se ha celebrado"},
	{service.ErrInvalidReview, http.StatusBadRequest, "invalid_review", "la valoración debe estar entre 1 y 5 y el comentario no superar 2000 caracteres"},
	{service.ErrInvalidPeriod, http.StatusBadRequest, "invalid_period", "periodo no válido, usa week, month o year"},
	{payment.ErrSignature, http.StatusBadRequest, "invalid_signature", "firma del webhook no válida"},
	{utils.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", "token inválido o caducado"},
	{service.ErrStravaDisabled, http.StatusServiceUnavailable, "strava_disabled", "la integración con Strava no está configurada"},
	{service.ErrGateway, http.StatusBadGateway, "payment_gateway", "error al contactar con la pasarela de pago"},
}

// Classify maps err to an HTTP status, a machine code and a Spanish
// message.  Unknown errors are internal.
func Classify(err error) (status int, code, msg string) {
	var fe *validate.FieldError
	if errors.As(err, &fe) {
		return http.StatusBadRequest, "validation", fe.Field + ": " + fe.Message
	}
	for _, ae := range apiErrors {
		if errors.Is(err, ae.sentinel) {
			return ae.status, ae.code, ae.msg
		}
	}
	return http.StatusInternalServerError, "internal", "error interno"
}

// fail writes err as a JSON error.  5xx responses go through echo's error
// handler with err attached so the request logger records the cause.
func fail(c echo.Context, err error) error {
	status, code, msg := Classify(err)
	body := echo.Map{"error": msg, "code": code}
	if status >= http.StatusInternalServerError {
		return &echo.HTTPError{Code: status, Message: body, Internal: err}
	}
	return c.JSON(status, body)
}
