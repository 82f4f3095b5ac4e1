// Package repository holds the Postgres access code and the sentinel
// errors shared by every repository.  Higher layers compare against these
// values with errors.Is; the handler package turns them into HTTP statuses.
package repository

import (
	"errors"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own. Handlers translate this into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a delete or update cannot be performed
// because of conflicting state, such as deleting an event that still has
// bookings. Handlers translate this into HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned by member creation for a taken email.
var ErrEmailExists = errors.New("email already exists")

// ErrSlugExists is returned when an event slug or coupon code is taken.
var ErrSlugExists = errors.New("slug already exists")

// ErrAlreadyRegistered means the registrant already holds a paid booking.
var ErrAlreadyRegistered = errors.New("already registered")

// ErrEventFull means no seat is left for a new booking.
var ErrEventFull = errors.New("event is full")

// ErrRegistrationClosed means the event is not published or already started.
var ErrRegistrationClosed = errors.New("registration closed")

// ErrInvalidState is returned when a booking is not in a status that
// allows the requested transition.
var ErrInvalidState = errors.New("invalid booking state")

// Coupon errors live on the model so Coupon.Usable can return them.
var (
	ErrCouponInvalid   = model.ErrCouponInvalid
	ErrCouponExhausted = model.ErrCouponExhausted
)
