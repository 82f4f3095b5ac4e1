// Package service holds the business rules of the club portal.  Services
// depend on small interfaces over the repositories and the payment gateway
// so they can be exercised without a database.
package service

import "errors"

var (
	// ErrBusy means another request for the same registrant and event is
	// in flight.
	ErrBusy = errors.New("registration already in progress")
	// ErrGateway wraps failures of the payment processor.
	ErrGateway = errors.New("payment gateway error")
	// ErrInvalidRegistrant is returned for guests without name or email.
	ErrInvalidRegistrant = errors.New("registrant needs a name and an email")
	// ErrMembershipInactive blocks inactive members from registering.
	ErrMembershipInactive = errors.New("membership inactive")
	// ErrNotAttended means the member has no confirmed booking for the event.
	ErrNotAttended = errors.New("member did not attend the event")
	// ErrEventNotFinished means the event has not taken place yet.
	ErrEventNotFinished = errors.New("event has not taken place yet")
	// ErrInvalidPeriod is returned for unknown leaderboard periods.
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrStravaDisabled means no OAuth client is configured.
	ErrStravaDisabled = errors.New("strava integration disabled")
)

// ErrInvalidReview is returned for ratings outside 1..5 or overlong comments.
var ErrInvalidReview = errors.New("invalid review")
