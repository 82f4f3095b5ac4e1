package model

import "time"

// Membership statuses.
const (
	MembershipActive   = "active"
	MembershipInactive = "inactive"
)

// Member represents a club member as stored in the `members` table.
// Email is unique and always stored lower-cased.  StripeCustomerID is
// filled the first time the member starts a paid checkout so later
// checkouts reuse the same gateway customer.
//
// Fields:
//
//	ID               – primary key identifier.
//	Email            – unique login email.
//	PasswordHash     – bcrypt hash, never serialised.
//	FirstName        – given name.
//	LastName         – family name.
//	Phone            – optional contact number.
//	MembershipStatus – active or inactive.
//	StripeCustomerID – gateway customer id (nullable).
type Member struct {
	ID               uint64    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	FirstName        string    `db:"first_name" json:"first_name"`
	LastName         string    `db:"last_name" json:"last_name"`
	Phone            string    `db:"phone" json:"phone"`
	MembershipStatus string    `db:"membership_status" json:"membership_status"`
	StripeCustomerID *string   `db:"stripe_customer_id" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name.
func (m Member) FullName() string {
	switch {
	case m.FirstName == "":
		return m.LastName
	case m.LastName == "":
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA-256 hash of the token is stored.
type RefreshToken struct {
	ID        uint64     `db:"id"`
	MemberID  uint64     `db:"member_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}
