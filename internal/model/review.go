package model

import "time"

// Review statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewHidden   = "hidden"
)

// Review is a member's rating of an event they attended.  One per member
// and event; only approved reviews are shown publicly.
type Review struct {
	ID         uint64    `db:"id" json:"id"`
	EventID    uint64    `db:"event_id" json:"event_id"`
	MemberID   uint64    `db:"member_id" json:"member_id"`
	MemberName string    `db:"member_name" json:"member_name"`
	Rating     int       `db:"rating" json:"rating"`
	Comment    string    `db:"comment" json:"comment"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
