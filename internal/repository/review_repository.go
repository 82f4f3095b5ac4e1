package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/runclub-portal/internal/database"
	"github.com/iliyamo/runclub-portal/internal/model"
)

const reviewSelect = `SELECT r.id, r.event_id, r.member_id, trim(m.first_name || ' ' || m.last_name) AS member_name,
	r.rating, r.comment, r.status, r.created_at, r.updated_at
	FROM reviews r JOIN members m ON m.id = r.member_id`

type ReviewRepo struct{ db *sqlx.DB }

func NewReviewRepo(db *sqlx.DB) *ReviewRepo { return &ReviewRepo{db: db} }

// Create inserts a pending review.  A second review by the same member for
// the same event yields ErrConflict.
func (r *ReviewRepo) Create(ctx context.Context, rv *model.Review) error {
	rv.Status = model.ReviewPending
	err := r.db.QueryRowxContext(ctx, `INSERT INTO reviews (event_id, member_id, rating, comment, status)
		VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		rv.EventID, rv.MemberID, rv.Rating, rv.Comment, rv.Status).Scan(&rv.ID, &rv.CreatedAt, &rv.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// ReviewSummary is the public view of an event's approved reviews.
type ReviewSummary struct {
	Average float64        `json:"average"`
	Count   int            `json:"count"`
	Reviews []model.Review `json:"reviews"`
}

// ListPublic returns the approved reviews of an event with their average.
func (r *ReviewRepo) ListPublic(ctx context.Context, eventID uint64) (ReviewSummary, error) {
	sum := ReviewSummary{Reviews: []model.Review{}}
	if err := r.db.SelectContext(ctx, &sum.Reviews,
		reviewSelect+` WHERE r.event_id=$1 AND r.status='approved' ORDER BY r.created_at DESC`, eventID); err != nil {
		return sum, err
	}
	total := 0
	for _, rv := range sum.Reviews {
		total += rv.Rating
	}
	sum.Count = len(sum.Reviews)
	if sum.Count > 0 {
		sum.Average = float64(total) / float64(sum.Count)
	}
	return sum, nil
}

// List returns reviews for moderation.  Empty status lists all of them.
func (r *ReviewRepo) List(ctx context.Context, status string, eventID uint64) ([]model.Review, error) {
	var w where
	if status != "" {
		w.add(`r.status = ?`, status)
	}
	if eventID != 0 {
		w.add(`r.event_id = ?`, eventID)
	}
	out := []model.Review{}
	err := r.db.SelectContext(ctx, &out, reviewSelect+` WHERE `+w.sql()+` ORDER BY r.created_at DESC`, w.args...)
	return out, err
}

// SetStatus moves a review to approved, hidden or back to pending.
func (r *ReviewRepo) SetStatus(ctx context.Context, id uint64, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE reviews SET status=$1, updated_at=now() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a review.
func (r *ReviewRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reviews WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
