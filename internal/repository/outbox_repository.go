package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// OutboxRepo reads the messages written by the booking store and tracks
// their delivery to the broker.
type OutboxRepo struct{ db *sqlx.DB }

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// Pending returns up to limit unpublished messages, oldest first.
// Messages that failed maxAttempts times are skipped.
func (r *OutboxRepo) Pending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxMessage, error) {
	out := []model.OutboxMessage{}
	err := r.db.SelectContext(ctx, &out, `SELECT id, topic, payload, attempts, last_error, created_at, published_at
		FROM outbox WHERE published_at IS NULL AND attempts < $1 ORDER BY id LIMIT $2`, maxAttempts, limit)
	return out, err
}

// MarkPublished records a successful publish.
func (r *OutboxRepo) MarkPublished(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET published_at=now() WHERE id=$1`, id)
	return err
}

// MarkFailed counts a failed publish attempt.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id uint64, cause string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET attempts=attempts+1, last_error=$2 WHERE id=$1`, id, cause)
	return err
}
