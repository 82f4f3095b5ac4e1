package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// WebhookRepo deduplicates gateway webhook deliveries by event id.
type WebhookRepo struct{ db *sqlx.DB }

func NewWebhookRepo(db *sqlx.DB) *WebhookRepo { return &WebhookRepo{db: db} }

// Begin records the delivery of event id.  It returns false when the event
// was already processed successfully; a delivery that failed half way is
// offered again.
func (r *WebhookRepo) Begin(ctx context.Context, id, typ string) (bool, error) {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO webhook_events (id, type) VALUES ($1,$2)
		ON CONFLICT (id) DO NOTHING`, id, typ); err != nil {
		return false, err
	}
	var processed bool
	err := r.db.GetContext(ctx, &processed, `SELECT processed_at IS NOT NULL FROM webhook_events WHERE id=$1`, id)
	return !processed, err
}

// Finish marks event id as processed.
func (r *WebhookRepo) Finish(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_events SET processed_at=now() WHERE id=$1`, id)
	return err
}
