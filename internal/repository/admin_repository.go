package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/runclub-portal/internal/database"
)

// AdminRepo manages the `admins` table.  A member is an administrator iff a
// row with their id exists; there is no role column on members.
type AdminRepo struct{ db *sqlx.DB }

func NewAdminRepo(db *sqlx.DB) *AdminRepo { return &AdminRepo{db: db} }

// IsAdmin reports whether memberID has an admins row.
func (r *AdminRepo) IsAdmin(ctx context.Context, memberID uint64) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM admins WHERE member_id=$1)`, memberID)
	return ok, err
}

// Grant makes memberID an administrator.  Granting twice is a no-op.
func (r *AdminRepo) Grant(ctx context.Context, memberID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admins (member_id) VALUES ($1) ON CONFLICT (member_id) DO NOTHING`, memberID)
	if database.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

// Revoke removes the admin row, if any.
func (r *AdminRepo) Revoke(ctx context.Context, memberID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM admins WHERE member_id=$1`, memberID)
	return err
}

// Admin is one row of List.
type Admin struct {
	MemberID  uint64    `db:"member_id" json:"member_id"`
	Email     string    `db:"email" json:"email"`
	GrantedAt time.Time `db:"granted_at" json:"granted_at"`
}

// List returns every administrator.
func (r *AdminRepo) List(ctx context.Context) ([]Admin, error) {
	out := []Admin{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT a.member_id, m.email, a.granted_at FROM admins a JOIN members m ON m.id=a.member_id ORDER BY a.granted_at`)
	return out, err
}
