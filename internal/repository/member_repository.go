package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/runclub-portal/internal/database"
	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/utils"
)

const memberCols = `id, email, password_hash, first_name, last_name, phone, membership_status,
	stripe_customer_id, created_at, updated_at`

type MemberRepo struct{ db *sqlx.DB }

func NewMemberRepo(db *sqlx.DB) *MemberRepo { return &MemberRepo{db: db} }

// Create hashes password, inserts m and fills its ID.  Email is
// normalised before insert.
func (r *MemberRepo) Create(ctx context.Context, m *model.Member, password string, cost int) error {
	m.Email = normEmail(m.Email)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	m.PasswordHash = hash
	if m.MembershipStatus == "" {
		m.MembershipStatus = model.MembershipActive
	}
	const q = `INSERT INTO members (email, password_hash, first_name, last_name, phone, membership_status)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at, updated_at`
	err = r.db.QueryRowxContext(ctx, q, m.Email, m.PasswordHash, m.FirstName, m.LastName, m.Phone, m.MembershipStatus).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return ErrEmailExists
	}
	return err
}

// GetByEmail fetches a member by normalised email.
func (r *MemberRepo) GetByEmail(ctx context.Context, email string) (*model.Member, error) {
	var m model.Member
	if err := r.db.GetContext(ctx, &m, `SELECT `+memberCols+` FROM members WHERE email=$1`, normEmail(email)); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// GetByID fetches a member by id.
func (r *MemberRepo) GetByID(ctx context.Context, id uint64) (*model.Member, error) {
	var m model.Member
	if err := r.db.GetContext(ctx, &m, `SELECT `+memberCols+` FROM members WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// MemberFilter narrows List.  Query matches email and names.
type MemberFilter struct {
	Query  string
	Status string
	Limit  int
	Offset int
}

// List returns one page of members ordered by id and the total match count.
func (r *MemberRepo) List(ctx context.Context, f MemberFilter) ([]model.Member, int, error) {
	var w where
	if q := strings.TrimSpace(f.Query); q != "" {
		w.add(`(email ILIKE ? OR first_name || ' ' || last_name ILIKE ?)`, "%"+q+"%", "%"+q+"%")
	}
	if f.Status != "" {
		w.add(`membership_status = ?`, f.Status)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM members WHERE `+w.sql(), w.args...); err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	q := `SELECT ` + memberCols + ` FROM members WHERE ` + w.sql() +
		` ORDER BY id LIMIT ` + w.next(f.Limit) + ` OFFSET ` + w.next(f.Offset)
	out := []model.Member{}
	err := r.db.SelectContext(ctx, &out, q, w.args...)
	return out, total, err
}

// Update writes the profile columns of m.
func (r *MemberRepo) Update(ctx context.Context, m *model.Member) error {
	m.Email = normEmail(m.Email)
	const q = `UPDATE members SET email=$1, first_name=$2, last_name=$3, phone=$4, membership_status=$5,
		updated_at=now() WHERE id=$6 RETURNING updated_at`
	err := r.db.QueryRowxContext(ctx, q, m.Email, m.FirstName, m.LastName, m.Phone, m.MembershipStatus, m.ID).
		Scan(&m.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return ErrEmailExists
	}
	return notFound(err)
}

// SetStripeCustomerID remembers the gateway customer for later checkouts.
func (r *MemberRepo) SetStripeCustomerID(ctx context.Context, id uint64, customerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE members SET stripe_customer_id=$1, updated_at=now() WHERE id=$2`, customerID, id)
	return err
}

// Delete removes a member.  Members with registrations cannot be removed
// while an event still references them through attended bookings.
func (r *MemberRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE id=$1`, id)
	if database.IsForeignKeyViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func normEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
