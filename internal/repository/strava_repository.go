package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/runclub-portal/internal/database"
	"github.com/iliyamo/runclub-portal/internal/model"
)

type StravaRepo struct{ db *sqlx.DB }

func NewStravaRepo(db *sqlx.DB) *StravaRepo { return &StravaRepo{db: db} }

// SaveAccount inserts or refreshes the linked account of a member.  An
// athlete already linked to another member yields ErrConflict.
func (r *StravaRepo) SaveAccount(ctx context.Context, a *model.StravaAccount) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO strava_accounts (member_id, athlete_id, access_token, refresh_token, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (member_id) DO UPDATE SET athlete_id=EXCLUDED.athlete_id, access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token, expires_at=EXCLUDED.expires_at, updated_at=now()`,
		a.MemberID, a.AthleteID, a.AccessToken, a.RefreshToken, a.ExpiresAt)
	if database.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetAccount returns the linked account of a member.
func (r *StravaRepo) GetAccount(ctx context.Context, memberID uint64) (*model.StravaAccount, error) {
	var a model.StravaAccount
	if err := r.db.GetContext(ctx, &a, `SELECT member_id, athlete_id, access_token, refresh_token, expires_at,
		created_at, updated_at FROM strava_accounts WHERE member_id=$1`, memberID); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ListAccounts returns every linked account.
func (r *StravaRepo) ListAccounts(ctx context.Context) ([]model.StravaAccount, error) {
	out := []model.StravaAccount{}
	err := r.db.SelectContext(ctx, &out, `SELECT member_id, athlete_id, access_token, refresh_token, expires_at,
		created_at, updated_at FROM strava_accounts ORDER BY member_id`)
	return out, err
}

// UpsertActivities stores activities, replacing previously synced copies.
func (r *StravaRepo) UpsertActivities(ctx context.Context, acts []model.StravaActivity) (int, error) {
	if len(acts) == 0 {
		return 0, nil
	}
	n := 0
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, a := range acts {
			if _, err := tx.NamedExecContext(ctx, `INSERT INTO strava_activities
				(id, member_id, name, sport_type, distance_m, moving_time_s, start_date)
				VALUES (:id, :member_id, :name, :sport_type, :distance_m, :moving_time_s, :start_date)
				ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, sport_type=EXCLUDED.sport_type,
					distance_m=EXCLUDED.distance_m, moving_time_s=EXCLUDED.moving_time_s`, a); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Leaderboard ranks members by distance run since the given time, ties
// broken by the shorter moving time.
func (r *StravaRepo) Leaderboard(ctx context.Context, since time.Time, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	out := []model.LeaderboardEntry{}
	err := r.db.SelectContext(ctx, &out, `SELECT a.member_id, trim(m.first_name || ' ' || m.last_name) AS name,
		sum(a.distance_m) AS distance_m, sum(a.moving_time_s) AS moving_time_s, count(*) AS activities
		FROM strava_activities a JOIN members m ON m.id = a.member_id
		WHERE a.start_date >= $1
		GROUP BY a.member_id, m.first_name, m.last_name
		ORDER BY distance_m DESC, moving_time_s ASC
		LIMIT $2`, since, limit)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, err
}
