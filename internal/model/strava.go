package model

import "time"

// StravaAccount stores the OAuth tokens of a member's linked athlete.
type StravaAccount struct {
	MemberID     uint64    `db:"member_id"`
	AthleteID    int64     `db:"athlete_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// StravaActivity is one synced run.  ID is the Strava activity id.
type StravaActivity struct {
	ID          int64     `db:"id" json:"id"`
	MemberID    uint64    `db:"member_id" json:"member_id"`
	Name        string    `db:"name" json:"name"`
	SportType   string    `db:"sport_type" json:"sport_type"`
	DistanceM   float64   `db:"distance_m" json:"distance_m"`
	MovingTimeS int       `db:"moving_time_s" json:"moving_time_s"`
	StartDate   time.Time `db:"start_date" json:"start_date"`
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank        int     `db:"-" json:"rank"`
	MemberID    uint64  `db:"member_id" json:"member_id"`
	Name        string  `db:"name" json:"name"`
	DistanceM   float64 `db:"distance_m" json:"distance_m"`
	MovingTimeS int64   `db:"moving_time_s" json:"moving_time_s"`
	Activities  int     `db:"activities" json:"activities"`
}
