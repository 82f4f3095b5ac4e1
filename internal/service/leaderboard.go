package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/strava"
	"github.com/iliyamo/runclub-portal/internal/utils"
)

// StravaAPI is the part of the Strava client the service uses.
type StravaAPI interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*strava.Link, error)
	Activities(ctx context.Context, tok *oauth2.Token, after time.Time) ([]strava.Activity, *oauth2.Token, error)
}

// StravaStore persists linked accounts and activities.
// *repository.StravaRepo implements it.
type StravaStore interface {
	SaveAccount(ctx context.Context, a *model.StravaAccount) error
	GetAccount(ctx context.Context, memberID uint64) (*model.StravaAccount, error)
	ListAccounts(ctx context.Context) ([]model.StravaAccount, error)
	UpsertActivities(ctx context.Context, acts []model.StravaActivity) (int, error)
	Leaderboard(ctx context.Context, since time.Time, limit int) ([]model.LeaderboardEntry, error)
}

// Leaderboard periods.
const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

const stateTTL = 10 * time.Minute

// LeaderboardService links Strava accounts, syncs runs and ranks members.
// api may be nil when the integration is not configured; only the ranking
// keeps working then.
type LeaderboardService struct {
	api    StravaAPI
	store  StravaStore
	secret string
	log    *zerolog.Logger
	now    func() time.Time
}

func NewLeaderboardService(api StravaAPI, store StravaStore, stateSecret string, log *zerolog.Logger) *LeaderboardService {
	return &LeaderboardService{api: api, store: store, secret: stateSecret, log: log, now: time.Now}
}

// ConnectURL returns the consent page URL for memberID with a signed state.
func (s *LeaderboardService) ConnectURL(memberID uint64) (string, error) {
	if s.api == nil {
		return "", ErrStravaDisabled
	}
	state, err := utils.NewStateToken(s.secret, memberID, stateTTL)
	if err != nil {
		return "", err
	}
	return s.api.AuthCodeURL(state), nil
}

// Callback completes the OAuth flow and stores the account.
func (s *LeaderboardService) Callback(ctx context.Context, code, state string) (uint64, error) {
	if s.api == nil {
		return 0, ErrStravaDisabled
	}
	memberID, err := utils.ParseStateToken(s.secret, state)
	if err != nil {
		return 0, err
	}
	link, err := s.api.Exchange(ctx, code)
	if err != nil {
		return 0, err
	}
	acc := &model.StravaAccount{
		MemberID:     memberID,
		AthleteID:    link.AthleteID,
		AccessToken:  link.Token.AccessToken,
		RefreshToken: link.Token.RefreshToken,
		ExpiresAt:    link.Token.Expiry,
	}
	if err := s.store.SaveAccount(ctx, acc); err != nil {
		return 0, err
	}
	s.log.Info().Uint64("member_id", memberID).Int64("athlete_id", link.AthleteID).Msg("strava account linked")
	return memberID, nil
}

// SyncReport counts the result of a sync.
type SyncReport struct {
	Members    int      `json:"members"`
	Activities int      `json:"activities"`
	Errors     []string `json:"errors"`
}

// SyncMember downloads the member's runs of the current year.
func (s *LeaderboardService) SyncMember(ctx context.Context, memberID uint64) (int, error) {
	if s.api == nil {
		return 0, ErrStravaDisabled
	}
	acc, err := s.store.GetAccount(ctx, memberID)
	if err != nil {
		return 0, err
	}
	return s.sync(ctx, acc)
}

// SyncAll syncs every linked account, collecting per-member failures.
func (s *LeaderboardService) SyncAll(ctx context.Context) (*SyncReport, error) {
	if s.api == nil {
		return nil, ErrStravaDisabled
	}
	accs, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	rep := &SyncReport{Errors: []string{}}
	for i := range accs {
		n, err := s.sync(ctx, &accs[i])
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("member %d: %v", accs[i].MemberID, err))
			continue
		}
		rep.Members++
		rep.Activities += n
	}
	s.log.Info().Int("members", rep.Members).Int("activities", rep.Activities).Int("errors", len(rep.Errors)).
		Msg("strava sync finished")
	return rep, nil
}

func (s *LeaderboardService) sync(ctx context.Context, acc *model.StravaAccount) (int, error) {
	tok := &oauth2.Token{
		AccessToken:  acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		Expiry:       acc.ExpiresAt,
		TokenType:    "Bearer",
	}
	acts, cur, err := s.api.Activities(ctx, tok, PeriodStart(PeriodYear, s.now()))
	if err != nil {
		return 0, err
	}
	if cur != nil && cur.AccessToken != acc.AccessToken {
		acc.AccessToken, acc.ExpiresAt = cur.AccessToken, cur.Expiry
		if cur.RefreshToken != "" {
			acc.RefreshToken = cur.RefreshToken
		}
		if err := s.store.SaveAccount(ctx, acc); err != nil {
			return 0, fmt.Errorf("save refreshed token: %w", err)
		}
	}
	runs := make([]model.StravaActivity, 0, len(acts))
	for _, a := range acts {
		if !a.IsRun() {
			continue
		}
		sport := a.SportType
		if sport == "" {
			sport = a.Type
		}
		runs = append(runs, model.StravaActivity{
			ID:          a.ID,
			MemberID:    acc.MemberID,
			Name:        a.Name,
			SportType:   sport,
			DistanceM:   a.Distance,
			MovingTimeS: a.MovingTime,
			StartDate:   a.StartDate,
		})
	}
	return s.store.UpsertActivities(ctx, runs)
}

// Leaderboard ranks members for period.
func (s *LeaderboardService) Leaderboard(ctx context.Context, period string, limit int) ([]model.LeaderboardEntry, error) {
	if period == "" {
		period = PeriodMonth
	}
	if period != PeriodWeek && period != PeriodMonth && period != PeriodYear {
		return nil, ErrInvalidPeriod
	}
	return s.store.Leaderboard(ctx, PeriodStart(period, s.now()), limit)
}

// PeriodStart returns the UTC start of the week (Monday), month or year
// containing t.
func PeriodStart(period string, t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
}
