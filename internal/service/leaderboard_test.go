package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
	"github.com/iliyamo/runclub-portal/internal/strava"
)

type fakeStrava struct {
	acts    []strava.Activity
	fresh   *oauth2.Token
	after   time.Time
	failFor string
}

func (f *fakeStrava) AuthCodeURL(state string) string {
	return "https://strava.example/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeStrava) Exchange(_ context.Context, code string) (*strava.Link, error) {
	if code != "good" {
		return nil, errors.New("bad code")
	}
	return &strava.Link{AthleteID: 42, Token: &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)}}, nil
}

func (f *fakeStrava) Activities(_ context.Context, tok *oauth2.Token, after time.Time) ([]strava.Activity, *oauth2.Token, error) {
	if tok.AccessToken == f.failFor {
		return nil, nil, errors.New("unauthorized")
	}
	f.after = after
	if f.fresh != nil {
		return f.acts, f.fresh, nil
	}
	return f.acts, tok, nil
}

type memStrava struct {
	accounts map[uint64]model.StravaAccount
	acts     map[int64]model.StravaActivity
}

func (m *memStrava) SaveAccount(_ context.Context, a *model.StravaAccount) error {
	m.accounts[a.MemberID] = *a
	return nil
}

func (m *memStrava) GetAccount(_ context.Context, id uint64) (*model.StravaAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *memStrava) ListAccounts(context.Context) ([]model.StravaAccount, error) {
	var out []model.StravaAccount
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStrava) UpsertActivities(_ context.Context, acts []model.StravaActivity) (int, error) {
	for _, a := range acts {
		m.acts[a.ID] = a
	}
	return len(acts), nil
}

func (m *memStrava) Leaderboard(context.Context, time.Time, int) ([]model.LeaderboardEntry, error) {
	return []model.LeaderboardEntry{}, nil
}

func newMemStrava() *memStrava {
	return &memStrava{accounts: map[uint64]model.StravaAccount{}, acts: map[int64]model.StravaActivity{}}
}

func TestConnectAndCallback(t *testing.T) {
	api, store := &fakeStrava{}, newMemStrava()
	svc := NewLeaderboardService(api, store, "secret", &nopLog)

	link, err := svc.ConnectURL(7)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	state := u.Query().Get("state")

	memberID, err := svc.Callback(context.Background(), "good", state)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), memberID)
	assert.Equal(t, int64(42), store.accounts[7].AthleteID)

	_, err = svc.Callback(context.Background(), "good", "tampered")
	assert.Error(t, err)
	_, err = svc.Callback(context.Background(), "bad", state)
	assert.Error(t, err)
}

func TestSyncKeepsRunsAndStoresRefreshedToken(t *testing.T) {
	api := &fakeStrava{
		acts: []strava.Activity{
			{ID: 1, SportType: "Run", Distance: 10000, MovingTime: 3000},
			{ID: 2, SportType: "Ride", Distance: 40000, MovingTime: 5000},
			{ID: 3, Type: "Run", Distance: 5000, MovingTime: 1500},
		},
		fresh: &oauth2.Token{AccessToken: "a2", Expiry: time.Now().Add(6 * time.Hour)},
	}
	store := newMemStrava()
	store.accounts[7] = model.StravaAccount{MemberID: 7, AccessToken: "a1", RefreshToken: "r1"}
	svc := NewLeaderboardService(api, store, "secret", &nopLog)

	n, err := svc.SyncMember(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, store.acts, int64(1))
	assert.NotContains(t, store.acts, int64(2))
	assert.Equal(t, "Run", store.acts[3].SportType)
	assert.Equal(t, "a2", store.accounts[7].AccessToken)
	assert.Equal(t, "r1", store.accounts[7].RefreshToken)
	assert.Equal(t, 1, api.after.YearDay())
}

func TestSyncAllCollectsFailures(t *testing.T) {
	api := &fakeStrava{failFor: "bad"}
	store := newMemStrava()
	store.accounts[1] = model.StravaAccount{MemberID: 1, AccessToken: "ok"}
	store.accounts[2] = model.StravaAccount{MemberID: 2, AccessToken: "bad"}
	rep, err := NewLeaderboardService(api, store, "secret", &nopLog).SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Members)
	assert.Len(t, rep.Errors, 1)
}

func TestLeaderboardDisabledAndPeriods(t *testing.T) {
	svc := NewLeaderboardService(nil, newMemStrava(), "secret", &nopLog)
	_, err := svc.ConnectURL(1)
	assert.ErrorIs(t, err, ErrStravaDisabled)
	_, err = svc.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrStravaDisabled)

	_, err = svc.Leaderboard(context.Background(), "decade", 10)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	rows, err := svc.Leaderboard(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPeriodStart(t *testing.T) {
	// Thursday
	now := time.Date(2026, time.October, 15, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodWeek, now))
	assert.Equal(t, time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodMonth, now))
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodYear, now))

	sunday := time.Date(2026, time.October, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC), PeriodStart(PeriodWeek, sunday))
}
