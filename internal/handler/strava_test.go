package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/service"
	"github.com/iliyamo/runclub-portal/internal/utils"
)

type stubBoard struct {
	err    error
	period string
	limit  int
	code   string
	state  string
}

func (s *stubBoard) ConnectURL(id uint64) (string, error) {
	return "https://www.strava.com/oauth/authorize?member=1", s.err
}

func (s *stubBoard) Callback(_ context.Context, code, state string) (uint64, error) {
	s.code, s.state = code, state
	return 1, s.err
}

func (s *stubBoard) SyncMember(context.Context, uint64) (int, error) { return 3, s.err }

func (s *stubBoard) SyncAll(context.Context) (*service.SyncReport, error) {
	return &service.SyncReport{Members: 2, Activities: 9, Errors: []string{}}, s.err
}

func (s *stubBoard) Leaderboard(_ context.Context, period string, limit int) ([]model.LeaderboardEntry, error) {
	s.period, s.limit = period, limit
	if s.err != nil {
		return nil, s.err
	}
	return []model.LeaderboardEntry{}, nil
}

func TestRanking(t *testing.T) {
	b := &stubBoard{}
	h := NewStravaHandler(b)
	rec := newCall(http.MethodGet, "/v1/leaderboard", "").run(t, h.Ranking)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.PeriodMonth, decodeBody(t, rec)["period"])
	assert.Equal(t, 50, b.limit)

	rec = newCall(http.MethodGet, "/v1/leaderboard?period=week&limit=5", "").run(t, h.Ranking)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "week", b.period)
	assert.Equal(t, 5, b.limit)

	b.err = service.ErrInvalidPeriod
	rec = newCall(http.MethodGet, "/v1/leaderboard?period=decade", "").run(t, h.Ranking)
	requireCode(t, rec, http.StatusBadRequest, "invalid_period")
}

func TestConnectDisabled(t *testing.T) {
	h := NewStravaHandler(&stubBoard{err: service.ErrStravaDisabled})
	rec := newCall(http.MethodGet, "/v1/strava/connect", "").as(1).run(t, h.Connect)
	requireCode(t, rec, http.StatusServiceUnavailable, "strava_disabled")
}

func TestCallback(t *testing.T) {
	b := &stubBoard{}
	h := NewStravaHandler(b)

	rec := newCall(http.MethodGet, "/v1/strava/callback?error=access_denied", "").run(t, h.Callback)
	requireCode(t, rec, http.StatusBadRequest, "strava_denied")

	rec = newCall(http.MethodGet, "/v1/strava/callback?code=abc", "").run(t, h.Callback)
	requireCode(t, rec, http.StatusBadRequest, "invalid_query")

	rec = newCall(http.MethodGet, "/v1/strava/callback?code=abc&state=xyz", "").run(t, h.Callback)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", b.code)
	assert.Equal(t, "xyz", b.state)

	b.err = utils.ErrInvalidToken
	rec = newCall(http.MethodGet, "/v1/strava/callback?code=abc&state=forged", "").run(t, h.Callback)
	requireCode(t, rec, http.StatusUnauthorized, "invalid_token")
}

func TestMemberSync(t *testing.T) {
	h := NewStravaHandler(&stubBoard{})
	rec := newCall(http.MethodPost, "/v1/strava/sync", "").as(1).run(t, h.Sync)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["activities"])
}
