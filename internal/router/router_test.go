package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/handler"
	"github.com/iliyamo/runclub-portal/internal/utils"
)

type admins map[uint64]bool

func (a admins) IsAdmin(_ context.Context, id uint64) (bool, error) { return a[id], nil }

const secret = "router-secret"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	log := zerolog.Nop()
	e := New(&log, nil)
	Register(e, Handlers{
		Auth:          &handler.AuthHandler{},
		Events:        &handler.EventHandler{},
		Registrations: &handler.RegistrationHandler{},
		Me:            &handler.MeHandler{},
		Coupons:       &handler.CouponHandler{},
		Reviews:       &handler.ReviewHandler{},
		Webhook:       &handler.WebhookHandler{},
		Strava:        &handler.StravaHandler{},
		Admin:         &handler.AdminHandler{Log: &log},
	}, Options{JWTSecret: secret, Admins: admins{1: true}})
	return e
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMemberRoutesNeedToken(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/v1/me", "/v1/me/registrations", "/v1/strava/connect"} {
		rec := serve(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAdminRoutesNeedAdmin(t *testing.T) {
	srv := newTestServer(t)

	rec := serve(srv, http.MethodGet, "/v1/admin/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	member, err := utils.NewAccessToken(secret, 2, "runner@club.es", 5)
	require.NoError(t, err)
	rec = serve(srv, http.MethodGet, "/v1/admin/events", member.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownPathIs404(t *testing.T) {
	rec := serve(newTestServer(t), http.MethodGet, "/v1/nothing-here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/events", nil)
	req.Header.Set("Origin", "https://club.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	newTestServer(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutesRegistered(t *testing.T) {
	log := zerolog.Nop()
	e := New(&log, nil)
	Register(e, Handlers{
		Auth: &handler.AuthHandler{}, Events: &handler.EventHandler{}, Registrations: &handler.RegistrationHandler{},
		Me: &handler.MeHandler{}, Coupons: &handler.CouponHandler{}, Reviews: &handler.ReviewHandler{},
		Webhook: &handler.WebhookHandler{}, Strava: &handler.StravaHandler{}, Admin: &handler.AdminHandler{Log: &log},
	}, Options{JWTSecret: secret, Admins: admins{}})

	got := map[string]bool{}
	for _, r := range e.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"POST /v1/auth/register",
		"POST /v1/auth/refresh-access",
		"GET /v1/events/:slug",
		"POST /v1/events/:slug/guest-registrations",
		"POST /v1/events/:slug/registrations",
		"DELETE /v1/me/registrations/:ref",
		"POST /v1/webhooks/stripe",
		"GET /v1/leaderboard",
		"POST /v1/admin/checkin",
		"DELETE /v1/admin/checkin/:ref",
		"POST /v1/admin/reconcile/emails",
		"POST /v1/admin/holds/expire",
		"POST /v1/admin/leaderboard/sync",
		"GET /v1/admin/coupons/:id/usages",
	} {
		assert.True(t, got[want], want)
	}
}
