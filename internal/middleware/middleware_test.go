package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/config"
	"github.com/iliyamo/runclub-portal/internal/utils"
)

const secret = "test-secret"

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, id uint64) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, "ana@example.com", 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func whoami(c echo.Context) error {
	id, ok := MemberID(c)
	return c.JSON(http.StatusOK, echo.Map{"id": id, "ok": ok, "admin": c.Get(KeyIsAdmin) == true})
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/p", whoami, JWTAuth(secret))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/p", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_token")

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = serve(e, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_token")

	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", bearer(t, 7))
	rec = serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":7`)
}

func TestOptionalJWT(t *testing.T) {
	e := echo.New()
	e.GET("/p", whoami, OptionalJWT(secret))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/p", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
}

type admins map[uint64]bool

func (a admins) IsAdmin(_ context.Context, id uint64) (bool, error) {
	if id == 99 {
		return false, errors.New("db down")
	}
	return a[id], nil
}

func TestRequireAdmin(t *testing.T) {
	log := zerolog.Nop()
	e := echo.New()
	e.GET("/a", whoami, JWTAuth(secret), RequireAdmin(admins{1: true}, &log))

	cases := []struct {
		id   uint64
		code int
	}{
		{1, http.StatusOK},
		{2, http.StatusForbidden},
		{99, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/a", nil)
		req.Header.Set("Authorization", bearer(t, tc.id))
		rec := serve(e, req)
		assert.Equal(t, tc.code, rec.Code, "member %d", tc.id)
		if tc.code == http.StatusOK {
			assert.Contains(t, rec.Body.String(), `"admin":true`)
		}
	}

	assert.Panics(t, func() { RequireAdmin(nil, &log) })
}

func TestRequestIDPropagates(t *testing.T) {
	log := zerolog.Nop()
	e := echo.New()
	e.Use(RequestID(), RequestLogger(&log))
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, c.Get("request_id").(string)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec := serve(e, req)
	assert.Equal(t, "abc-123", rec.Header().Get(headerRequestID))
	assert.Equal(t, "abc-123", rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, rec.Header().Get(headerRequestID), 36)
}

func TestRequestLoggerRendersErrors(t *testing.T) {
	var buf strings.Builder
	log := zerolog.New(&buf)
	e := echo.New()
	e.Use(RequestLogger(&log))
	e.GET("/boom", func(c echo.Context) error {
		return &echo.HTTPError{Code: http.StatusInternalServerError, Message: echo.Map{"error": "error interno", "code": "internal"}, Internal: errors.New("pq: broken")}
	})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"internal"`)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "pq: broken")
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/coupons/validate", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/coupons/validate")
	c.Set(KeyMemberID, uint64(5))

	cfg := config.RateLimitConfig{Prefix: "rl"}
	assert.Equal(t, "rl:ip:10.0.0.1:user:5:route:POST /v1/coupons/validate", rateKey(cfg, c))
	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.1", rateKey(cfg, c))
	cfg.KeyStrategy = "user_route"
	assert.Equal(t, "rl:user:5:route:POST /v1/coupons/validate", rateKey(cfg, c))
}

func TestParseBucket(t *testing.T) {
	res, err := parseBucket([]interface{}{int64(0), int64(0), int64(1500)})
	require.NoError(t, err)
	assert.False(t, res.allowed)
	assert.Equal(t, int64(1500), res.retry.Milliseconds())

	_, err = parseBucket("nope")
	assert.Error(t, err)
}

func TestPassThroughWithoutRedis(t *testing.T) {
	log := zerolog.Nop()
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, &log),
		NewRedisCache(config.CacheConfig{Enabled: true}, nil, &log))

	for i := 0; i < 3; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
	assert.NoError(t, PurgeCache(context.Background(), nil, "rc:cache"))
}

func TestCachePayload(t *testing.T) {
	h := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, h, []byte(`{"items":[]}`))
	require.NoError(t, err)

	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, `{"items":[]}`, string(body))

	_, _, _, ok = decodePayload(bs[:5])
	assert.False(t, ok)
}

func TestCaptureWriterDropsOversizedBody(t *testing.T) {
	cw := &captureWriter{ResponseWriter: httptest.NewRecorder(), limit: 4}
	_, _ = cw.Write([]byte("abc"))
	assert.Equal(t, "abc", cw.buf.String())
	_, _ = cw.Write([]byte("def"))
	assert.True(t, cw.truncated)
	assert.Zero(t, cw.buf.Len())
}

func TestCacheKeyIgnoresQueryForRouteStrategy(t *testing.T) {
	e := echo.New()
	ctx := func(target string) echo.Context {
		return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	}
	cfg := config.CacheConfig{Prefix: "rc:cache"}
	assert.NotEqual(t, cacheKey(cfg, ctx("/v1/events?past=true")), cacheKey(cfg, ctx("/v1/events")))
	cfg.KeyStrategy = "route"
	assert.Equal(t, cacheKey(cfg, ctx("/v1/events?past=true")), cacheKey(cfg, ctx("/v1/events")))
	assert.True(t, strings.HasPrefix(cacheKey(cfg, ctx("/v1/events")), "rc:cache:"))
}
