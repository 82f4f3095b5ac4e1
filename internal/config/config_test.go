package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_TOKENS", "-3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	t.Setenv("RATE_LIMIT_ENABLED", "off")

	cfg := LoadRateLimitConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 1, cfg.RefillTokens)
	assert.Equal(t, 10*time.Second, cfg.TTL)
	assert.Equal(t, "ip_user_route", cfg.KeyStrategy)
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", " get, head ,,")
	t.Setenv("CACHE_TTL", "not-a-duration")

	cfg := LoadCacheConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, map[string]bool{"GET": true, "HEAD": true}, cfg.Methods)
	assert.Equal(t, 30*time.Second, cfg.TTL)
	assert.Equal(t, "rc:cache", cfg.Prefix)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitList(" https://a.example ,https://b.example,"))
	assert.Nil(t, splitList(""))
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("X_INT", "twelve")
	t.Setenv("X_BOOL", "maybe")
	assert.Equal(t, 5, envInt("X_INT", 5))
	assert.True(t, envBool("X_BOOL", true))
	assert.Equal(t, "d", envStr("X_UNSET_FOR_TEST", "d"))
}

func loadRequired(t *testing.T) {
	for k, v := range map[string]string{
		"DB_USER":                "club",
		"DB_HOST":                "localhost",
		"DB_NAME":                "club",
		"JWT_SECRET":             "s3cret",
		"ACCESS_TOKEN_TTL_MIN":   "15",
		"REFRESH_TOKEN_TTL_DAYS": "30",
		"STRIPE_SECRET_KEY":      "sk_test_x",
		"STRIPE_WEBHOOK_SECRET":  "whsec_x",
		"CHECKOUT_SUCCESS_URL":   "https://club.example/ok?s={CHECKOUT_SESSION_ID}",
		"CHECKOUT_CANCEL_URL":    "https://club.example/cancel",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	loadRequired(t)
	t.Setenv("CHECKOUT_HOLD_MIN", "10")
	t.Setenv("CORS_ORIGINS", "https://club.example")

	cfg := Load()
	assert.Equal(t, "5432", cfg.DBPort)
	assert.Equal(t, 15, cfg.AccessTTLMin)
	assert.Equal(t, 10*time.Minute, cfg.CheckoutHold)
	assert.Equal(t, int64(50), cfg.MinPaymentCents)
	assert.Equal(t, []string{"https://club.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.StravaEnabled())

	t.Setenv("STRAVA_CLIENT_ID", "1")
	t.Setenv("STRAVA_CLIENT_SECRET", "x")
	t.Setenv("STRAVA_REDIRECT_URL", "https://club.example/cb")
	assert.True(t, Load().StravaEnabled())
}
