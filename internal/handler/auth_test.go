package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/config"
	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
	"github.com/iliyamo/runclub-portal/internal/utils"
)

type memMembers struct {
	byID map[uint64]*model.Member
	next uint64
}

func newMemMembers() *memMembers { return &memMembers{byID: map[uint64]*model.Member{}} }

func (m *memMembers) Create(_ context.Context, mem *model.Member, password string, cost int) error {
	mem.Email = strings.ToLower(mem.Email)
	for _, x := range m.byID {
		if x.Email == mem.Email {
			return repository.ErrEmailExists
		}
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	m.next++
	mem.ID, mem.PasswordHash, mem.MembershipStatus = m.next, hash, model.MembershipActive
	cp := *mem
	m.byID[mem.ID] = &cp
	return nil
}

func (m *memMembers) GetByEmail(_ context.Context, email string) (*model.Member, error) {
	for _, x := range m.byID {
		if x.Email == strings.ToLower(strings.TrimSpace(email)) {
			cp := *x
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memMembers) GetByID(_ context.Context, id uint64) (*model.Member, error) {
	x, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *x
	return &cp, nil
}

func (m *memMembers) Update(_ context.Context, mem *model.Member) error {
	if _, ok := m.byID[mem.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *mem
	m.byID[mem.ID] = &cp
	return nil
}

type memTokens struct {
	owner   map[string]uint64
	revoked map[string]bool
}

func newMemTokens() *memTokens {
	return &memTokens{owner: map[string]uint64{}, revoked: map[string]bool{}}
}

func (m *memTokens) StoreRefresh(_ context.Context, id uint64, hash string, _ time.Time) error {
	m.owner[hash] = id
	return nil
}

func (m *memTokens) ValidateRefresh(_ context.Context, hash string) (uint64, error) {
	id, ok := m.owner[hash]
	if !ok || m.revoked[hash] {
		return 0, repository.ErrNotFound
	}
	return id, nil
}

func (m *memTokens) RevokeByHash(_ context.Context, hash string) error {
	m.revoked[hash] = true
	return nil
}

func (m *memTokens) RevokeAllForMember(_ context.Context, id uint64) error {
	for h, owner := range m.owner {
		if owner == id {
			m.revoked[h] = true
		}
	}
	return nil
}

func newAuth() (*AuthHandler, *memTokens) {
	cfg := config.Config{JWTSecret: "test-secret", AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4}
	tokens := newMemTokens()
	return NewAuthHandler(cfg, newMemMembers(), tokens), tokens
}

const signup = `{"email":"Ana@Club.es","password":"longenough","first_name":"Ana"}`

func TestRegisterIssuesTokens(t *testing.T) {
	h, _ := newAuth()
	rec := newCall(http.MethodPost, "/v1/auth/register", signup).run(t, h.Register)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	member := body["member"].(map[string]any)
	assert.Equal(t, "ana@club.es", member["email"])
	assert.NotContains(t, member, "password_hash")

	access := body["access"].(map[string]any)["token"].(string)
	id, email, err := utils.ParseAccessToken("test-secret", access)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, "ana@club.es", email)
}

func TestRegisterRejects(t *testing.T) {
	h, _ := newAuth()
	rec := newCall(http.MethodPost, "/v1/auth/register", `{"email":"nope","password":"longenough","first_name":"A"}`).
		run(t, h.Register)
	requireCode(t, rec, http.StatusBadRequest, "validation")

	rec = newCall(http.MethodPost, "/v1/auth/register", `{"email":"a@b.es","password":"short","first_name":"A"}`).
		run(t, h.Register)
	requireCode(t, rec, http.StatusBadRequest, "validation")

	require.Equal(t, http.StatusCreated, newCall(http.MethodPost, "/", signup).run(t, h.Register).Code)
	rec = newCall(http.MethodPost, "/", signup).run(t, h.Register)
	requireCode(t, rec, http.StatusConflict, "email_exists")
}

func TestLogin(t *testing.T) {
	h, _ := newAuth()
	require.Equal(t, http.StatusCreated, newCall(http.MethodPost, "/", signup).run(t, h.Register).Code)

	rec := newCall(http.MethodPost, "/v1/auth/login", `{"email":"ana@club.es","password":"longenough"}`).run(t, h.Login)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = newCall(http.MethodPost, "/v1/auth/login", `{"email":"ana@club.es","password":"wrong-one"}`).run(t, h.Login)
	requireCode(t, rec, http.StatusUnauthorized, "invalid_credentials")

	rec = newCall(http.MethodPost, "/v1/auth/login", `{"email":"who@club.es","password":"longenough"}`).run(t, h.Login)
	requireCode(t, rec, http.StatusUnauthorized, "invalid_credentials")
}

func TestRefreshRotatesToken(t *testing.T) {
	h, _ := newAuth()
	rec := newCall(http.MethodPost, "/", signup).run(t, h.Register)
	raw := decodeBody(t, rec)["refresh"].(map[string]any)["token"].(string)
	body := `{"refresh_token":"` + raw + `"}`

	rec = newCall(http.MethodPost, "/v1/auth/refresh", body).run(t, h.Refresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := decodeBody(t, rec)["refresh"].(map[string]any)["token"].(string)
	assert.NotEqual(t, raw, fresh)

	// the old token was revoked by the rotation
	rec = newCall(http.MethodPost, "/v1/auth/refresh", body).run(t, h.Refresh)
	requireCode(t, rec, http.StatusUnauthorized, "invalid_token")

	rec = newCall(http.MethodPost, "/v1/auth/refresh-access", `{"refresh_token":"`+fresh+`"}`).run(t, h.RefreshAccess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "access")
}

func TestLogout(t *testing.T) {
	h, tokens := newAuth()
	rec := newCall(http.MethodPost, "/", signup).run(t, h.Register)
	body := decodeBody(t, rec)
	raw := body["refresh"].(map[string]any)["token"].(string)
	access := body["access"].(map[string]any)["token"].(string)

	rec = newCall(http.MethodPost, "/v1/auth/logout", "").run(t, h.Logout)
	requireCode(t, rec, http.StatusBadRequest, "invalid_body")

	rec = newCall(http.MethodPost, "/v1/auth/logout", "").with("Authorization", "Bearer "+access).run(t, h.Logout)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, tokens.revoked[utils.HashRefreshRaw(raw)])

	rec = newCall(http.MethodPost, "/v1/auth/logout", `{"refresh_token":"`+raw+`"}`).run(t, h.Logout)
	requireCode(t, rec, http.StatusUnauthorized, "invalid_token")
}
