package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/config"
	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/utils"
)

// AuthMembers is the member storage used by sign-up and login.
type AuthMembers interface {
	Create(ctx context.Context, m *model.Member, password string, cost int) error
	GetByEmail(ctx context.Context, email string) (*model.Member, error)
	GetByID(ctx context.Context, id uint64) (*model.Member, error)
}

// RefreshTokens stores hashed refresh tokens.
type RefreshTokens interface {
	StoreRefresh(ctx context.Context, memberID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForMember(ctx context.Context, memberID uint64) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg     config.Config
	Members AuthMembers
	Tokens  RefreshTokens
}

func NewAuthHandler(cfg config.Config, m AuthMembers, t RefreshTokens) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Members: m, Tokens: t}
}

// ----- DTOs -----

type registerReq struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"max=40"`
}
type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	Member  *model.Member `json:"member"`
	Access  tokenPart     `json:"access"`
	Refresh tokenPart     `json:"refresh"`
}

// Register creates a member and returns a token pair immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	m := &model.Member{
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Phone:     strings.TrimSpace(req.Phone),
	}
	if err := h.Members.Create(ctx, m, req.Password, h.Cfg.BcryptCost); err != nil {
		return fail(c, err)
	}
	resp, err := h.issue(ctx, m)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login verifies credentials and returns a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	m, err := h.Members.GetByEmail(ctx, req.Email)
	if isNotFound(err) {
		return fail(c, errBadCredentials)
	}
	if err != nil {
		return fail(c, err)
	}
	if !utils.VerifyPassword(m.PasswordHash, req.Password) {
		return fail(c, errBadCredentials)
	}
	resp, err := h.issue(ctx, m)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh validates by hash, revokes the old token and issues a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))
	ctx, cancel := reqCtx(c)
	defer cancel()

	m, err := h.refreshOwner(ctx, hash)
	if err != nil {
		return fail(c, err)
	}
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		return fail(c, err)
	}
	resp, err := h.issue(ctx, m)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RefreshAccess returns a new access token without rotating the refresh
// token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	m, err := h.refreshOwner(ctx, utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken)))
	if err != nil {
		return fail(c, err)
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, m.ID, m.Email, h.Cfg.AccessTTLMin)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Logout revokes one refresh token when given in the body, or every token
// of the caller when only a bearer access token is sent.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)
	raw := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if raw != "" {
		hash := utils.HashRefreshRaw(raw)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			if isNotFound(err) {
				return fail(c, utils.ErrInvalidToken)
			}
			return fail(c, err)
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}

	bearer, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "envía un token de acceso o un refresh_token",
			"code":  "invalid_body",
		})
	}
	id, _, err := utils.ParseAccessToken(h.Cfg.JWTSecret, bearer)
	if err != nil {
		return fail(c, err)
	}
	if err := h.Tokens.RevokeAllForMember(ctx, id); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) refreshOwner(ctx context.Context, hash string) (*model.Member, error) {
	id, err := h.Tokens.ValidateRefresh(ctx, hash)
	if isNotFound(err) {
		return nil, utils.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	m, err := h.Members.GetByID(ctx, id)
	if isNotFound(err) {
		return nil, utils.ErrInvalidToken
	}
	return m, err
}

func (h *AuthHandler) issue(ctx context.Context, m *model.Member) (*authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, m.ID, m.Email, h.Cfg.AccessTTLMin)
	if err != nil {
		return nil, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return nil, err
	}
	if err := h.Tokens.StoreRefresh(ctx, m.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &authResp{
		Member:  m,
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}
