package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/config"
	"github.com/iliyamo/foodbridge/internal/logger"
	"github.com/iliyamo/foodbridge/internal/middleware"
	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/repository"
	"github.com/iliyamo/foodbridge/internal/utils"
)

// RefreshCookie carries the raw refresh token.  It is scoped to /auth so it
// is only sent to the token endpoints.
const RefreshCookie = "refresh_token"

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Users  *repository.UserRepo
	Tokens *repository.TokenRepo
	Log    *logger.Logger
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, t *repository.TokenRepo, log *logger.Logger) *AuthHandler {
	if u == nil || t == nil {
		panic("nil repository passed to NewAuthHandler")
	}
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,oneof=DONOR VOLUNTEER RECIPIENT"`
	Name     struct {
		First string `json:"first" validate:"required,max=100"`
		Last  string `json:"last" validate:"max=100"`
	} `json:"name"`
	Phone   string `json:"phone" validate:"max=32"`
	Address string `json:"address" validate:"max=255"`
}

type loginReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// Register creates a user and signs them in.  ADMIN accounts cannot be
// self-registered.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return fail(c, h.Log, err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Name:         model.Name{First: strings.TrimSpace(req.Name.First), Last: strings.TrimSpace(req.Name.Last)},
		Phone:        strings.TrimSpace(req.Phone),
		Role:         model.Role(req.Role),
		Address:      strings.TrimSpace(req.Address),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.Users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return failure(c, http.StatusConflict, "email already registered")
		}
		return fail(c, h.Log, err)
	}
	h.Log.Info("user registered", "user_id", u.ID, "role", u.Role)
	return h.signIn(ctx, c, u, http.StatusCreated, "registered")
}

// Login verifies credentials and issues a new token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return failure(c, http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return fail(c, h.Log, err)
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return failure(c, http.StatusUnauthorized, "invalid credentials")
	}
	return h.signIn(ctx, c, u, http.StatusOK, "logged in")
}

// Refresh validates a refresh token, revokes it and issues a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := h.refreshFrom(c)
	if raw == "" {
		return failure(c, http.StatusUnauthorized, "refresh token required")
	}
	hash := utils.HashRefreshRaw(raw)
	ctx, cancel := reqCtx(c)
	defer cancel()

	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return failure(c, http.StatusUnauthorized, "invalid refresh token")
	}
	if err != nil {
		return fail(c, h.Log, err)
	}
	u, err := h.Users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
		return failure(c, http.StatusUnauthorized, "invalid refresh token")
	}
	if err != nil {
		return fail(c, h.Log, err)
	}
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		return fail(c, h.Log, err)
	}
	return h.signIn(ctx, c, u, http.StatusOK, "token refreshed")
}

// Logout revokes the presented refresh token.  Without one, a valid session
// token revokes every refresh token of its user.  Cookies are cleared in
// both cases.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	if raw := h.refreshFrom(c); raw != "" {
		hash := utils.HashRefreshRaw(raw)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return failure(c, http.StatusUnauthorized, "invalid refresh token")
			}
			return fail(c, h.Log, err)
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return fail(c, h.Log, err)
		}
		h.clearCookies(c)
		return respond(c, http.StatusOK, "logged out", nil)
	}

	access := middleware.AccessTokenFrom(c)
	if access == "" {
		return failure(c, http.StatusBadRequest, "provide a refresh token or a session")
	}
	claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, access)
	if err != nil {
		return failure(c, http.StatusUnauthorized, "invalid or expired token")
	}
	if err := h.Tokens.RevokeAllForUser(ctx, claims.Subject); err != nil {
		return fail(c, h.Log, err)
	}
	h.clearCookies(c)
	return respond(c, http.StatusOK, "logged out of all sessions", nil)
}

// refreshFrom reads the refresh token from its cookie or the JSON body.
func (h *AuthHandler) refreshFrom(c echo.Context) string {
	if ck, err := c.Cookie(RefreshCookie); err == nil && strings.TrimSpace(ck.Value) != "" {
		return strings.TrimSpace(ck.Value)
	}
	var req refreshReq
	if c.Request().ContentLength != 0 {
		_ = c.Bind(&req)
	}
	return strings.TrimSpace(req.RefreshToken)
}

// signIn issues a token pair for u, sets both cookies and writes the
// response.
func (h *AuthHandler) signIn(ctx context.Context, c echo.Context, u *model.User, code int, msg string) error {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, string(u.Role), h.Cfg.AccessTTLMin)
	if err != nil {
		return fail(c, h.Log, err)
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return fail(c, h.Log, err)
	}
	c.SetCookie(h.cookie(middleware.AccessCookie, access.Token, "/", access.Exp))
	c.SetCookie(h.cookie(RefreshCookie, refresh.Raw, "/auth", refresh.Exp))
	return respond(c, code, msg, echo.Map{
		"user":    u,
		"access":  tokenPart{Token: access.Token, Expires: access.Exp},
		"refresh": tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	})
}

func (h *AuthHandler) cookie(name, value, path string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.Cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) clearCookies(c echo.Context) {
	for _, ck := range []*http.Cookie{
		h.cookie(middleware.AccessCookie, "", "/", time.Unix(0, 0)),
		h.cookie(RefreshCookie, "", "/auth", time.Unix(0, 0)),
	} {
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}
