package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/utils"
)

// AccessCookie is the HTTP-only cookie carrying the access token.
const AccessCookie = "access_token"

// JWTAuth verifies the access token and stores the caller on the context.
// The token is read from the access_token cookie, falling back to an
// "Authorization: Bearer" header.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := AccessTokenFrom(c)
			if raw == "" {
				return deny(c, http.StatusUnauthorized, "authentication required")
			}
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return deny(c, http.StatusUnauthorized, "invalid or expired token")
			}
			role := model.Role(claims.Role)
			if !role.Valid() {
				return deny(c, http.StatusUnauthorized, "invalid or expired token")
			}
			c.Set(CallerKey, model.Caller{ID: claims.Subject, Role: role})
			return next(c)
		}
	}
}

// AccessTokenFrom returns the raw access token of the request, or "".
func AccessTokenFrom(c echo.Context) string {
	if ck, err := c.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
