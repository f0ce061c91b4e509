package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/model"
)

// RequireRole rejects callers whose role is not in roles.  It must run after
// JWTAuth.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, ok := CallerFrom(c)
			if !ok {
				return deny(c, http.StatusUnauthorized, "authentication required")
			}
			if _, ok := allowed[caller.Role]; !ok {
				return deny(c, http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}
