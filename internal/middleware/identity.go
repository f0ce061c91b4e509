package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/model"
)

// CallerKey is the echo.Context key under which JWTAuth stores the
// authenticated model.Caller.
const CallerKey = "caller"

// CallerFrom returns the caller set by JWTAuth.  ok is false on routes that
// are not behind JWTAuth.
func CallerFrom(c echo.Context) (model.Caller, bool) {
	caller, ok := c.Get(CallerKey).(model.Caller)
	if !ok || caller.ID == "" {
		return model.Caller{}, false
	}
	return caller, true
}

// callerID is used for rate-limit and cache keys and request logs.
func callerID(c echo.Context) string {
	if caller, ok := CallerFrom(c); ok {
		return caller.ID
	}
	return "anon"
}

// deny writes the standard failure envelope.
func deny(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]any{"success": false, "message": msg})
}

