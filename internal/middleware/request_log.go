package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/logger"
)

// RequestLogger logs one line per request with its method, route, status
// and duration, plus the caller id on authenticated routes.
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			if log == nil {
				return nil
			}

			status := c.Response().Status
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			fields := []interface{}{
				"method", strings.ToUpper(c.Request().Method),
				"path", path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if caller, ok := CallerFrom(c); ok {
				fields = append(fields, "user_id", caller.ID)
			}
			switch {
			case status >= 500:
				log.Error("HTTP request", fields...)
			case status >= 400:
				log.Warn("HTTP request", fields...)
			default:
				log.Info("HTTP request", fields...)
			}
			return nil
		}
	}
}
