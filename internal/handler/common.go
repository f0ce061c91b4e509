// Package handler implements the HTTP endpoints.  Every response uses the
// envelope {"success": bool, "message": string, ...payload}.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/logger"
	"github.com/iliyamo/foodbridge/internal/middleware"
	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/service"
)

// requestTimeout bounds the store work of a single request.
const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// respond writes a success envelope with payload merged in.
func respond(c echo.Context, code int, msg string, payload echo.Map) error {
	body := echo.Map{"success": true, "message": msg}
	for k, v := range payload {
		body[k] = v
	}
	return c.JSON(code, body)
}

func failure(c echo.Context, code int, msg string) error {
	return c.JSON(code, echo.Map{"success": false, "message": msg})
}

// fail maps an error from the engine or the stores to its HTTP status.
// Unexpected errors are logged and reported without detail.
func fail(c echo.Context, log *logger.Logger, err error) error {
	var ve *service.ValidationError
	var tf *service.TransactionFailure
	switch {
	case errors.Is(err, errUnauthenticated):
		return failure(c, http.StatusUnauthorized, err.Error())
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": ve.Error(), "field": ve.Field})
	case errors.Is(err, service.ErrInvalidStatus):
		return failure(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return failure(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return failure(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, service.ErrAlreadyAssigned),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrStaleWrite):
		return failure(c, http.StatusConflict, err.Error())
	case errors.As(err, &tf):
		log.Error("transaction failed", "op", tf.Op, "path", c.Path(), "err", tf.Err)
		return failure(c, http.StatusInternalServerError, "transaction failed, no changes were applied")
	}
	log.Error("request failed", "path", c.Path(), "err", err)
	return failure(c, http.StatusInternalServerError, "internal error")
}

var errUnauthenticated = errors.New("authentication required")

// callerOf returns the authenticated caller set by JWTAuth.
func callerOf(c echo.Context) (model.Caller, error) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		return model.Caller{}, errUnauthenticated
	}
	return caller, nil
}

// bind decodes the JSON body into dst and runs the registered validator.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return &service.ValidationError{Field: "body", Message: "malformed request body"}
	}
	return c.Validate(dst)
}

// pageParams reads limit and offset, defaulting to 50 and 0.
func pageParams(c echo.Context) (limit, offset int, err error) {
	limit, offset = 50, 0
	if s := c.QueryParam("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 || limit > 100 {
			return 0, 0, &service.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
		}
	}
	if s := c.QueryParam("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, &service.ValidationError{Field: "offset", Message: "must be zero or greater"}
		}
	}
	return limit, offset, nil
}
