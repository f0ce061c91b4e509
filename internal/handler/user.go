package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/logger"
	"github.com/iliyamo/foodbridge/internal/repository"
	"github.com/iliyamo/foodbridge/internal/service"
)

// UserHandler serves the /user routes.
type UserHandler struct {
	Users  *repository.UserRepo
	Engine *service.Engine
	Log    *logger.Logger
}

func NewUserHandler(u *repository.UserRepo, e *service.Engine, log *logger.Logger) *UserHandler {
	if u == nil || e == nil {
		panic("nil dependency passed to NewUserHandler")
	}
	return &UserHandler{Users: u, Engine: e, Log: log}
}

// Me handles GET /user/me.
func (h *UserHandler) Me(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, caller.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return failure(c, http.StatusNotFound, "user not found")
	}
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"user": u})
}

// Relationships handles GET /user/me/relationships: the ids of the
// donations, requests and deliveries tied to the caller.
func (h *UserHandler) Relationships(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	rel, err := h.Engine.Relationships(ctx, caller)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"relationships": rel})
}
