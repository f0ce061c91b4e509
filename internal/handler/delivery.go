package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/logger"
	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/service"
)

// DeliveryHandler serves the /delivery routes.
type DeliveryHandler struct {
	Engine *service.Engine
	Log    *logger.Logger
}

func NewDeliveryHandler(e *service.Engine, log *logger.Logger) *DeliveryHandler {
	if e == nil {
		panic("nil engine passed to NewDeliveryHandler")
	}
	return &DeliveryHandler{Engine: e, Log: log}
}

// deliveryPatchReq is a partial update; absent fields are left unchanged.
type deliveryPatchReq struct {
	Status        *string    `json:"status"`
	PickupAddress *geoReq    `json:"pickup_address"`
	PickupTime    *time.Time `json:"pickup_time"`
	ExpiryTime    *time.Time `json:"expiry_time"`
	Description   *string    `json:"description" validate:"omitempty,max=2000"`
	Notes         *string    `json:"notes" validate:"omitempty,max=1000"`
}

func (r deliveryPatchReq) patch() service.DeliveryPatch {
	p := service.DeliveryPatch{
		PickupTime:  r.PickupTime,
		ExpiryTime:  r.ExpiryTime,
		Description: r.Description,
		Notes:       r.Notes,
	}
	if r.Status != nil {
		st := model.DeliveryStatus(strings.ToUpper(strings.TrimSpace(*r.Status)))
		p.Status = &st
	}
	if r.PickupAddress != nil {
		g := r.PickupAddress.point()
		p.PickupAddress = &g
	}
	return p
}

// ListUnassigned handles GET /delivery/.  An empty pool is reported as 404.
func (h *DeliveryHandler) ListUnassigned(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	list, err := h.Engine.ListUnassignedDeliveries(ctx, caller)
	if err != nil {
		return fail(c, h.Log, err)
	}
	if len(list) == 0 {
		return failure(c, http.StatusNotFound, "no unassigned deliveries")
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"deliveries": list, "count": len(list)})
}

// Mine handles GET /delivery/mine.
func (h *DeliveryHandler) Mine(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	list, err := h.Engine.ListVolunteerDeliveries(ctx, caller)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"deliveries": list, "count": len(list)})
}

// Get handles GET /delivery/:id and returns the joined view.
func (h *DeliveryHandler) Get(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	detail, err := h.Engine.GetDelivery(ctx, caller, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"delivery": detail})
}

// Events handles GET /delivery/:id/events.
func (h *DeliveryHandler) Events(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	evs, err := h.Engine.DeliveryEvents(ctx, caller, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"events": evs})
}

// Update handles PUT /delivery/:id.
func (h *DeliveryHandler) Update(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req deliveryPatchReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	detail, err := h.Engine.UpdateDelivery(ctx, caller, c.Param("id"), req.patch())
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "delivery updated", echo.Map{"delivery": detail})
}

// Accept handles PUT /delivery/:id/accept.
func (h *DeliveryHandler) Accept(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	detail, err := h.Engine.AcceptDeliveryTask(ctx, caller, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "delivery accepted", echo.Map{"delivery": detail})
}
