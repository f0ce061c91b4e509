package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/logger"
	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/service"
)

// RequestHandler serves the /request routes.
type RequestHandler struct {
	Engine *service.Engine
	Log    *logger.Logger
}

func NewRequestHandler(e *service.Engine, log *logger.Logger) *RequestHandler {
	if e == nil {
		panic("nil engine passed to NewRequestHandler")
	}
	return &RequestHandler{Engine: e, Log: log}
}

type addressReq struct {
	Text string  `json:"text" validate:"max=500"`
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// claimReq is the body of a claim; both fields may be omitted.
type claimReq struct {
	DeliveryAddress addressReq `json:"delivery_address"`
	Notes           string     `json:"notes" validate:"max=1000"`
}

func (r claimReq) input() service.RequestInput {
	return service.RequestInput{
		DeliveryAddress: model.Address{Text: r.DeliveryAddress.Text, Lat: r.DeliveryAddress.Lat, Lng: r.DeliveryAddress.Lng},
		Notes:           r.Notes,
	}
}

type newRequestReq struct {
	DonationID string `json:"donation_id" validate:"required"`
	claimReq
}

// Create handles POST /request/new: the caller expresses interest in a
// donation without claiming it.
func (h *RequestHandler) Create(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req newRequestReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	rq, err := h.Engine.ExpressInterest(ctx, caller, strings.TrimSpace(req.DonationID), req.input())
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusCreated, "request created", echo.Map{"request": rq})
}

// Mine handles GET /request/mine.
func (h *RequestHandler) Mine(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	list, err := h.Engine.ListRecipientRequests(ctx, caller)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"requests": list, "count": len(list)})
}

// Get handles GET /request/:id.
func (h *RequestHandler) Get(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	rq, err := h.Engine.GetRequest(ctx, caller, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"request": rq})
}

// UpdateStatus handles POST /request/update/:id.
func (h *RequestHandler) UpdateStatus(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req statusReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	rq, err := h.Engine.UpdateRequestStatus(ctx, caller, c.Param("id"), model.RequestStatus(strings.ToUpper(req.Status)))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "request updated", echo.Map{"request": rq})
}
