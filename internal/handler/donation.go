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

// DonationHandler serves the /donation routes.
type DonationHandler struct {
	Engine *service.Engine
	Log    *logger.Logger
}

func NewDonationHandler(e *service.Engine, log *logger.Logger) *DonationHandler {
	if e == nil {
		panic("nil engine passed to NewDonationHandler")
	}
	return &DonationHandler{Engine: e, Log: log}
}

type geoReq struct {
	Name string  `json:"name" validate:"required,max=255"`
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (g geoReq) point() model.GeoPoint {
	return model.GeoPoint{Name: strings.TrimSpace(g.Name), Lat: g.Lat, Lng: g.Lng}
}

type donationReq struct {
	FoodType string `json:"food_type" validate:"required"`
	Quantity struct {
		Amount float64 `json:"amount" validate:"gt=0"`
		Unit   string  `json:"unit" validate:"required"`
	} `json:"quantity"`
	PickupAddress geoReq    `json:"pickup_address"`
	PickupTime    time.Time `json:"pickup_time"`
	ExpiryTime    time.Time `json:"expiry_time"`
	Description   string    `json:"description" validate:"max=2000"`
}

type statusReq struct {
	Status string `json:"status" validate:"required"`
}

// Create handles POST /donation/new.
func (h *DonationHandler) Create(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req donationReq
	if err := bind(c, &req); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	d, err := h.Engine.CreateDonation(ctx, caller, service.NewDonation{
		FoodType:      model.FoodType(strings.ToUpper(req.FoodType)),
		Quantity:      model.Quantity{Amount: req.Quantity.Amount, Unit: model.QuantityUnit(strings.ToUpper(req.Quantity.Unit))},
		PickupAddress: req.PickupAddress.point(),
		PickupTime:    req.PickupTime,
		ExpiryTime:    req.ExpiryTime,
		Description:   req.Description,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusCreated, "donation created", echo.Map{"donation": d})
}

// List handles GET /donation/?status=&limit=&offset=.
func (h *DonationHandler) List(c echo.Context) error {
	if _, err := callerOf(c); err != nil {
		return fail(c, h.Log, err)
	}
	limit, offset, err := pageParams(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var status *model.DonationStatus
	if s := strings.TrimSpace(c.QueryParam("status")); s != "" {
		st := model.DonationStatus(strings.ToUpper(s))
		status = &st
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	list, err := h.Engine.ListDonations(ctx, status, limit, offset)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"donations": list, "count": len(list)})
}

// Mine handles GET /donation/mine.
func (h *DonationHandler) Mine(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	list, err := h.Engine.ListDonorDonations(ctx, caller)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"donations": list, "count": len(list)})
}

// Get handles GET /donation/:id.
func (h *DonationHandler) Get(c echo.Context) error {
	if _, err := callerOf(c); err != nil {
		return fail(c, h.Log, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	d, err := h.Engine.GetDonation(ctx, c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "ok", echo.Map{"donation": d})
}

// UpdateStatus handles PUT /donation/update/:id/status.  Only CANCELLED
// and EXPIRED can be requested; every other donation status follows its
// delivery.
func (h *DonationHandler) UpdateStatus(c echo.Context) error {
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

	d, err := h.Engine.UpdateDonationStatus(ctx, caller, c.Param("id"), model.DonationStatus(strings.ToUpper(req.Status)))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "donation updated", echo.Map{"donation": d})
}

// Claim handles POST /donation/:id/claim.  The body is optional when the
// caller already expressed interest with a delivery address.
func (h *DonationHandler) Claim(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req claimReq
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return fail(c, h.Log, err)
		}
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	res, err := h.Engine.ClaimDonation(ctx, caller, c.Param("id"), req.input())
	if err != nil {
		return fail(c, h.Log, err)
	}
	return respond(c, http.StatusOK, "donation claimed", echo.Map{
		"donation": res.Donation,
		"request":  res.Request,
		"delivery": res.Delivery,
	})
}
