// Package router registers the HTTP routes and their middleware.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/handler"
	"github.com/iliyamo/foodbridge/internal/middleware"
	"github.com/iliyamo/foodbridge/internal/model"
)

// Deps carries everything the routes need.  RateLimit and Cache may be nil.
type Deps struct {
	DB         *sql.DB
	JWTSecret  string
	Auth       *handler.AuthHandler
	Users      *handler.UserHandler
	Donations  *handler.DonationHandler
	Requests   *handler.RequestHandler
	Deliveries *handler.DeliveryHandler
	RateLimit  echo.MiddlewareFunc
	Cache      echo.MiddlewareFunc
}

func (d Deps) limit() echo.MiddlewareFunc {
	if d.RateLimit == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return d.RateLimit
}

func (d Deps) cache() echo.MiddlewareFunc {
	if d.Cache == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return d.Cache
}

// Register mounts every route on e.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	RegisterAuth(e, d)
	RegisterUser(e, d)
	RegisterDonation(e, d)
	RegisterRequest(e, d)
	RegisterDelivery(e, d)
}

// RegisterAuth mounts the session endpoints.  None of them require an
// existing session; logout accepts one.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/auth", d.limit())
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)
	g.POST("/refresh", d.Auth.Refresh)
	g.POST("/logout", d.Auth.Logout)
}

func RegisterUser(e *echo.Echo, d Deps) {
	g := e.Group("/user", middleware.JWTAuth(d.JWTSecret), d.limit())
	g.GET("/me", d.Users.Me)
	g.GET("/me/relationships", d.Users.Relationships)
}

func RegisterDonation(e *echo.Echo, d Deps) {
	g := e.Group("/donation", middleware.JWTAuth(d.JWTSecret), d.limit())
	g.POST("/new", d.Donations.Create, middleware.RequireRole(model.RoleDonor))
	g.GET("/", d.Donations.List, d.cache())
	g.GET("/mine", d.Donations.Mine, middleware.RequireRole(model.RoleDonor))
	g.GET("/:id", d.Donations.Get)
	g.PUT("/update/:id/status", d.Donations.UpdateStatus)
	g.POST("/:id/claim", d.Donations.Claim, middleware.RequireRole(model.RoleRecipient))
}

func RegisterRequest(e *echo.Echo, d Deps) {
	g := e.Group("/request", middleware.JWTAuth(d.JWTSecret), d.limit())
	g.POST("/new", d.Requests.Create, middleware.RequireRole(model.RoleRecipient))
	g.GET("/mine", d.Requests.Mine, middleware.RequireRole(model.RoleRecipient))
	g.GET("/:id", d.Requests.Get)
	g.POST("/update/:id", d.Requests.UpdateStatus, middleware.RequireRole(model.RoleRecipient))
}

func RegisterDelivery(e *echo.Echo, d Deps) {
	g := e.Group("/delivery", middleware.JWTAuth(d.JWTSecret), d.limit())
	g.GET("/", d.Deliveries.ListUnassigned, middleware.RequireRole(model.RoleVolunteer, model.RoleAdmin), d.cache())
	g.GET("/mine", d.Deliveries.Mine, middleware.RequireRole(model.RoleVolunteer))
	g.GET("/:id", d.Deliveries.Get)
	g.GET("/:id/events", d.Deliveries.Events)
	g.PUT("/:id", d.Deliveries.Update, middleware.RequireRole(model.RoleDonor, model.RoleVolunteer))
	g.PUT("/:id/accept", d.Deliveries.Accept, middleware.RequireRole(model.RoleVolunteer))
}
