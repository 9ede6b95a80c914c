package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// RegisterMember registers the self-service endpoints under /v1.  Every
// authenticated role may use them; handlers restrict members to their
// own loans and reservations.  extra is applied after authentication
// (the rate limiter keys on the user id).
func RegisterMember(e *echo.Echo, h Handlers, jwtSecret string, extra ...echo.MiddlewareFunc) {
	mw := append([]echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleMember, model.RoleLibrarian),
	}, extra...)
	g := e.Group("/v1", mw...)

	g.POST("/loans", h.Loans.Checkout)
	g.GET("/loans/:id", h.Loans.Get)
	g.POST("/loans/:id/renew", h.Loans.Renew)
	g.GET("/my/loans", h.Loans.ListMine)

	g.POST("/reservations", h.Reservations.Create)
	g.DELETE("/reservations/:id", h.Reservations.Cancel)
	g.GET("/my/reservations", h.Reservations.ListMine)

	g.GET("/my/fines", h.Fines.ListMine)
}
