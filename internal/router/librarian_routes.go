package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// RegisterLibrarian registers desk and administration endpoints under
// /v1.  All routes require the LIBRARIAN role.
func RegisterLibrarian(e *echo.Echo, h Handlers, jwtSecret string, extra ...echo.MiddlewareFunc) {
	mw := append([]echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleLibrarian),
	}, extra...)
	g := e.Group("/v1", mw...)

	// ---- Desk ----
	g.POST("/loans/:id/checkin", h.Loans.Checkin)
	g.POST("/reservations/:id/fulfill", h.Reservations.Fulfill)
	g.GET("/books/:id/queue", h.Reservations.Queue)

	// ---- Ledger ----
	g.POST("/books", h.Books.Register)
	g.PATCH("/books/:id", h.Books.SetActive)
	g.POST("/books/:id/copies", h.Books.AdjustCopies)

	// ---- Fines ----
	g.POST("/fines", h.Fines.Create)
	g.POST("/fines/:id/waive", h.Fines.Waive)
	g.POST("/fines/:id/payments", h.Fines.Pay)
}
