package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/handler"
)

// Handlers bundles the HTTP handlers registered under /v1.
type Handlers struct {
	Loans        *handler.LoanHandler
	Reservations *handler.ReservationHandler
	Fines        *handler.FineHandler
	Books        *handler.BookHandler
}

// RegisterRoutes registers routes that do not require authentication:
// the health check, Prometheus metrics and book availability.
func RegisterRoutes(e *echo.Echo, h Handlers) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/v1/books", h.Books.List)
	e.GET("/v1/books/:id", h.Books.Get)
}

// NewHandlers builds every handler over one engine.
func NewHandlers(engine *circulation.Engine) Handlers {
	return Handlers{
		Loans:        handler.NewLoanHandler(engine),
		Reservations: handler.NewReservationHandler(engine),
		Fines:        handler.NewFineHandler(engine),
		Books:        handler.NewBookHandler(engine),
	}
}
