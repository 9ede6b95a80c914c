package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// ReservationHandler exposes the reservation queue.
type ReservationHandler struct {
	Engine *circulation.Engine
}

// NewReservationHandler panics if engine is nil.
func NewReservationHandler(engine *circulation.Engine) *ReservationHandler {
	if engine == nil {
		panic("nil engine passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: engine}
}

type reserveRequest struct {
	BookID uint64 `json:"book_id" validate:"required,gt=0"`
}

// Create handles POST /v1/reservations.  Reserving is only possible
// while no copy is on the shelf.
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body reserveRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	r, err := h.Engine.CreateReservation(c.Request().Context(), userID, body.BookID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// Cancel handles DELETE /v1/reservations/:id.  The engine enforces that
// members cancel only their own reservations.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c, "reservation")
	}
	r, err := h.Engine.CancelReservation(c.Request().Context(), id, a)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Fulfill handles POST /v1/reservations/:id/fulfill (librarian): the
// member picks up the held copy and a loan is opened.
func (h *ReservationHandler) Fulfill(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c, "reservation")
	}
	loan, err := h.Engine.FulfillReservation(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, loan)
}

// ListMine handles GET /v1/my/reservations.
func (h *ReservationHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	rs, err := h.Engine.ListUserReservations(c.Request().Context(), userID, c.QueryParam("active") == "true")
	if err != nil {
		return writeError(c, err)
	}
	if rs == nil {
		rs = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": rs})
}

// Queue handles GET /v1/books/:id/queue (librarian).
func (h *ReservationHandler) Queue(c echo.Context) error {
	bookID, ok := pathID(c, "id")
	if !ok {
		return badID(c, "book")
	}
	q, err := h.Engine.BookQueue(c.Request().Context(), bookID)
	if err != nil {
		return writeError(c, err)
	}
	if q == nil {
		q = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"book_id": bookID, "queue": q})
}
