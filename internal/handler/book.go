package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// BookHandler exposes the resource ledger: availability for everyone,
// registration and copy counts for librarians.
type BookHandler struct {
	Engine *circulation.Engine
}

// NewBookHandler panics if engine is nil.
func NewBookHandler(engine *circulation.Engine) *BookHandler {
	if engine == nil {
		panic("nil engine passed to NewBookHandler")
	}
	return &BookHandler{Engine: engine}
}

type registerBookRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	TotalCopies uint32 `json:"total_copies" validate:"required,gt=0"`
	Active      *bool  `json:"active"`
}

type adjustCopiesRequest struct {
	Delta int `json:"delta" validate:"required"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// Register handles POST /v1/books.  Books are active unless the body
// says otherwise.
func (h *BookHandler) Register(c echo.Context) error {
	var body registerBookRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	ctx := c.Request().Context()
	b, err := h.Engine.RegisterBook(ctx, body.Title, body.TotalCopies)
	if err != nil {
		return writeError(c, err)
	}
	if body.Active != nil && !*body.Active {
		if b, err = h.Engine.SetBookActive(ctx, b.ID, false); err != nil {
			return writeError(c, err)
		}
	}
	return c.JSON(http.StatusCreated, b)
}

// Get handles GET /v1/books/:id.
func (h *BookHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c, "book")
	}
	b, err := h.Engine.GetBook(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// List handles GET /v1/books?limit=&offset=.  limit defaults to 50 and
// is capped at 200.
func (h *BookHandler) List(c echo.Context) error {
	limit := queryUint(c, "limit", 50)
	if limit == 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := queryUint(c, "offset", 0)
	books, err := h.Engine.ListBooks(c.Request().Context(), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	if books == nil {
		books = []model.Book{}
	}
	return c.JSON(http.StatusOK, echo.Map{"books": books, "limit": limit, "offset": offset})
}

// AdjustCopies handles POST /v1/books/:id/copies with a signed delta.
func (h *BookHandler) AdjustCopies(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c, "book")
	}
	var body adjustCopiesRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	b, err := h.Engine.AdjustCopies(c.Request().Context(), id, body.Delta)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// SetActive handles PATCH /v1/books/:id.
func (h *BookHandler) SetActive(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c, "book")
	}
	var body setActiveRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	b, err := h.Engine.SetBookActive(c.Request().Context(), id, *body.Active)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func queryUint(c echo.Context, name string, def uint) uint {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return def
	}
	return uint(n)
}
