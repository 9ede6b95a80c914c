package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// FineHandler exposes the fine ledger.
type FineHandler struct {
	Engine *circulation.Engine
}

// NewFineHandler panics if engine is nil.
func NewFineHandler(engine *circulation.Engine) *FineHandler {
	if engine == nil {
		panic("nil engine passed to NewFineHandler")
	}
	return &FineHandler{Engine: engine}
}

type createFineRequest struct {
	LoanID uint64          `json:"loan_id" validate:"required,gt=0"`
	Type   model.FineType  `json:"type" validate:"required,oneof=OVERDUE LOST DAMAGED"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=255"`
}

type waiveRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type paymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	TransactionRef string          `json:"transaction_ref" validate:"required,max=64"`
}

// Create handles POST /v1/fines (librarian).
func (h *FineHandler) Create(c echo.Context) error {
	var body createFineRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	f, err := h.Engine.CreateFine(c.Request().Context(), body.LoanID, body.Type, body.Amount, body.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, f)
}

// Waive handles POST /v1/fines/:id/waive.  The calling librarian is
// recorded as the waiver.
func (h *FineHandler) Waive(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c, "fine")
	}
	var body waiveRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	f, err := h.Engine.WaiveFine(c.Request().Context(), id, adminID, body.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// Pay handles POST /v1/fines/:id/payments.  Replaying a transaction_ref
// already applied returns the fine unchanged.
func (h *FineHandler) Pay(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badID(c, "fine")
	}
	var body paymentRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	f, err := h.Engine.MarkFineAsPaid(c.Request().Context(), id, body.Amount, body.TransactionRef)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// ListMine handles GET /v1/my/fines with the outstanding balance.
func (h *FineHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	fines, err := h.Engine.ListUserFines(ctx, userID)
	if err != nil {
		return writeError(c, err)
	}
	balance, err := h.Engine.OutstandingBalance(ctx, userID)
	if err != nil {
		return writeError(c, err)
	}
	if fines == nil {
		fines = []model.Fine{}
	}
	return c.JSON(http.StatusOK, echo.Map{"fines": fines, "outstanding": balance})
}
