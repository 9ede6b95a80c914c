package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// LoanHandler exposes checkout, check-in and renewal.  Identity and role
// checks are done by middleware; ownership of a loan is checked here.
type LoanHandler struct {
	Engine *circulation.Engine
}

// NewLoanHandler panics if engine is nil.
func NewLoanHandler(engine *circulation.Engine) *LoanHandler {
	if engine == nil {
		panic("nil engine passed to NewLoanHandler")
	}
	return &LoanHandler{Engine: engine}
}

type checkoutRequest struct {
	BookID uint64 `json:"book_id" validate:"required,gt=0"`
	Days   int    `json:"days" validate:"gte=0"`
}

type checkinRequest struct {
	Condition model.LoanStatus `json:"condition" validate:"required,oneof=RETURNED DAMAGED LOST"`
}

type renewRequest struct {
	Days int `json:"days" validate:"gte=0"`
}

// loanView adds the derived days-until-due figure to a loan.
type loanView struct {
	model.Loan
	DaysUntilDue *int `json:"days_until_due,omitempty"`
}

func (h *LoanHandler) view(l model.Loan) loanView {
	v := loanView{Loan: l}
	if l.Status.IsActive() {
		d := h.Engine.DaysUntilDue(l)
		v.DaysUntilDue = &d
	}
	return v
}

// Checkout handles POST /v1/loans.  The caller borrows one copy of
// book_id; days is optional and capped by the member's plan.
func (h *LoanHandler) Checkout(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body checkoutRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	loan, err := h.Engine.Checkout(c.Request().Context(), userID, body.BookID, body.Days)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, h.view(loan))
}

// Checkin handles POST /v1/loans/:id/checkin (librarian).
func (h *LoanHandler) Checkin(c echo.Context) error {
	loanID, ok := pathID(c, "id")
	if !ok {
		return badID(c, "loan")
	}
	var body checkinRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	loan, err := h.Engine.Checkin(c.Request().Context(), loanID, body.Condition)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.view(loan))
}

// Renew handles POST /v1/loans/:id/renew.  Members may renew only their
// own loans.
func (h *LoanHandler) Renew(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return unauthorized(c)
	}
	loanID, ok := pathID(c, "id")
	if !ok {
		return badID(c, "loan")
	}
	var body renewRequest
	if err := bind(c, &body); err != nil {
		return badRequest(c, err)
	}
	ctx := c.Request().Context()
	if !a.Librarian {
		loan, err := h.Engine.GetLoan(ctx, loanID)
		if err != nil {
			return writeError(c, err)
		}
		if loan.UserID != a.UserID {
			return forbidden(c)
		}
	}
	loan, err := h.Engine.RenewCheckout(ctx, loanID, body.Days)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.view(loan))
}

// Get handles GET /v1/loans/:id for the borrower or a librarian.
func (h *LoanHandler) Get(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return unauthorized(c)
	}
	loanID, ok := pathID(c, "id")
	if !ok {
		return badID(c, "loan")
	}
	loan, err := h.Engine.GetLoan(c.Request().Context(), loanID)
	if err != nil {
		return writeError(c, err)
	}
	if !a.Librarian && loan.UserID != a.UserID {
		return forbidden(c)
	}
	return c.JSON(http.StatusOK, h.view(loan))
}

// ListMine handles GET /v1/my/loans.  ?active=true limits the listing
// to loans still out.
func (h *LoanHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var loans []model.Loan
	if c.QueryParam("active") == "true" {
		loans, err = h.Engine.ListUserActiveLoans(c.Request().Context(), userID)
	} else {
		loans, err = h.Engine.ListLoans(c.Request().Context(), model.LoanFilter{UserID: userID})
	}
	if err != nil {
		return writeError(c, err)
	}
	out := make([]loanView, 0, len(loans))
	for _, l := range loans {
		out = append(out, h.view(l))
	}
	return c.JSON(http.StatusOK, echo.Map{"loans": out})
}
