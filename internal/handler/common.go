package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// Validator adapts go-playground/validator to echo so handlers can call
// c.Validate on bound request bodies.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a Validator with the default tag set.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Validate implements echo.Validator.
func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

// getUserID extracts the user_id from echo.Context and converts it to uint64
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64: // numeric JWT claims decode as float64
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

func isLibrarian(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == model.RoleLibrarian
}

// actor builds the engine's view of the caller.
func actor(c echo.Context) (circulation.Actor, error) {
	uid, err := getUserID(c)
	if err != nil {
		return circulation.Actor{}, err
	}
	return circulation.Actor{UserID: uid, Librarian: isLibrarian(c)}, nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// bind decodes and validates the request body into v.
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return c.Validate(v)
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "message": err.Error()})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
}

func badID(c echo.Context, what string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid " + what + " id"})
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(k circulation.ErrorKind) int {
	switch k {
	case circulation.KindNotFound:
		return http.StatusNotFound
	case circulation.KindResourceUnavailable, circulation.KindInvalidStateTransition:
		return http.StatusConflict
	case circulation.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case circulation.KindEntitlementMissing, circulation.KindForbidden:
		return http.StatusForbidden
	case circulation.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders an engine error.  Unclassified errors are logged and
// reported without detail.
func writeError(c echo.Context, err error) error {
	var ce *circulation.Error
	if !errors.As(err, &ce) || ce.Kind == circulation.KindUnknown {
		c.Logger().Errorf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal"})
	}
	body := echo.Map{"error": ce.Kind.String(), "message": ce.Detail}
	if ce.Reason != "" {
		body["reason"] = ce.Reason
	}
	return c.JSON(statusFor(ce.Kind), body)
}
