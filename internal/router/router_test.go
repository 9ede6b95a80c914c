package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store/memory"
	"github.com/iliyamo/library-circulation/internal/utils"
)

const secret = "router-test"

type api struct {
	t *testing.T
	e *echo.Echo
}

func newAPI(t *testing.T) *api {
	t.Helper()
	p := config.DefaultPolicy()
	p.RetryBaseDelay = time.Millisecond
	engine, err := circulation.New(circulation.Deps{
		Store:        memory.New(),
		Entitlements: circulation.StaticEntitlements{PlanName: "basic", MaxBooksAllowed: 2, MaxDaysPerBook: 21},
		Logger:       logging.Discard(),
	}, p)
	require.NoError(t, err)
	t.Cleanup(engine.Wait)

	e := echo.New()
	e.Validator = handler.NewValidator()
	h := NewHandlers(engine)
	RegisterRoutes(e, h)
	RegisterMember(e, h, secret)
	RegisterLibrarian(e, h, secret)
	return &api{t: t, e: e}
}

func (a *api) call(method, path string, uid uint64, role, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if uid != 0 {
		tok, err := utils.NewAccessToken(secret, uid, role, time.Minute)
		require.NoError(a.t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

const (
	librarian = uint64(100)
	alice     = uint64(1)
	bob       = uint64(2)
)

func Test_Routes_CirculationFlow(t *testing.T) {
	a := newAPI(t)
	lib := model.RoleLibrarian
	mem := model.RoleMember

	rec := a.call(http.MethodPost, "/v1/books", alice, mem, `{"title":"Dune","total_copies":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "members cannot register books")

	rec = a.call(http.MethodPost, "/v1/books", librarian, lib, `{"title":"Dune","total_copies":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"available_copies":1`)

	rec = a.call(http.MethodPost, "/v1/loans", alice, mem, `{"book_id":1,"days":7}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"days_until_due":7`)

	rec = a.call(http.MethodPost, "/v1/loans", bob, mem, `{"book_id":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `"no_copy_available"`, jsonField(t, rec, "reason"))

	rec = a.call(http.MethodPost, "/v1/reservations", bob, mem, `{"book_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"queue_position":1`)

	rec = a.call(http.MethodGet, "/v1/loans/1", bob, mem, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "bob cannot read alice's loan")

	rec = a.call(http.MethodPost, "/v1/loans/1/checkin", alice, mem, `{"condition":"RETURNED"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.call(http.MethodPost, "/v1/loans/1/checkin", librarian, lib, `{"condition":"SHREDDED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(http.MethodPost, "/v1/loans/1/checkin", librarian, lib, `{"condition":"RETURNED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"RETURNED"`)

	rec = a.call(http.MethodGet, "/v1/books/1/queue", librarian, lib, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"AVAILABLE"`)

	rec = a.call(http.MethodGet, "/v1/my/reservations?active=true", bob, mem, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hold_token"`)

	rec = a.call(http.MethodPost, "/v1/reservations/1/fulfill", librarian, lib, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"user_id":2`)

	rec = a.call(http.MethodGet, "/v1/books/1", 0, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available_copies":0`)
}

func Test_Routes_Fines(t *testing.T) {
	a := newAPI(t)
	lib := model.RoleLibrarian
	mem := model.RoleMember

	require.Equal(t, http.StatusCreated, a.call(http.MethodPost, "/v1/books", librarian, lib, `{"title":"Emma","total_copies":2}`).Code)
	require.Equal(t, http.StatusCreated, a.call(http.MethodPost, "/v1/loans", alice, mem, `{"book_id":1}`).Code)

	rec := a.call(http.MethodPost, "/v1/fines", librarian, lib, `{"loan_id":1,"type":"DAMAGED","amount":"4.00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.call(http.MethodPost, "/v1/fines/1/payments", librarian, lib, `{"amount":"5.00","transaction_ref":"tx-1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `"overpayment"`, jsonField(t, rec, "reason"))

	rec = a.call(http.MethodPost, "/v1/fines/1/payments", librarian, lib, `{"amount":"1.50","transaction_ref":"tx-2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"PARTIALLY_PAID"`)

	rec = a.call(http.MethodGet, "/v1/my/fines", alice, mem, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"2.5"`, jsonField(t, rec, "outstanding"))

	rec = a.call(http.MethodPost, "/v1/fines/1/waive", librarian, lib, `{"reason":"goodwill"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"WAIVED"`)

	rec = a.call(http.MethodPost, "/v1/fines/1/payments", librarian, lib, `{"amount":"1.00","transaction_ref":"tx-3"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "settled fines take no payment")
}

func Test_Routes_Public(t *testing.T) {
	a := newAPI(t)

	rec := a.call(http.MethodGet, "/healthz", 0, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.call(http.MethodGet, "/metrics", 0, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, a.call(http.MethodGet, "/v1/books/99", 0, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, a.call(http.MethodGet, "/v1/my/loans", 0, "", "").Code)
}

func jsonField(t *testing.T, rec *httptest.ResponseRecorder, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return string(m[key])
}
