package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/utils"
)

const secret = "test-secret"

func newEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user_id": c.Get("user_id"), "role": c.Get("role")})
	}, mw...)
	return e
}

func do(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, uid uint64, role string) string {
	tok, err := utils.NewAccessToken(secret, uid, role, time.Minute)
	require.NoError(t, err)
	return tok.Token
}

func Test_JWTAuth(t *testing.T) {
	e := newEcho(JWTAuth(secret))

	rec := do(e, token(t, 7, "MEMBER"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":7,"role":"MEMBER"}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(e, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "garbage").Code)

	other, err := utils.NewAccessToken("other", 7, "MEMBER", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(e, other.Token).Code)
}

func Test_RequireRole(t *testing.T) {
	e := newEcho(JWTAuth(secret), RequireRole("LIBRARIAN"))

	assert.Equal(t, http.StatusOK, do(e, token(t, 1, "LIBRARIAN")).Code)
	assert.Equal(t, http.StatusForbidden, do(e, token(t, 2, "MEMBER")).Code)
}

func limitCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "user",
		Prefix:         "rl",
	}
}

func Test_TokenBucket_Local(t *testing.T) {
	e := newEcho(JWTAuth(secret), NewTokenBucket(limitCfg(), nil))
	alice, bob := token(t, 1, "MEMBER"), token(t, 2, "MEMBER")

	assert.Equal(t, http.StatusOK, do(e, alice).Code)
	assert.Equal(t, http.StatusOK, do(e, alice).Code)
	rec := do(e, alice)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(e, bob).Code, "buckets are per user")
}

func Test_TokenBucket_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newEcho(JWTAuth(secret), NewTokenBucket(limitCfg(), rdb))
	alice := token(t, 1, "MEMBER")

	assert.Equal(t, http.StatusOK, do(e, alice).Code)
	rec := do(e, alice)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusTooManyRequests, do(e, alice).Code)
	assert.True(t, mr.Exists("rl:user:1"))
}

func Test_TokenBucket_RoleCapacity(t *testing.T) {
	cfg := limitCfg()
	cfg.RoleCapacity = map[string]int{"LIBRARIAN": 4}
	e := newEcho(JWTAuth(secret), NewTokenBucket(cfg, nil))
	desk := token(t, 7, "LIBRARIAN")

	for i := 0; i < 4; i++ {
		rec := do(e, desk)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusTooManyRequests, do(e, desk).Code)
}

func Test_TokenBucket_Disabled(t *testing.T) {
	cfg := limitCfg()
	cfg.Enabled = false
	e := newEcho(NewTokenBucket(cfg, nil))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(e, "").Code)
	}
}
