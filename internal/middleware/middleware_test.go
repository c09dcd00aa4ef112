package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/config"
	"github.com/iliyamo/seat-inventory/internal/utils"
)

const secret = "test-secret"

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"user": UserID(c), "role": Role(c)})
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret, false))
	e.GET("/stream", whoami, JWTAuth(secret, true))

	tok, err := utils.NewAccessToken(secret, "U1", RoleCustomer, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"U1","role":"CUSTOMER"}`, rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/me?access_token="+tok.Token, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/stream?access_token="+tok.Token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	forged, err := utils.NewAccessToken("other-secret", "U1", RoleAdmin, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+forged.Token)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	expired, err := utils.NewAccessToken(secret, "U1", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+expired.Token)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTAuth(secret, false), RequireRole(RoleAdmin))

	for role, want := range map[string]int{RoleAdmin: http.StatusOK, RoleCustomer: http.StatusForbidden} {
		tok, err := utils.NewAccessToken(secret, "U1", role, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		assert.Equal(t, want, serve(e, req).Code, role)
	}
}

func TestTokenBucket(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Second,
		TTL: time.Minute, KeyStrategy: "route", Prefix: "rl",
	}
	e := echo.New()
	e.POST("/v1/seats/lock", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, NewTokenBucket(cfg, db, nil))

	now := time.UnixMilli(1_700_000_000_000)
	clock = func() time.Time { return now }
	t.Cleanup(func() { clock = time.Now })
	key := []string{"rl:route:POST /v1/seats/lock"}
	args := []interface{}{now.UnixMilli(), 2, 1, int64(1000), int64(60)}

	mock.ExpectEvalSha(limiterScript.Hash(), key, args...).
		SetVal([]interface{}{int64(1), int64(1), int64(0)})
	rec := serve(e, httptest.NewRequest(http.MethodPost, "/v1/seats/lock", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	mock.ExpectEvalSha(limiterScript.Hash(), key, args...).
		SetVal([]interface{}{int64(0), int64(0), int64(1500)})
	rec = serve(e, httptest.NewRequest(http.MethodPost, "/v1/seats/lock", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucketDisabledWithoutRedis(t *testing.T) {
	e := echo.New()
	e.GET("/x", whoami, NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/bookings")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:anon:route:POST /v1/bookings", buildRateKey(cfg, c))

	c.Set(userIDKey, "U9")
	cfg.KeyStrategy = "IP_USER"
	assert.Equal(t, "rl:ip:10.0.0.7:user:U9", buildRateKey(cfg, c))

	assert.Equal(t, int64(7), asInt64("7"))
	assert.Equal(t, int64(0), asInt64(nil))
}
