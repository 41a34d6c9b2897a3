package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type seen struct {
	tenantId      string
	userId        int
	userName      string
	correlationId string
}

func recorderRouter(out *seen, mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	handler := func(c *gin.Context) {
		ctx := c.Request.Context()
		out.tenantId, _ = utils.GetTenantIdFromContext(ctx)
		out.userId, _ = utils.GetUserIdFromContext(ctx)
		out.userName, _ = utils.GetUserNameFromContext(ctx)
		out.correlationId, _ = utils.GetCorrelationIdFromContext(ctx)
		c.Status(http.StatusOK)
	}
	r.GET("/api/tenants/:tenant_id/ping", append([]gin.HandlerFunc{TenantScope()}, handler)...)
	r.GET("/ping", handler)
	return r
}

func TestCorrelationIdIsReusedOrGenerated(t *testing.T) {
	var got seen
	r := recorderRouter(&got, CorrelationId())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-correlation-id", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("x-correlation-id"))
	assert.Equal(t, "abc-123", got.correlationId)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-correlation-id", strings.Repeat("x", maxCorrelationIdLength+1))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	generated := w.Header().Get("x-correlation-id")
	assert.NotEmpty(t, generated)
	assert.LessOrEqual(t, len(generated), maxCorrelationIdLength)
	assert.Equal(t, generated, got.correlationId)
}

func TestSessionAndTenantScope(t *testing.T) {
	var got seen
	r := recorderRouter(&got, SessionMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/shop-9/ping", nil)
	req.Header.Set("X-User-Id", "42")
	req.Header.Set("X-User-Name", " cashier ")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "shop-9", got.tenantId)
	assert.Equal(t, 42, got.userId)
	assert.Equal(t, "cashier", got.userName)

	got = seen{}
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-User-Id", "not-a-number")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Zero(t, got.userId)
	assert.Empty(t, got.tenantId)
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(limiter.Rate{Period: time.Minute, Limit: 2}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitFromEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	mw, err := RateLimitFromEnv()
	require.NoError(t, err)
	assert.Nil(t, mw)

	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RATE", "lots")
	_, err = RateLimitFromEnv()
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_RATE", "5-S")
	mw, err = RateLimitFromEnv()
	require.NoError(t, err)
	assert.NotNil(t, mw)
}
