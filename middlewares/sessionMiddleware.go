package middlewares

import (
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/shop_ledger/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware copies the caller identity forwarded by the gateway into the
// request context. Authentication happens upstream; missing headers leave the
// request anonymous (user id 0).
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if v := strings.TrimSpace(c.GetHeader("X-User-Id")); v != "" {
			if id, err := strconv.Atoi(v); err == nil && id > 0 {
				ctx = utils.SetUserIdInContext(ctx, id)
			}
		}
		if name := strings.TrimSpace(c.GetHeader("X-User-Name")); name != "" {
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantScope puts the :tenant_id path parameter into the request context so
// the database tenant guard scopes every query of the request.
func TenantScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tenantId := strings.TrimSpace(c.Param("tenant_id")); tenantId != "" {
			c.Request = c.Request.WithContext(utils.SetTenantIdInContext(c.Request.Context(), tenantId))
		}
		c.Next()
	}
}

const maxCorrelationIdLength = 64

// CorrelationId reuses x-correlation-id when sent, otherwise generates one, and
// echoes it back on the response.
func CorrelationId() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader("x-correlation-id"))
		if cid == "" || len(cid) > maxCorrelationIdLength {
			cid = utils.CorrelationIdOrNew(c.Request.Context())
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	}
}
