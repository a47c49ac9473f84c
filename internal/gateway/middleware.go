package gateway

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/canonica-labs/dealquery/internal/auth"
	"github.com/canonica-labs/dealquery/internal/service"
	"github.com/canonica-labs/dealquery/pkg/api"
)

// observe records request count and latency by route template.
func (g *Gateway) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		g.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// queryID assigns the query id used in the audit trail and echoes it in
// the X-Query-ID response header.
func (g *Gateway) queryID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Header(api.HeaderQueryID, id)
		c.Request = c.Request.WithContext(service.WithQueryID(c.Request.Context(), id))
		c.Next()
	}
}

// authenticate accepts a token from X-API-Key or an Authorization bearer
// header. With no tokens configured every caller is anonymous.
func (g *Gateway) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.authn.Enabled() {
			c.Next()
			return
		}
		user, err := g.authn.ValidateToken(c.Request.Context(), token(c))
		if err != nil {
			g.writeError(c, err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(auth.ContextWithUser(c.Request.Context(), user))
		c.Next()
	}
}

func token(c *gin.Context) string {
	if key := c.GetHeader(api.HeaderAPIKey); key != "" {
		return key
	}
	const prefix = "Bearer "
	header := c.GetHeader(api.HeaderAuthorization)
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
