package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/pkg/models"
)

const readyTimeout = 2 * time.Second

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{Status: "ok", Version: g.cfg.Version})
}

func (g *Gateway) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	resp := models.ReadyResponse{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK
	if err := g.svc.Ping(ctx); err != nil {
		g.log.Warn("readiness check failed", "engine", g.svc.Engine(), "error", err)
		resp.Status = "not ready"
		resp.Checks[g.svc.Engine()] = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks[g.svc.Engine()] = "ok"
	}
	c.JSON(status, resp)
}

// params reads the raw query string so that parameter order survives.
func params(c *gin.Context) (query.Params, error) {
	return query.ParseRawQuery(c.Request.URL.RawQuery)
}

func (g *Gateway) handleTransactions(c *gin.Context) {
	p, err := params(c)
	if err != nil {
		g.writeError(c, err)
		return
	}
	res, err := g.svc.Query(c.Request.Context(), p)
	if err != nil {
		g.writeError(c, err)
		return
	}
	if res.CacheHit {
		c.Header("X-Cache", "hit")
	}
	c.JSON(http.StatusOK, res.Body())
}

func (g *Gateway) handleExplain(c *gin.Context) {
	p, err := params(c)
	if err != nil {
		g.writeError(c, err)
		return
	}
	plan, err := g.svc.Explain(p)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (g *Gateway) handleExamples(c *gin.Context) {
	if check, _ := strconv.ParseBool(c.Query("check")); check {
		c.JSON(http.StatusOK, gin.H{"checks": g.svc.CheckExamples()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"examples": g.svc.Examples()})
}

func (g *Gateway) handleReference(c *gin.Context) {
	c.JSON(http.StatusOK, g.svc.Reference())
}

func (g *Gateway) handleFields(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fields": g.svc.Fields()})
}

func (g *Gateway) handleRoles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"roles": g.svc.Roles()})
}

func (g *Gateway) handleAuditSummary(c *gin.Context) {
	c.JSON(http.StatusOK, g.svc.AuditSummary(c.Request.Context()))
}
