// Package gateway exposes the transaction service over HTTP.
//
// Every route under /api/v1 passes through request-id, rate-limit and
// authentication middleware; /health, /readyz and /metrics are open.
package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/canonica-labs/dealquery/internal/auth"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/service"
	"github.com/canonica-labs/dealquery/pkg/api"
)

// Config holds gateway settings.
type Config struct {
	Version string

	// RateLimitPerMinute is the per-client request budget; zero disables
	// rate limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Gateway is the HTTP handler of the query gateway.
type Gateway struct {
	svc     *service.TransactionService
	authn   auth.Authenticator
	metrics *observability.Metrics
	log     *slog.Logger
	cfg     Config
	router  *gin.Engine
}

// NewGateway builds the router. The service is mandatory; a nil
// authenticator disables authentication.
func NewGateway(svc *service.TransactionService, authn auth.Authenticator, metrics *observability.Metrics, log *slog.Logger, cfg Config) (*Gateway, error) {
	if svc == nil {
		return nil, fmt.Errorf("gateway: transaction service is required")
	}
	if authn == nil {
		authn = auth.NewStaticTokenAuthenticator()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Version == "" {
		cfg.Version = api.Version
	}

	g := &Gateway{svc: svc, authn: authn, metrics: metrics, log: log, cfg: cfg}
	g.router = g.routes()
	return g, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(g.observe())

	router.GET(api.EndpointHealth, g.handleHealth)
	router.GET(api.EndpointReady, g.handleReady)
	router.GET(api.EndpointMetrics, gin.WrapH(g.metrics.Handler()))

	apiRoutes := router.Group("")
	apiRoutes.Use(g.queryID())
	if g.cfg.RateLimitPerMinute > 0 {
		apiRoutes.Use(g.rateLimit(g.cfg.RateLimitPerMinute, g.cfg.RateLimitBurst))
	}
	apiRoutes.Use(g.authenticate())

	apiRoutes.GET(api.EndpointTransactions, g.handleTransactions)
	apiRoutes.GET(api.EndpointTransactionsExplain, g.handleExplain)
	apiRoutes.GET(api.EndpointTransactionsExamples, g.handleExamples)
	apiRoutes.GET(api.EndpointTransactionsReference, g.handleReference)
	apiRoutes.GET(api.EndpointSchemaFields, g.handleFields)
	apiRoutes.GET(api.EndpointSchemaRoles, g.handleRoles)
	apiRoutes.GET(api.EndpointAuditSummary, g.handleAuditSummary)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": http.StatusNotFound})
	})
	return router
}
