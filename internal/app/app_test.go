package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/dealquery/internal/config"
	"github.com/canonica-labs/dealquery/pkg/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func demoConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Demo = true
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func build(t *testing.T, cfg *config.Config, audit io.Writer) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, quiet(), Options{Version: "test", AuditWriter: audit})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func serve(a *App, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set(api.HeaderAPIKey, token)
	}
	rec := httptest.NewRecorder()
	a.Gateway.ServeHTTP(rec, req)
	return rec
}

func TestBuildServesDemoData(t *testing.T) {
	var lines bytes.Buffer
	a := build(t, demoConfig(), &lines)

	rec := serve(a, api.EndpointTransactions+"?type=Buyback&count_only=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())

	assert.Contains(t, lines.String(), `"outcome":"success"`)
	assert.Equal(t, []string{"sqlite"}, a.Adapters.Available())
}

func TestBuildWithDatabaseAudit(t *testing.T) {
	cfg := demoConfig()
	cfg.Audit = config.AuditConfig{Backend: "database", Driver: "sqlite", DSN: ":memory:"}
	a := build(t, cfg, nil)

	require.Equal(t, http.StatusOK, serve(a, api.EndpointTransactions+"?year=2022&count_only=true", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(a, api.EndpointTransactions+"?buyerIdd=1", "").Code)

	summary := a.Service.AuditSummary(context.Background())
	assert.Equal(t, 1, summary.AcceptedCount)
	assert.Equal(t, 1, summary.RejectedCount)
	require.NotEmpty(t, summary.TopRejectionKeys)
	assert.Equal(t, "buyerIdd", summary.TopRejectionKeys[0].Key)
}

func TestBuildWiresTokensAndGrants(t *testing.T) {
	cfg := demoConfig()
	cfg.Audit.Backend = "none"
	cfg.Auth = config.AuthConfig{
		Tokens: []config.TokenConfig{
			{Token: "analyst-token", User: "ana", Roles: []string{"analyst"}},
		},
		Grants: map[string][]string{"analyst": {"ciqTransaction"}},
	}
	a := build(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(a, api.EndpointTransactions+"?count_only=true", "").Code)
	assert.Equal(t, http.StatusOK, serve(a, api.EndpointTransactions+"?count_only=true", "analyst-token").Code)
	assert.Equal(t, http.StatusForbidden,
		serve(a, api.EndpointTransactions+"?buyerName=Acme&count_only=true", "analyst-token").Code)
}

func TestBuildWithMemoryCache(t *testing.T) {
	cfg := demoConfig()
	cfg.Cache.Backend = "memory"
	a := build(t, cfg, io.Discard)

	target := api.EndpointTransactions + "?select=transactionId&page_size=2"
	first := serve(a, target, "")
	require.Equal(t, http.StatusOK, first.Code)
	second := serve(a, target, "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "hit", second.Header().Get("X-Cache"))
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "oracle" }},
		{"unknown cache", func(c *config.Config) { c.Cache.Backend = "memcached" }},
		{"unknown audit driver", func(c *config.Config) {
			c.Audit = config.AuditConfig{Backend: "database", Driver: "oracle", DSN: "x"}
		}},
		{"missing schema", func(c *config.Config) { c.Engine.SchemaPath = "/nonexistent/schema.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := demoConfig()
			tt.mutate(cfg)
			_, err := Build(context.Background(), cfg, quiet(), Options{AuditWriter: io.Discard})
			assert.Error(t, err)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := build(t, demoConfig(), io.Discard)
	a.Config.Server.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
