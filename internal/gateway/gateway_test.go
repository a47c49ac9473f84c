package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/dealquery/internal/auth"
	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/executor"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/schema"
	"github.com/canonica-labs/dealquery/internal/service"
	"github.com/canonica-labs/dealquery/pkg/api"
	"github.com/canonica-labs/dealquery/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type setup struct {
	authn *auth.StaticTokenAuthenticator
	authz *auth.TableAuthorizer
	cfg   Config
	db    *executor.DB
}

func newGateway(t *testing.T, s setup) *Gateway {
	t.Helper()
	db := s.db
	if db == nil {
		var err error
		db, err = executor.Open(executor.DefaultConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, executor.SeedDemo(context.Background(), db))
	}

	svc, err := service.New(compiler.New(schema.MustDefault(), compiler.Options{}), db, service.Options{
		Authorizer: s.authz,
	})
	require.NoError(t, err)

	g, err := NewGateway(svc, s.authn, observability.NewMetrics(), nil, s.cfg)
	require.NoError(t, err)
	return g
}

func get(g *Gateway, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var out models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewGatewayRequiresService(t *testing.T) {
	_, err := NewGateway(nil, nil, nil, nil, Config{})
	assert.Error(t, err)
}

func TestHealthAndReady(t *testing.T) {
	g := newGateway(t, setup{cfg: Config{Version: "1.2.3"}})

	rec := get(g, api.EndpointHealth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, rec.Body.String())

	rec = get(g, api.EndpointReady)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"sqlite":"ok"}}`, rec.Body.String())
}

func TestReadyReportsClosedStore(t *testing.T) {
	db, err := executor.Open(executor.DefaultConfig())
	require.NoError(t, err)
	g := newGateway(t, setup{db: db})
	require.NoError(t, db.Close())

	rec := get(g, api.EndpointReady)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

func TestTransactionsCount(t *testing.T) {
	g := newGateway(t, setup{})
	rec := get(g, api.EndpointTransactions+"?type=14&count_only=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(api.HeaderQueryID))
	assert.Equal(t, api.ContentTypeJSON+"; charset=utf-8", rec.Header().Get(api.HeaderContentType))
}

func TestTransactionsPageKeepsColumnOrder(t *testing.T) {
	g := newGateway(t, setup{})
	rec := get(g, api.EndpointTransactions+"?select=year,transactionId&year=2022&page_size=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t,
		`{"data":[{"year":2022,"transactionId":100}],"meta":{"page":1,"page_size":1,"total":2,"total_pages":2}}`,
		rec.Body.String())
}

func TestValidationErrorNamesKey(t *testing.T) {
	g := newGateway(t, setup{})
	rec := get(g, api.EndpointTransactions+"?buyerIdd=1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, "buyerIdd", body.Key)
	assert.Equal(t, int(errors.CodeValidation), body.Code)
	assert.NotEmpty(t, body.Reason)

	rec = get(g, api.EndpointTransactions+"?page_size=5000")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "page_size", decodeError(t, rec).Key)
}

func TestTransactionDetail(t *testing.T) {
	g := newGateway(t, setup{})
	rec := get(g, api.EndpointTransactions+"?transactionId=102&include_advisors=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"advisorName":"Stark Advisors"`)

	rec = get(g, api.EndpointTransactions+"?transactionId=999&include_advisors=true")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "transactionId", body.Key)
	assert.Equal(t, int(errors.CodeNotFound), body.Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[errors.ErrorCode]int{
		errors.CodeValidation: http.StatusBadRequest,
		errors.CodeAuth:       http.StatusUnauthorized,
		errors.CodeForbidden:  http.StatusForbidden,
		errors.CodeNotFound:   http.StatusNotFound,
		errors.CodeRateLimit:  http.StatusTooManyRequests,
		errors.CodeEngine:     http.StatusBadGateway,
		errors.CodeTimeout:    http.StatusGatewayTimeout,
		errors.CodeInternal:   http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), "code %d", code)
	}
}

func TestAuthentication(t *testing.T) {
	authn := auth.NewStaticTokenAuthenticator()
	authn.RegisterToken("secret", &auth.User{ID: "analyst-1"})
	g := newGateway(t, setup{authn: authn})
	target := api.EndpointTransactions + "?count_only=true"

	rec := get(g, target)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int(errors.CodeAuth), decodeError(t, rec).Code)

	rec = get(g, target, api.HeaderAPIKey, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(g, target, api.HeaderAPIKey, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(g, target, api.HeaderAuthorization, "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Open endpoints stay reachable.
	assert.Equal(t, http.StatusOK, get(g, api.EndpointHealth).Code)
}

func TestTableGrantDenied(t *testing.T) {
	authn := auth.NewStaticTokenAuthenticator()
	authn.RegisterToken("secret", &auth.User{ID: "analyst-1", Roles: []string{"analyst"}})
	authz := auth.NewTableAuthorizer()
	authz.Grant("analyst", "ciqTransaction")
	g := newGateway(t, setup{authn: authn, authz: authz})

	rec := get(g, api.EndpointTransactions+"?select=transactionId&limit=1", api.HeaderAPIKey, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(g, api.EndpointTransactions+"?select=companyName", api.HeaderAPIKey, "secret")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int(errors.CodeForbidden), decodeError(t, rec).Code)
}

func TestRateLimit(t *testing.T) {
	g := newGateway(t, setup{cfg: Config{RateLimitPerMinute: 1, RateLimitBurst: 1}})
	target := api.EndpointTransactions + "?count_only=true"

	assert.Equal(t, http.StatusOK, get(g, target).Code)
	rec := get(g, target)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(api.HeaderRetryAfter))

	// Health checks are not rate limited.
	assert.Equal(t, http.StatusOK, get(g, api.EndpointHealth).Code)
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Unix(0, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 2, rl.Len())

	now = now.Add(idleTTL + time.Minute)
	assert.True(t, rl.Allow("10.0.0.3"))
	assert.Equal(t, 1, rl.Len())
}

func TestExplainAndCatalogue(t *testing.T) {
	g := newGateway(t, setup{})

	rec := get(g, api.EndpointTransactionsExplain+"?buyerId=1&select=transactionId")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var plan models.ExplainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, 1, plan.ParamCount)
	assert.Contains(t, plan.SQL, "cr_buyer")

	rec = get(g, api.EndpointTransactionsExamples+"?check=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var checks struct {
		Checks []models.ExampleCheck `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	require.NotEmpty(t, checks.Checks)
	for _, c := range checks.Checks {
		assert.True(t, c.OK, "%s: %s", c.Name, c.Error)
	}

	rec = get(g, api.EndpointTransactionsReference)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Buyback"`)

	rec = get(g, api.EndpointSchemaFields)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"buyerCompanyName"`)

	rec = get(g, api.EndpointSchemaRoles)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sellerRel"`)

	rec = get(g, api.EndpointAuditSummary)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accepted_count")
}

func TestMetricsEndpoint(t *testing.T) {
	g := newGateway(t, setup{})
	get(g, api.EndpointTransactions+"?count_only=true")
	get(g, "/nope")

	rec := get(g, api.EndpointMetrics)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `dealq_http_requests_total{method="GET",route="/api/v1/transactions",status="200"} 1`), body)
	assert.Contains(t, body, `route="unmatched",status="404"`)
}
