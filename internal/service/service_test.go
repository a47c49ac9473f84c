package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/dealquery/internal/auth"
	"github.com/canonica-labs/dealquery/internal/cache"
	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/executor"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/internal/schema"
)

type fixture struct {
	svc     *TransactionService
	audit   *observability.JSONLogger
	lines   *bytes.Buffer
	metrics *observability.Metrics
}

func newFixture(t *testing.T, wrap func(executor.Adapter) executor.Adapter, authz *auth.TableAuthorizer) *fixture {
	t.Helper()
	db, err := executor.Open(executor.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, executor.SeedDemo(context.Background(), db))

	var exec executor.Adapter = db
	if wrap != nil {
		exec = wrap(db)
	}

	f := &fixture{lines: &bytes.Buffer{}, metrics: observability.NewMetrics()}
	f.audit = observability.NewJSONLogger(f.lines)
	f.svc, err = New(compiler.New(schema.MustDefault(), compiler.Options{}), exec, Options{
		Audit:      f.audit,
		Metrics:    f.metrics,
		Authorizer: authz,
	})
	require.NoError(t, err)
	return f
}

func params(t *testing.T, raw string) query.Params {
	t.Helper()
	p, err := query.ParseRawQuery(raw)
	require.NoError(t, err)
	return p
}

func rows(t *testing.T, res *Result) []string {
	t.Helper()
	require.NotNil(t, res.Rows)
	out := make([]string, len(res.Rows.Data))
	for i, r := range res.Rows.Data {
		out[i] = string(r)
	}
	return out
}

func TestQueryCountOnly(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "type=Buyback&count_only=true"))
	require.NoError(t, err)

	assert.Equal(t, compiler.ModeCount, res.Mode)
	require.NotNil(t, res.Count)
	assert.Equal(t, int64(2), res.Count.Count)
	assert.Nil(t, res.Rows)
	assert.NotEmpty(t, res.QueryID)

	body, err := json.Marshal(res.Body())
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(body))
}

func TestQueryPageCarriesTotals(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "select=transactionId&page=2&page_size=2"))
	require.NoError(t, err)

	assert.Equal(t, []string{`{"transactionId":102}`, `{"transactionId":103}`}, rows(t, res))
	meta := res.Rows.Meta
	assert.Equal(t, 2, meta.Page)
	assert.Equal(t, 2, meta.PageSize)
	require.NotNil(t, meta.Total)
	require.NotNil(t, meta.TotalPages)
	assert.Equal(t, int64(5), *meta.Total)
	assert.Equal(t, int64(3), *meta.TotalPages)
}

func TestQueryLimitMode(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "select=transactionId,year&orderBy=year:desc,transactionId&limit=2"))
	require.NoError(t, err)

	assert.Equal(t, compiler.ModeLimit, res.Mode)
	assert.Equal(t, []string{`{"transactionId":102,"year":2023}`, `{"transactionId":103,"year":2023}`}, rows(t, res))
	assert.Equal(t, 1, res.Rows.Meta.Page)
	assert.Equal(t, 2, res.Rows.Meta.PageSize)
	assert.Nil(t, res.Rows.Meta.Total)

	body, err := json.Marshal(res.Body())
	require.NoError(t, err)
	assert.NotContains(t, string(body), "total")
}

func TestQueryEmptyPageEncodesEmptyArray(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "year=1999&select=transactionId"))
	require.NoError(t, err)

	body, err := json.Marshal(res.Body())
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"meta":{"page":1,"page_size":100,"total":0,"total_pages":0}}`, string(body))
}

func TestQueryRoleBinding(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "buyerId=1&sellerId=4&select=transactionId,buyerCompanyName,sellerCompanyName"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`{"transactionId":102,"buyerCompanyName":"Acme Corp","sellerCompanyName":"Umbrella Holdings"}`,
		`{"transactionId":103,"buyerCompanyName":"Acme Corp","sellerCompanyName":"Umbrella Holdings"}`,
	}, rows(t, res))
}

func TestRejectedRequestIsAudited(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := WithQueryID(context.Background(), "q-rejected")
	_, err := f.svc.Query(ctx, params(t, "buyerIdd=1"))
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.Equal(t, "buyerIdd", errors.Key(err))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(f.lines.Bytes(), &line))
	assert.Equal(t, "q-rejected", line["query_id"])
	assert.Equal(t, observability.OutcomeRejected, line["outcome"])
	assert.Equal(t, "buyerIdd", line["error_key"])
	assert.NotContains(t, f.lines.String(), "=1")

	summary := f.audit.GetAuditSummary(ctx)
	assert.Equal(t, 1, summary.RejectedCount)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.QueriesTotal.WithLabelValues("none", observability.OutcomeRejected)))
}

func TestSuccessfulRequestIsAudited(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := auth.ContextWithUser(context.Background(), &auth.User{ID: "analyst-7"})
	_, err := f.svc.Query(ctx, params(t, "companyName=like:%25Corp&select=transactionId,companyName"))
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(f.lines.Bytes(), &line))
	assert.Equal(t, "analyst-7", line["user"])
	assert.Equal(t, observability.OutcomeSuccess, line["outcome"])
	assert.Equal(t, "page", line["mode"])
	assert.Equal(t, []interface{}{"company"}, line["roles"])
	assert.Equal(t, float64(2), line["field_count"])
	assert.NotContains(t, f.lines.String(), "Corp")

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.QueriesTotal.WithLabelValues("page", observability.OutcomeSuccess)))
}

func TestAuthorizationCoversJoinedTables(t *testing.T) {
	authz := auth.NewTableAuthorizer()
	authz.Grant("analyst", "ciqTransaction")
	f := newFixture(t, nil, authz)
	ctx := auth.ContextWithUser(context.Background(), &auth.User{ID: "a", Roles: []string{"analyst"}})

	_, err := f.svc.Query(ctx, params(t, "select=transactionId&count_only=false&limit=1"))
	require.NoError(t, err)

	_, err = f.svc.Query(ctx, params(t, "select=transactionId,companyName"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeForbidden, errors.CodeOf(err))
	assert.Equal(t, observability.OutcomeRejected, Outcome(err))

	summary := f.audit.GetAuditSummary(ctx)
	assert.Equal(t, 1, summary.AcceptedCount)
	assert.Equal(t, 1, summary.RejectedCount)
}

func TestCacheHitIsReported(t *testing.T) {
	mem, err := cache.NewMemory(16)
	require.NoError(t, err)
	f := newFixture(t, func(a executor.Adapter) executor.Adapter {
		return cache.NewGroup(a, mem, time.Minute)
	}, nil)

	p := params(t, "type=14&count_only=1")
	first, err := f.svc.Query(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := f.svc.Query(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Count, second.Count)
	assert.Equal(t, "sqlite", f.svc.Engine())
}

func TestExecutionErrorOutcome(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Query(ctx, params(t, "count_only=true"))
	require.Error(t, err)
	assert.Equal(t, observability.OutcomeError, Outcome(err))

	// The audit entry survives the canceled request context.
	assert.Equal(t, 1, f.audit.GetAuditSummary(context.Background()).ErrorCount)
}

func TestExplain(t *testing.T) {
	f := newFixture(t, nil, nil)
	plan, err := f.svc.Explain(params(t, "buyerId=1&sellerId=4&select=transactionId"))
	require.NoError(t, err)

	assert.Equal(t, "page", plan.Mode)
	assert.Equal(t, "sqlite", plan.Dialect)
	assert.Equal(t, 2, plan.ParamCount)
	require.Len(t, plan.Joins, 2)
	assert.Equal(t, "buyerRel", plan.Joins[0].Role)
	assert.Equal(t, "sellerRel", plan.Joins[1].Role)
	assert.True(t, plan.Lint.Checked)
	assert.Empty(t, plan.Lint.Error)

	_, err = f.svc.Explain(params(t, "select=SUM(companyName)"))
	assert.Error(t, err)
}

func TestExamplesCompile(t *testing.T) {
	f := newFixture(t, nil, nil)
	examples := f.svc.Examples()
	require.NotEmpty(t, examples)

	checks := f.svc.CheckExamples()
	require.Len(t, checks, len(examples))
	for _, c := range checks {
		assert.True(t, c.OK, "%s: %s", c.Name, c.Error)
	}
}

func TestReferenceAndFields(t *testing.T) {
	f := newFixture(t, nil, nil)

	types := f.svc.Reference()["transactionTypes"]
	require.NotEmpty(t, types)
	var buyback bool
	for _, v := range types {
		if v.Name == "Buyback" {
			buyback = v.ID == 14
		}
	}
	assert.True(t, buyback)

	var buyerID bool
	for _, fi := range f.svc.Fields() {
		if fi.Name == "buyerId" {
			buyerID = fi.Role == "buyerRel" && fi.Table == "ciqTransactionToCompanyRel"
			assert.Contains(t, fi.Operators, "between")
		}
	}
	assert.True(t, buyerID)

	roles := f.svc.Roles()
	require.NotEmpty(t, roles)
	assert.Equal(t, "type", roles[0].Role)
}
