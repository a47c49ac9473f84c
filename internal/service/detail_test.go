package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/observability"
)

type detailBody struct {
	TransactionID    int64  `json:"transactionId"`
	CompanyName      string `json:"companyName"`
	RelatedCompanies []struct {
		InvolvedCompanyID   int64  `json:"involvedCompanyId"`
		InvolvedCompanyName string `json:"involvedCompanyName"`
		RelationshipName    string `json:"relationshipName"`
	} `json:"relatedCompanies"`
	Advisors []struct {
		AdvisorID       int64  `json:"advisorId"`
		AdvisorName     string `json:"advisorName"`
		AdvisorTypeName string `json:"advisorTypeName"`
	} `json:"advisors"`
}

func TestQueryDetailNestsRelatedRows(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "transactionId=102&include_relationships=true&include_advisors=true"))
	require.NoError(t, err)

	assert.Equal(t, ModeDetail, res.Mode)
	data := rows(t, res)
	require.Len(t, data, 1)
	assert.Equal(t, 1, res.Rows.Meta.Page)
	assert.Nil(t, res.Rows.Meta.Total)

	var got detailBody
	require.NoError(t, json.Unmarshal([]byte(data[0]), &got))
	assert.Equal(t, int64(102), got.TransactionID)
	assert.Equal(t, "Initech", got.CompanyName)

	require.Len(t, got.RelatedCompanies, 2)
	assert.Equal(t, int64(1), got.RelatedCompanies[0].InvolvedCompanyID)
	assert.Equal(t, "Acme Corp", got.RelatedCompanies[0].InvolvedCompanyName)
	assert.Equal(t, "Buyer-Target", got.RelatedCompanies[0].RelationshipName)
	assert.Equal(t, "Umbrella Holdings", got.RelatedCompanies[1].InvolvedCompanyName)
	assert.Equal(t, "Seller", got.RelatedCompanies[1].RelationshipName)

	require.Len(t, got.Advisors, 2)
	assert.Equal(t, "Stark Advisors", got.Advisors[0].AdvisorName)
	assert.Equal(t, "Financial", got.Advisors[0].AdvisorTypeName)
	assert.Equal(t, "Wayne Legal", got.Advisors[1].AdvisorName)
	assert.Equal(t, "Legal", got.Advisors[1].AdvisorTypeName)

	// Transaction columns come first, nested lists last.
	assert.True(t, strings.HasPrefix(data[0], `{"transactionId":102,`))
	related := strings.Index(data[0], `"relatedCompanies"`)
	assert.Greater(t, related, strings.Index(data[0], `"companyName"`))
	assert.Greater(t, strings.Index(data[0], `"advisors"`), related)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(f.lines.Bytes(), &line))
	assert.Equal(t, "detail", line["mode"])
	assert.Equal(t, observability.OutcomeSuccess, line["outcome"])
}

func TestQueryDetailWithoutRelatedRows(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "transactionId=100&include_relationships=1&include_advisors=1"))
	require.NoError(t, err)

	data := rows(t, res)
	require.Len(t, data, 1)
	assert.Contains(t, data[0], `"relatedCompanies":[]`)
	assert.Contains(t, data[0], `"advisors":[]`)
}

func TestQueryDetailSingleFlag(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "transactionId=103&include_advisors=true"))
	require.NoError(t, err)

	data := rows(t, res)
	require.Len(t, data, 1)
	assert.NotContains(t, data[0], "relatedCompanies")
	assert.NotContains(t, data[0], "companyName")

	var got detailBody
	require.NoError(t, json.Unmarshal([]byte(data[0]), &got))
	require.Len(t, got.Advisors, 1)
	assert.Equal(t, int64(5), got.Advisors[0].AdvisorID)
}

func TestQueryDetailNotFound(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.svc.Query(context.Background(), params(t, "transactionId=999&include_advisors=true"))
	require.Error(t, err)

	var missing *errors.ErrNotFound
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "transactionId", missing.Key)
	assert.Equal(t, "999", missing.ID)
	assert.Equal(t, observability.OutcomeRejected, Outcome(err))
	assert.Equal(t, 1, f.audit.GetAuditSummary(context.Background()).RejectedCount)
}

func TestQueryDetailRejectsExtraFilters(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.svc.Query(context.Background(), params(t, "transactionId=102&year=2023&include_relationships=true"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Equal(t, "include_relationships", errors.Key(err))
}

func TestExplainDetail(t *testing.T) {
	f := newFixture(t, nil, nil)
	plan, err := f.svc.Explain(params(t, "transactionId=102&include_relationships=true"))
	require.NoError(t, err)
	assert.Equal(t, "limit", plan.Mode)
	assert.Equal(t, 1, plan.ParamCount)
}

func TestQueryAnalysisTrend(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "analysisType=trend&fields=year"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`{"year":2021,"count":1}`,
		`{"year":2022,"count":2}`,
		`{"year":2023,"count":2}`,
	}, rows(t, res))
	require.NotNil(t, res.Rows.Meta.Total)
	assert.Equal(t, int64(3), *res.Rows.Meta.Total)
}

func TestQueryAnalysisDistribution(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "type=14&analysisType=distribution&fields=currencyId"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"currencyId":22,"count":2}`}, rows(t, res))
}

func TestQueryAnalysisComparison(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Query(context.Background(), params(t, "analysisType=comparison&fields=type,size&limit=10"))
	require.NoError(t, err)

	data := rows(t, res)
	require.Len(t, data, 3)
	for _, row := range data {
		assert.True(t, strings.HasPrefix(row, `{"type":`), row)
		assert.Contains(t, row, `"sum_size":`)
		assert.Contains(t, row, `"avg_size":`)
	}
	assert.True(t, strings.HasPrefix(data[2], `{"type":10,"count":1,`), data[2])
}

func TestQueryAnalysisErrors(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, raw := range []string{"fields=year", "analysisType=seasonal", "analysisType=comparison"} {
		_, err := f.svc.Query(context.Background(), params(t, raw))
		require.Error(t, err, raw)
		assert.True(t, errors.IsCompileError(err), raw)
	}
}
