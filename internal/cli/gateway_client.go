package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/pkg/api"
	"github.com/canonica-labs/dealquery/pkg/models"
)

// GatewayClient is the HTTP client for communicating with the dealquery gateway.
type GatewayClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewGatewayClient creates a new gateway client.
func NewGatewayClient(endpoint, token string) *GatewayClient {
	return &GatewayClient{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Endpoint returns the configured gateway endpoint.
func (c *GatewayClient) Endpoint() string {
	return c.endpoint
}

// QueryResponse is the raw body of a transactions request.
type QueryResponse struct {
	QueryID  string
	CacheHit bool
	Body     json.RawMessage
}

// Transactions runs params on the gateway. The body is returned verbatim so
// column order survives.
func (c *GatewayClient) Transactions(ctx context.Context, params query.Params) (*QueryResponse, error) {
	resp, err := c.get(ctx, api.EndpointTransactions+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &QueryResponse{
		QueryID:  resp.Header.Get(api.HeaderQueryID),
		CacheHit: resp.Header.Get("X-Cache") == "hit",
		Body:     body,
	}, nil
}

// Explain gets the compiled plan of params from the gateway.
func (c *GatewayClient) Explain(ctx context.Context, params query.Params) (*models.ExplainResponse, error) {
	var result models.ExplainResponse
	if err := c.getJSON(ctx, api.EndpointTransactionsExplain+"?"+params.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Fields lists the gateway's queryable fields.
func (c *GatewayClient) Fields(ctx context.Context) ([]models.FieldInfo, error) {
	var result struct {
		Fields []models.FieldInfo `json:"fields"`
	}
	if err := c.getJSON(ctx, api.EndpointSchemaFields, &result); err != nil {
		return nil, err
	}
	return result.Fields, nil
}

// Roles lists the gateway's join roles.
func (c *GatewayClient) Roles(ctx context.Context) ([]models.RoleInfo, error) {
	var result struct {
		Roles []models.RoleInfo `json:"roles"`
	}
	if err := c.getJSON(ctx, api.EndpointSchemaRoles, &result); err != nil {
		return nil, err
	}
	return result.Roles, nil
}

// Examples lists the documented requests.
func (c *GatewayClient) Examples(ctx context.Context) ([]models.Example, error) {
	var result struct {
		Examples []models.Example `json:"examples"`
	}
	if err := c.getJSON(ctx, api.EndpointTransactionsExamples, &result); err != nil {
		return nil, err
	}
	return result.Examples, nil
}

// CheckExamples asks the gateway to compile every documented request.
func (c *GatewayClient) CheckExamples(ctx context.Context) ([]models.ExampleCheck, error) {
	var result struct {
		Checks []models.ExampleCheck `json:"checks"`
	}
	if err := c.getJSON(ctx, api.EndpointTransactionsExamples+"?check=true", &result); err != nil {
		return nil, err
	}
	return result.Checks, nil
}

// Reference retrieves the enum reference values.
func (c *GatewayClient) Reference(ctx context.Context) (map[string][]models.ReferenceValue, error) {
	var result map[string][]models.ReferenceValue
	if err := c.getJSON(ctx, api.EndpointTransactionsReference, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAuditSummary retrieves the audit summary from the gateway.
func (c *GatewayClient) GetAuditSummary(ctx context.Context) (*observability.AuditSummary, error) {
	var result observability.AuditSummary
	if err := c.getJSON(ctx, api.EndpointAuditSummary, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetHealthInfo retrieves the gateway's liveness body.
func (c *GatewayClient) GetHealthInfo(ctx context.Context) (*models.HealthResponse, error) {
	var result models.HealthResponse
	if err := c.getJSON(ctx, api.EndpointHealth, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetReadiness retrieves the gateway's readiness body; a not-ready gateway
// is reported in the body, not as an error.
func (c *GatewayClient) GetReadiness(ctx context.Context) (*models.ReadyResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, api.EndpointReady, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result models.ReadyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func (c *GatewayClient) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// get issues a GET and converts non-200 responses into errors.
func (c *GatewayClient) get(ctx context.Context, path string) (*http.Response, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseErrorResponse(resp)
	}
	return resp, nil
}

// doRequest performs an HTTP request to the gateway.
func (c *GatewayClient) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c.endpoint == "" {
		return nil, errors.NewGatewayUnavailable("", "no gateway endpoint configured")
	}

	url := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	if c.token != "" {
		req.Header.Set(api.HeaderAuthorization, "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewGatewayUnavailable(c.endpoint, err.Error())
	}

	return resp, nil
}

// parseErrorResponse rebuilds the gateway's error so its category, and so
// the exit code, survive the round trip.
func (c *GatewayClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("gateway error: %d - %s", resp.StatusCode, string(body))
	}

	return &errors.QueryError{
		Code:       errors.ErrorCode(errResp.Code),
		Key:        errResp.Key,
		Message:    errResp.Error,
		Reason:     errResp.Reason,
		Suggestion: errResp.Suggestion,
	}
}
