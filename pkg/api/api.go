// Package api defines the public endpoints and headers of the dealquery gateway.
package api

// API version
const Version = "0.1.0"

// API endpoints
const (
	EndpointTransactions          = "/api/v1/transactions"
	EndpointTransactionsExplain   = "/api/v1/transactions/explain"
	EndpointTransactionsExamples  = "/api/v1/transactions/examples"
	EndpointTransactionsReference = "/api/v1/transactions/reference"
	EndpointSchemaFields          = "/api/v1/schema/fields"
	EndpointSchemaRoles           = "/api/v1/schema/roles"
	EndpointAuditSummary          = "/api/v1/audit/summary"
	EndpointHealth                = "/health"
	EndpointReady                 = "/readyz"
	EndpointMetrics               = "/metrics"
)

// HTTP headers
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderRequestID     = "X-Request-ID"
	HeaderQueryID       = "X-Query-ID"
	HeaderRetryAfter    = "Retry-After"
)

// Content types
const (
	ContentTypeJSON = "application/json"
)
