// Package errors provides explicit, human-readable error types for dealquery.
// Every compile-time error names the offending request parameter and a reason;
// execution errors never carry statement text or parameter values.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// QueryError is the base error type for all dealquery errors.
type QueryError struct {
	Code       ErrorCode
	Key        string
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code and status mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeAuth       ErrorCode = 2
	CodeEngine     ErrorCode = 3
	CodeInternal   ErrorCode = 4
	CodeRateLimit  ErrorCode = 5
	CodeTimeout    ErrorCode = 6
	CodeForbidden  ErrorCode = 7
	CodeNotFound   ErrorCode = 8
)

func (e *QueryError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = fmt.Sprintf("%s (parameter %q)", msg, e.Key)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// base exposes the embedded QueryError through the Base interface.
func (e *QueryError) base() *QueryError {
	return e
}

// Base is implemented by every error type in this package.
type Base interface {
	error
	base() *QueryError
}

// As returns the QueryError carried by err, if any.
func As(err error) (*QueryError, bool) {
	var b Base
	if stderrors.As(err, &b) {
		return b.base(), true
	}
	return nil, false
}

// Key returns the request parameter key attached to err, or "".
func Key(err error) string {
	if qe, ok := As(err); ok {
		return qe.Key
	}
	return ""
}

// WithKey attaches a request parameter key to err when it has none yet.
func WithKey(err error, key string) error {
	if qe, ok := As(err); ok && qe.Key == "" {
		qe.Key = key
	}
	return err
}

// CodeOf returns the error category, CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if qe, ok := As(err); ok {
		return qe.Code
	}
	return CodeInternal
}

// IsCompileError reports whether err was raised before any data-store call.
func IsCompileError(err error) bool {
	var exec *ErrExecution
	if stderrors.As(err, &exec) {
		return false
	}
	return CodeOf(err) == CodeValidation
}

// ErrValidation is a generic request parsing failure.
type ErrValidation struct {
	QueryError
}

// NewValidation creates a new ErrValidation.
func NewValidation(key, reason string) *ErrValidation {
	return &ErrValidation{
		QueryError: QueryError{
			Code:       CodeValidation,
			Key:        key,
			Message:    "invalid request parameter",
			Reason:     reason,
			Suggestion: "see /api/v1/transactions/examples for valid requests",
		},
	}
}

// ErrUnknownField is returned when a field is absent from the schema registry.
type ErrUnknownField struct {
	QueryError
	Field string
}

// NewUnknownField creates a new ErrUnknownField.
func NewUnknownField(key, field string) *ErrUnknownField {
	return &ErrUnknownField{
		QueryError: QueryError{
			Code:       CodeValidation,
			Key:        key,
			Message:    fmt.Sprintf("unknown field: %s", field),
			Reason:     "no field descriptor registered with this name",
			Suggestion: "list available fields with 'dealq schema fields'",
		},
		Field: field,
	}
}

// ErrUnknownRole is returned when a role-qualified reference names no join edge.
type ErrUnknownRole struct {
	QueryError
	Role string
}

// NewUnknownRole creates a new ErrUnknownRole.
func NewUnknownRole(key, role string) *ErrUnknownRole {
	return &ErrUnknownRole{
		QueryError: QueryError{
			Code:       CodeValidation,
			Key:        key,
			Message:    fmt.Sprintf("unknown role: %s", role),
			Reason:     "no join edge registered for this role",
			Suggestion: "list available roles with 'dealq schema roles'",
		},
		Role: role,
	}
}

// ErrUnsupportedOperator is returned when an operator is outside a field's whitelist.
type ErrUnsupportedOperator struct {
	QueryError
	Field    string
	Operator string
}

// NewUnsupportedOperator creates a new ErrUnsupportedOperator.
func NewUnsupportedOperator(key, field, operator string) *ErrUnsupportedOperator {
	return &ErrUnsupportedOperator{
		QueryError: QueryError{
			Code:       CodeValidation,
			Key:        key,
			Message:    fmt.Sprintf("operator %s not allowed on %s", operator, field),
			Reason:     "operator is not in the field's whitelist",
			Suggestion: fmt.Sprintf("check allowed operators with 'dealq schema fields %s'", field),
		},
		Field:    field,
		Operator: operator,
	}
}

// ErrMalformedValue is returned for bad operand or select syntax.
type ErrMalformedValue struct {
	QueryError
	Value string
}

// NewMalformedValue creates a new ErrMalformedValue.
func NewMalformedValue(key, value, reason string) *ErrMalformedValue {
	return &ErrMalformedValue{
		QueryError: QueryError{
			Code:    CodeValidation,
			Key:     key,
			Message: "malformed value",
			Reason:  reason,
		},
		Value: value,
	}
}

// ErrTypeMismatch is returned when an operand is incompatible with the field type.
type ErrTypeMismatch struct {
	QueryError
	Field string
	Type  string
}

// NewTypeMismatch creates a new ErrTypeMismatch.
func NewTypeMismatch(key, field, fieldType, reason string) *ErrTypeMismatch {
	return &ErrTypeMismatch{
		QueryError: QueryError{
			Code:    CodeValidation,
			Key:     key,
			Message: fmt.Sprintf("value does not match %s field %s", fieldType, field),
			Reason:  reason,
		},
		Field: field,
		Type:  fieldType,
	}
}

// ErrAmbiguousJoinRole is returned when an unqualified field is reachable through several roles.
type ErrAmbiguousJoinRole struct {
	QueryError
	Field string
	Roles []string
}

// NewAmbiguousJoinRole creates a new ErrAmbiguousJoinRole.
func NewAmbiguousJoinRole(key, field string, roles []string) *ErrAmbiguousJoinRole {
	return &ErrAmbiguousJoinRole{
		QueryError: QueryError{
			Code:       CodeValidation,
			Key:        key,
			Message:    fmt.Sprintf("ambiguous field reference: %s", field),
			Reason:     fmt.Sprintf("field is reachable through roles: %v", roles),
			Suggestion: fmt.Sprintf("qualify the field with a role, e.g. %s.%s", roles[0], field),
		},
		Field: field,
		Roles: roles,
	}
}

// ErrOutOfRange is returned when limit/page/page_size bounds are violated.
type ErrOutOfRange struct {
	QueryError
	Value int
	Min   int
	Max   int
}

// NewOutOfRange creates a new ErrOutOfRange.
func NewOutOfRange(key string, value, lo, hi int) *ErrOutOfRange {
	return &ErrOutOfRange{
		QueryError: QueryError{
			Code:    CodeValidation,
			Key:     key,
			Message: fmt.Sprintf("value out of range: %d", value),
			Reason:  fmt.Sprintf("allowed range is %d..%d", lo, hi),
		},
		Value: value,
		Min:   lo,
		Max:   hi,
	}
}

// ErrExecution wraps a data-store failure with a sanitized message.
type ErrExecution struct {
	QueryError
	Engine string
}

// NewExecution creates a new ErrExecution. The cause is kept for Unwrap only.
func NewExecution(engine string, cause error) *ErrExecution {
	code := CodeEngine
	reason := "the data store rejected or failed the query"
	if stderrors.Is(cause, context.DeadlineExceeded) {
		code = CodeTimeout
		reason = "the query exceeded its deadline"
	}
	return &ErrExecution{
		QueryError: QueryError{
			Code:       code,
			Message:    fmt.Sprintf("query execution failed on %s", engine),
			Reason:     reason,
			Suggestion: "narrow the filters or retry later",
			Cause:      cause,
		},
		Engine: engine,
	}
}

// Error omits the cause so statement text and values never reach callers.
func (e *ErrExecution) Error() string {
	return fmt.Sprintf("%s\nReason: %s", e.Message, e.Reason)
}

// ErrInvalidSchema is returned when the schema artifact cannot be loaded.
type ErrInvalidSchema struct {
	QueryError
	Element string
}

// NewInvalidSchema creates a new ErrInvalidSchema.
func NewInvalidSchema(element, reason string) *ErrInvalidSchema {
	return &ErrInvalidSchema{
		QueryError: QueryError{
			Code:       CodeInternal,
			Message:    "invalid schema artifact",
			Reason:     fmt.Sprintf("%s: %s", element, reason),
			Suggestion: "regenerate the artifact with the schema generation tool",
		},
		Element: element,
	}
}

// ErrAuthFailed is returned when authentication fails.
type ErrAuthFailed struct {
	QueryError
}

// NewAuthFailed creates a new ErrAuthFailed.
func NewAuthFailed(reason string) *ErrAuthFailed {
	return &ErrAuthFailed{
		QueryError: QueryError{
			Code:       CodeAuth,
			Message:    "authentication failed",
			Reason:     reason,
			Suggestion: "send a valid token in the X-API-Key header",
		},
	}
}

// NewAuthExpired is returned when the auth token has expired.
func NewAuthExpired() *ErrAuthFailed {
	return &ErrAuthFailed{
		QueryError: QueryError{
			Code:       CodeAuth,
			Message:    "authentication expired",
			Reason:     "token has expired",
			Suggestion: "request a new API token",
		},
	}
}

// ErrAccessDenied is returned when a caller's access roles do not grant a
// table the statement joins.
type ErrAccessDenied struct {
	QueryError
	Table string
}

// NewAccessDenied creates a new ErrAccessDenied. key is the request
// parameter that pulled the table in, when known.
func NewAccessDenied(key, table string) *ErrAccessDenied {
	return &ErrAccessDenied{
		QueryError: QueryError{
			Code:       CodeForbidden,
			Key:        key,
			Message:    fmt.Sprintf("access denied to %s", table),
			Reason:     "none of the caller's access roles grant this table",
			Suggestion: "remove the fields that require it or request access",
		},
		Table: table,
	}
}

// ErrRateLimited is returned when a client exceeds its request budget.
type ErrRateLimited struct {
	QueryError
}

// NewRateLimited creates a new ErrRateLimited.
func NewRateLimited() *ErrRateLimited {
	return &ErrRateLimited{
		QueryError: QueryError{
			Code:       CodeRateLimit,
			Message:    "rate limit exceeded",
			Reason:     "too many requests from this client",
			Suggestion: "retry after a short delay",
		},
	}
}

// ErrMigrationFailed is returned when an audit-store migration fails.
type ErrMigrationFailed struct {
	QueryError
	Migration string
}

// NewMigrationFailed creates a new ErrMigrationFailed.
func NewMigrationFailed(migration string, cause error) *ErrMigrationFailed {
	return &ErrMigrationFailed{
		QueryError: QueryError{
			Code:       CodeInternal,
			Message:    fmt.Sprintf("migration failed: %s", migration),
			Reason:     "the audit store schema could not be applied",
			Suggestion: "check database permissions and connectivity",
			Cause:      cause,
		},
		Migration: migration,
	}
}

// ErrGatewayUnavailable is returned when the CLI cannot reach a gateway.
type ErrGatewayUnavailable struct {
	QueryError
	Endpoint string
}

// NewGatewayUnavailable creates a new ErrGatewayUnavailable.
func NewGatewayUnavailable(endpoint, reason string) *ErrGatewayUnavailable {
	msg := "gateway unavailable"
	if endpoint != "" {
		msg = fmt.Sprintf("gateway unavailable at %s", endpoint)
	}
	return &ErrGatewayUnavailable{
		QueryError: QueryError{
			Code:       CodeEngine,
			Message:    msg,
			Reason:     reason,
			Suggestion: "check --endpoint or start the gateway with 'dealq serve'",
		},
		Endpoint: endpoint,
	}
}

// ErrNotFound is returned when a lookup names a record the data store does
// not hold.
type ErrNotFound struct {
	QueryError
	Entity string
	ID     string
}

// NewNotFound creates a new ErrNotFound.
func NewNotFound(key, entity, id string) *ErrNotFound {
	return &ErrNotFound{
		QueryError: QueryError{
			Code:       CodeNotFound,
			Key:        key,
			Message:    fmt.Sprintf("%s %s not found", entity, id),
			Suggestion: "search with filters instead of a single id",
		},
		Entity: entity,
		ID:     id,
	}
}
