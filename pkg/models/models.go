// Package models provides the response envelopes of the dealquery public API.
package models

import (
	"encoding/json"
)

// TransactionsResponse is the envelope of a row-returning query.
type TransactionsResponse struct {
	// Data holds one JSON object per row; keys follow projection order.
	Data []json.RawMessage `json:"data"`
	Meta PageMeta          `json:"meta"`
}

// PageMeta describes the page a response holds. Total and TotalPages are
// set when a total count was computed.
type PageMeta struct {
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Total      *int64 `json:"total,omitempty"`
	TotalPages *int64 `json:"total_pages,omitempty"`
}

// CountResponse is the envelope of a count_only query.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ExplainResponse describes how a request compiles, without parameter values.
type ExplainResponse struct {
	Mode       string       `json:"mode"`
	Dialect    string       `json:"dialect"`
	SQL        string       `json:"sql"`
	ParamCount int          `json:"param_count"`
	Columns    []ColumnInfo `json:"columns"`
	Joins      []JoinInfo   `json:"joins"`
	GroupBy    []string     `json:"group_by,omitempty"`
	Limit      int          `json:"limit,omitempty"`
	Offset     int          `json:"offset,omitempty"`
	Lint       LintInfo     `json:"lint"`
}

// ColumnInfo is one output column.
type ColumnInfo struct {
	Alias string `json:"alias"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// JoinInfo is one join edge of a compiled statement.
type JoinInfo struct {
	Role   string `json:"role"`
	Table  string `json:"table"`
	Alias  string `json:"alias"`
	Fanout bool   `json:"fanout,omitempty"`
}

// LintInfo reports the SQL syntax check of a compiled statement.
type LintInfo struct {
	Checked      bool   `json:"checked"`
	Skipped      string `json:"skipped,omitempty"`
	Placeholders int    `json:"placeholders"`
	Error        string `json:"error,omitempty"`
}

// FieldInfo describes one queryable field.
type FieldInfo struct {
	Name      string   `json:"name" yaml:"name"`
	Aliases   []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Role      string   `json:"role" yaml:"role"`
	Table     string   `json:"table" yaml:"table"`
	Column    string   `json:"column" yaml:"column"`
	Type      string   `json:"type" yaml:"type"`
	Operators []string `json:"operators" yaml:"operators"`
	Enum      string   `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// RoleInfo describes one join role.
type RoleInfo struct {
	Role   string `json:"role" yaml:"role"`
	Table  string `json:"table" yaml:"table"`
	Alias  string `json:"alias" yaml:"alias"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Fanout bool   `json:"fanout,omitempty" yaml:"fanout,omitempty"`
}

// Example is a documented request.
type Example struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	URL         string `json:"url" yaml:"url"`
}

// ExampleCheck is the result of compiling one documented request.
type ExampleCheck struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	OK    bool   `json:"ok"`
	Mode  string `json:"mode,omitempty"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error,omitempty"`
}

// ReferenceValue maps a reference name to its numeric code.
type ReferenceValue struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the readiness body; Checks maps a component to "ok" or
// its failure.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the API response for errors.
type ErrorResponse struct {
	Error      string `json:"error"`
	Key        string `json:"key,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       int    `json:"code"`
}
