package compiler

import (
	"fmt"
)

// Mode is the render mode of a statement.
type Mode string

const (
	ModeCount Mode = "count"
	ModePage  Mode = "page"
	ModeLimit Mode = "limit"
)

// Column describes one output column in projection order.
type Column struct {
	Alias string `json:"alias"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// Join is one resolved join edge.
type Join struct {
	Role   string `json:"role"`
	Table  string `json:"table"`
	Alias  string `json:"alias"`
	Fanout bool   `json:"fanout,omitempty"`
}

// Statement is compiled SQL text plus its ordered parameter vector.
// User-supplied literals reach the data store only through Args.
type Statement struct {
	SQL  string
	Args []interface{}

	Dialect string
	Mode    Mode
	Columns []Column
	Joins   []Join
	GroupBy []string

	HasWindow bool

	Limit    int
	Offset   int
	Page     int
	PageSize int

	// totalSQL counts the rows the page would be drawn from.
	totalSQL string
}

// CountStatement returns the statement computing the total row count for a
// paged statement. It binds the same parameters.
func (s *Statement) CountStatement() (*Statement, error) {
	if s.totalSQL == "" {
		return nil, fmt.Errorf("statement in %s mode has no total count", s.Mode)
	}
	return &Statement{
		SQL:     s.totalSQL,
		Args:    s.Args,
		Dialect: s.Dialect,
		Mode:    ModeCount,
		Columns: []Column{{Alias: "count", Kind: "aggregate"}},
		Joins:   s.Joins,
	}, nil
}
