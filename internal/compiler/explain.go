package compiler

import (
	"github.com/canonica-labs/dealquery/internal/query"
)

// Plan describes how a request compiles without exposing parameter values.
type Plan struct {
	Mode       Mode       `json:"mode"`
	Dialect    string     `json:"dialect"`
	SQL        string     `json:"sql"`
	ParamCount int        `json:"param_count"`
	Columns    []Column   `json:"columns"`
	Joins      []Join     `json:"joins"`
	GroupBy    []string   `json:"group_by,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
	Lint       LintReport `json:"lint"`
}

// Explain compiles params and reports the plan.
func (c *Compiler) Explain(params query.Params) (*Plan, error) {
	q, err := c.parser.Parse(params)
	if err != nil {
		return nil, err
	}
	stmt, err := c.Compile(q)
	if err != nil {
		return nil, err
	}
	lint, err := c.Lint(q)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Mode:       stmt.Mode,
		Dialect:    stmt.Dialect,
		SQL:        stmt.SQL,
		ParamCount: len(stmt.Args),
		Columns:    stmt.Columns,
		Joins:      stmt.Joins,
		GroupBy:    stmt.GroupBy,
		Limit:      stmt.Limit,
		Offset:     stmt.Offset,
		Lint:       lint,
	}, nil
}
