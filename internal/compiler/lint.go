package compiler

import (
	"fmt"

	"github.com/xwb1989/sqlparser"

	"github.com/canonica-labs/dealquery/internal/query"
)

// LintReport is the result of syntax-checking a rendered statement.
type LintReport struct {
	Checked      bool   `json:"checked"`
	Skipped      string `json:"skipped,omitempty"`
	Placeholders int    `json:"placeholders"`
	Error        string `json:"error,omitempty"`
}

// Lint re-renders q in the lint dialect and parses it. Window statements are
// outside the parser's grammar and are reported as skipped.
func (c *Compiler) Lint(q *query.Query) (LintReport, error) {
	stmt, err := c.WithDialect(Lint).Compile(q)
	if err != nil {
		return LintReport{}, err
	}
	if stmt.HasWindow {
		return LintReport{Skipped: "window functions are not supported by the lint parser"}, nil
	}

	report := LintReport{Checked: true}
	n, err := countPlaceholders(stmt.SQL)
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}
	report.Placeholders = n
	if n != len(stmt.Args) {
		report.Error = fmt.Sprintf("statement has %d placeholders for %d parameters", n, len(stmt.Args))
	}
	return report, nil
}

// countPlaceholders parses sql and counts its positional bind variables.
func countPlaceholders(sql string) (int, error) {
	tree, err := sqlparser.Parse(sql)
	if err != nil {
		return 0, fmt.Errorf("lint: %w", err)
	}
	n := 0
	err = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if v, ok := node.(*sqlparser.SQLVal); ok && v.Type == sqlparser.ValArg {
			n++
		}
		return true, nil
	}, tree)
	return n, err
}
