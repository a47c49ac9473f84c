package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the rendering differences between data stores.
type Dialect struct {
	Name string

	// Numbered placeholders render as $1, $2, ...; otherwise ?.
	Numbered bool

	// QuoteChar wraps output column aliases.
	QuoteChar byte

	// OffsetFirst renders OFFSET before LIMIT.
	OffsetFirst bool
}

var (
	Snowflake = Dialect{Name: "snowflake", QuoteChar: '"'}
	Postgres  = Dialect{Name: "postgres", Numbered: true, QuoteChar: '"'}
	DuckDB    = Dialect{Name: "duckdb", QuoteChar: '"'}
	SQLite    = Dialect{Name: "sqlite", QuoteChar: '"'}
	Trino     = Dialect{Name: "trino", QuoteChar: '"', OffsetFirst: true}
	BigQuery  = Dialect{Name: "bigquery", QuoteChar: '`'}

	// Lint renders statements the SQL lint parser accepts.
	Lint = Dialect{Name: "lint", QuoteChar: '`'}
)

var dialects = map[string]Dialect{
	Snowflake.Name: Snowflake,
	Postgres.Name:  Postgres,
	"postgresql":   Postgres,
	DuckDB.Name:    DuckDB,
	SQLite.Name:    SQLite,
	Trino.Name:     Trino,
	BigQuery.Name:  BigQuery,
	Lint.Name:      Lint,
}

// DialectByName looks up a dialect.
func DialectByName(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown SQL dialect: %s", name)
	}
	return d, nil
}

// Placeholder renders the n-th (1-based) bound parameter.
func (d Dialect) Placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Quote wraps an output alias. Aliases are validated identifiers, so the quote
// character never occurs inside one.
func (d Dialect) Quote(alias string) string {
	q := string(d.QuoteChar)
	return q + alias + q
}

func (d Dialect) limitClause(limit, offset int) string {
	switch {
	case offset == 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case d.OffsetFirst:
		return fmt.Sprintf("OFFSET %d LIMIT %d", offset, limit)
	default:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
}
