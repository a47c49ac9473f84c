package executor

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed demo.sql
var demoSQL string

// SeedDemo creates the transaction tables in a DB and loads the small demo
// data set. It is meant for an in-memory SQLite or DuckDB store.
func SeedDemo(ctx context.Context, a *DB) error {
	for _, stmt := range strings.Split(demoSQL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := a.Handle().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s adapter: seeding demo data: %w", a.eng.label, err)
		}
	}
	return nil
}
