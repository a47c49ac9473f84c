package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/dealquery/internal/app"
	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/pkg/models"
)

func (c *CLI) newCompileCmd() *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "compile <query>",
		Short: "Compile a request into SQL and its parameters",
		Long: `Compile a raw query string into parameterized SQL without running it.

The dialect defaults to engine.dialect, then database.driver.`,
		Example: `  dealq compile 'type=Buyback&count_only=true'
  dealq compile --dialect postgres 'select=transactionId,buyerCompanyName&year>=2020&page=2'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCompile(args[0], dialect)
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "SQL dialect: snowflake, postgres, duckdb, sqlite, trino")
	return cmd
}

// CompileOutput is the JSON form of a compiled statement.
type CompileOutput struct {
	Mode    string        `json:"mode"`
	Dialect string        `json:"dialect"`
	SQL     string        `json:"sql"`
	Args    []interface{} `json:"args"`
	Total   string        `json:"total_sql,omitempty"`
}

func (c *CLI) runCompile(arg, dialect string) error {
	params, err := parseQueryArg(arg)
	if err != nil {
		return err
	}
	reg, err := app.LoadRegistry(c.cfg)
	if err != nil {
		return err
	}
	comp, err := app.NewCompiler(c.cfg, reg)
	if err != nil {
		return err
	}
	if dialect != "" {
		d, err := compiler.DialectByName(dialect)
		if err != nil {
			return err
		}
		comp = comp.WithDialect(d)
	}

	stmt, err := comp.CompileParams(params)
	if err != nil {
		return err
	}
	out := CompileOutput{
		Mode:    string(stmt.Mode),
		Dialect: stmt.Dialect,
		SQL:     stmt.SQL,
		Args:    stmt.Args,
	}
	if out.Args == nil {
		out.Args = []interface{}{}
	}
	if stmt.Mode == compiler.ModePage {
		if total, err := stmt.CountStatement(); err == nil {
			out.Total = total.SQL
		}
	}

	if c.jsonOutput {
		return c.outputJSON(out)
	}

	c.printf("-- mode: %s, dialect: %s\n", out.Mode, out.Dialect)
	fmt.Fprintln(c.out, out.SQL)
	if len(out.Args) > 0 {
		c.println("")
		c.println("Parameters:")
		for i, a := range out.Args {
			c.printf("  %d: %v\n", i+1, a)
		}
	}
	if out.Total != "" {
		c.println("")
		c.println("-- total:")
		c.println(out.Total)
	}
	return nil
}

func (c *CLI) newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <query>",
		Short: "Show how a request compiles",
		Long: `Show the render mode, joins, output columns and lint result of a request.
Parameter values are never shown.`,
		Example: `  dealq explain 'select=buyerCompanyName,sellerCompanyName&page_size=10'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExplain(cmd.Context(), args[0])
		},
	}
}

func (c *CLI) runExplain(ctx context.Context, arg string) error {
	params, err := parseQueryArg(arg)
	if err != nil {
		return err
	}

	var plan *models.ExplainResponse
	if c.remote() {
		plan, err = c.newGatewayClient().Explain(ctx, params)
	} else {
		svc, db, openErr := c.localService(ctx, false)
		if openErr != nil {
			return openErr
		}
		defer db.Close()
		plan, err = svc.Explain(params)
	}
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(plan)
	}

	c.printf("Mode:       %s\n", plan.Mode)
	c.printf("Dialect:    %s\n", plan.Dialect)
	c.printf("Parameters: %d\n", plan.ParamCount)
	if plan.Limit > 0 {
		c.printf("Limit:      %d (offset %d)\n", plan.Limit, plan.Offset)
	}
	if len(plan.Joins) > 0 {
		c.println("Joins:")
		for _, j := range plan.Joins {
			fanout := ""
			if j.Fanout {
				fanout = " (fan-out)"
			}
			c.printf("  %-18s %s %s%s\n", j.Role, j.Table, j.Alias, fanout)
		}
	}
	c.println("Columns:")
	for _, col := range plan.Columns {
		c.printf("  %-24s %s\n", col.Alias, col.Kind)
	}
	if len(plan.GroupBy) > 0 {
		c.printf("Group by:   %s\n", strings.Join(plan.GroupBy, ", "))
	}
	switch {
	case plan.Lint.Error != "":
		c.printf("Lint:       failed: %s\n", plan.Lint.Error)
	case plan.Lint.Checked:
		c.printf("Lint:       ok (%d placeholders)\n", plan.Lint.Placeholders)
	default:
		c.printf("Lint:       skipped: %s\n", plan.Lint.Skipped)
	}
	c.println("")
	c.println(plan.SQL)
	return nil
}

func (c *CLI) newQueryCmd() *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "query <query>",
		Short: "Run a request and print the response body",
		Long: `Run a request and print the response body the endpoint would return.

With --endpoint the request runs on the gateway; otherwise it runs against
the configured database. --demo seeds the miniature demo data first.`,
		Example: `  dealq query --demo 'type=Buyback&count_only=true'
  dealq query --endpoint http://localhost:8080 'select=transactionId,year&page_size=5'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQuery(cmd.Context(), args[0], demo)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "seed demo data into the local database first")
	return cmd
}

func (c *CLI) runQuery(ctx context.Context, arg string, demo bool) error {
	params, err := parseQueryArg(arg)
	if err != nil {
		return err
	}

	if c.remote() {
		resp, err := c.newGatewayClient().Transactions(ctx, params)
		if err != nil {
			return err
		}
		c.debugf("query_id=%s cache_hit=%t\n", resp.QueryID, resp.CacheHit)
		return c.writeBody(resp.Body)
	}

	svc, db, err := c.localService(ctx, demo)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := svc.Query(ctx, params)
	if err != nil {
		return err
	}
	c.debugf("query_id=%s mode=%s\n", res.QueryID, res.Mode)
	body, err := json.Marshal(res.Body())
	if err != nil {
		return err
	}
	return c.writeBody(body)
}

// writeBody indents a response body without reordering its keys.
func (c *CLI) writeBody(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("malformed response body: %w", err)
	}
	buf.WriteByte('\n')
	_, err := c.out.Write(buf.Bytes())
	return err
}
