// Package compiler turns a parsed Query into an injection-safe Statement.
//
// Compilation is pure: it reads only the immutable schema registry and the
// Query, so one Compiler may serve any number of goroutines.
package compiler

import (
	"math"
	"strings"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/internal/schema"
)

// Options bound the statements a Compiler produces.
type Options struct {
	Dialect         Dialect
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Dialect:         Snowflake,
		DefaultPageSize: 100,
		MaxPageSize:     1000,
	}
}

// Compiler compiles queries against one registry.
type Compiler struct {
	reg    *schema.Registry
	parser *query.Parser
	opts   Options
}

// New creates a Compiler. Zero page sizes take the defaults.
func New(reg *schema.Registry, opts Options) *Compiler {
	def := DefaultOptions()
	if opts.Dialect.Name == "" {
		opts.Dialect = def.Dialect
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = def.MaxPageSize
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = def.DefaultPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	return &Compiler{reg: reg, parser: query.NewParser(reg), opts: opts}
}

// Registry returns the registry the compiler resolves against.
func (c *Compiler) Registry() *schema.Registry {
	return c.reg
}

// Options returns the effective options.
func (c *Compiler) Options() Options {
	return c.opts
}

// WithDialect returns a compiler rendering for d.
func (c *Compiler) WithDialect(d Dialect) *Compiler {
	cp := *c
	cp.opts.Dialect = d
	return &cp
}

// Parse parses params into a Query.
func (c *Compiler) Parse(params query.Params) (*query.Query, error) {
	return c.parser.Parse(params)
}

// CompileParams parses and compiles in one step.
func (c *Compiler) CompileParams(params query.Params) (*Statement, error) {
	q, err := c.parser.Parse(params)
	if err != nil {
		return nil, err
	}
	return c.Compile(q)
}

// Compile renders q. Every error is raised before any data-store call.
func (c *Compiler) Compile(q *query.Query) (*Statement, error) {
	if q.CountOnly {
		return c.compileCount(q)
	}

	stmt := &Statement{Dialect: c.opts.Dialect.Name}
	if err := c.paging(q, stmt); err != nil {
		return nil, err
	}

	proj, err := c.compileProjection(q)
	if err != nil {
		return nil, err
	}
	order, orderFields, err := c.compileOrder(q.OrderBy, proj)
	if err != nil {
		return nil, err
	}

	fields := filterFields(q.Filters)
	fields = append(fields, proj.fields...)
	fields = append(fields, orderFields...)
	plan, err := c.resolveJoins(fields)
	if err != nil {
		return nil, err
	}

	b := &binder{dialect: c.opts.Dialect}
	where, err := c.compileFilters(q.Filters, b)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if proj.distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(proj.exprs, ", "))
	c.writeFrom(&sb, plan, where)
	if len(proj.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(proj.groupBy, ", "))
	}
	inner := sb.String()

	if len(order) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(order, ", "))
	}
	sb.WriteByte(' ')
	sb.WriteString(c.opts.Dialect.limitClause(stmt.Limit, stmt.Offset))

	stmt.SQL = sb.String()
	stmt.Args = b.args
	stmt.Columns = proj.columns
	stmt.Joins = joinsOf(plan)
	stmt.GroupBy = proj.groupBy
	stmt.HasWindow = proj.hasWindow
	if stmt.Mode == ModePage {
		stmt.totalSQL = "SELECT COUNT(*) AS " + c.opts.Dialect.Quote("count") + " FROM (" + inner + ") total_rows"
	}
	return stmt, nil
}

// compileCount renders the scalar-count form. Only filters drive joins.
func (c *Compiler) compileCount(q *query.Query) (*Statement, error) {
	plan, err := c.resolveJoins(filterFields(q.Filters))
	if err != nil {
		return nil, err
	}
	b := &binder{dialect: c.opts.Dialect}
	where, err := c.compileFilters(q.Filters, b)
	if err != nil {
		return nil, err
	}

	count := "COUNT(*)"
	if hasFanout(plan) {
		base := c.reg.Base()
		count = "COUNT(DISTINCT " + base.Alias + "." + base.Key + ")"
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + count + " AS " + c.opts.Dialect.Quote("count"))
	c.writeFrom(&sb, plan, where)

	return &Statement{
		SQL:     sb.String(),
		Args:    b.args,
		Dialect: c.opts.Dialect.Name,
		Mode:    ModeCount,
		Columns: []Column{{Alias: "count", Kind: query.KindAggregate.String()}},
		Joins:   joinsOf(plan),
	}, nil
}

func (c *Compiler) writeFrom(sb *strings.Builder, plan []*schema.JoinEdge, where []string) {
	base := c.reg.Base()
	sb.WriteString(" FROM " + base.Table + " " + base.Alias)
	for _, e := range plan {
		sb.WriteByte(' ')
		sb.WriteString(c.renderJoin(e))
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
}

// paging validates limit/offset or page/page_size and selects the mode.
func (c *Compiler) paging(q *query.Query, stmt *Statement) error {
	maxSize := c.opts.MaxPageSize

	if q.Limit != nil || q.Offset != nil {
		if q.Page != nil || q.PageSize != nil {
			return errors.NewMalformedValue(query.ParamLimit, "", "limit/offset cannot be combined with page/page_size")
		}
		stmt.Mode = ModeLimit
		stmt.Limit = c.opts.DefaultPageSize
		if q.Limit != nil {
			if *q.Limit < 1 || *q.Limit > maxSize {
				return errors.NewOutOfRange(query.ParamLimit, *q.Limit, 1, maxSize)
			}
			stmt.Limit = *q.Limit
		}
		if q.Offset != nil {
			if *q.Offset < 0 {
				return errors.NewOutOfRange(query.ParamOffset, *q.Offset, 0, math.MaxInt32)
			}
			stmt.Offset = *q.Offset
		}
		stmt.Page = 1
		stmt.PageSize = stmt.Limit
		return nil
	}

	stmt.Mode = ModePage
	stmt.Page = 1
	stmt.PageSize = c.opts.DefaultPageSize
	if q.PageSize != nil {
		if *q.PageSize < 1 || *q.PageSize > maxSize {
			return errors.NewOutOfRange(query.ParamPageSize, *q.PageSize, 1, maxSize)
		}
		stmt.PageSize = *q.PageSize
	}
	if q.Page != nil {
		// Bound the page so the offset stays representable.
		if *q.Page < 1 || *q.Page > math.MaxInt32/stmt.PageSize {
			return errors.NewOutOfRange(query.ParamPage, *q.Page, 1, math.MaxInt32/stmt.PageSize)
		}
		stmt.Page = *q.Page
	}
	stmt.Limit = stmt.PageSize
	stmt.Offset = (stmt.Page - 1) * stmt.PageSize
	return nil
}

func filterFields(filters []query.Filter) []*schema.Field {
	out := make([]*schema.Field, len(filters))
	for i, f := range filters {
		out[i] = f.Field
	}
	return out
}
