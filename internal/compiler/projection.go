package compiler

import (
	"strings"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/internal/schema"
)

// projection is the compiled select list.
type projection struct {
	exprs   []string
	columns []Column

	grouped  bool
	groupBy  []string
	groupSet map[string]bool

	distinct  bool
	hasWindow bool

	// projected holds the qualified columns of bare and DISTINCT items.
	projected map[string]bool

	fields []*schema.Field
}

func (c *Compiler) defaultItems() []query.Item {
	var items []query.Item
	for _, pf := range c.reg.Fields() {
		if !c.reg.IsBase(pf.Role) {
			continue
		}
		ref := query.Ref{Key: query.ParamSelect, Name: pf.Name, Field: pf.Field}
		items = append(items, query.Item{Kind: query.KindColumn, Arg: &ref, Alias: pf.Name})
	}
	return items
}

func (c *Compiler) compileProjection(q *query.Query) (*projection, error) {
	items := q.Select
	if len(items) == 0 {
		items = c.defaultItems()
	}

	p := &projection{groupSet: make(map[string]bool), projected: make(map[string]bool)}
	aliases := make(map[string]bool, len(items))
	var bare []string

	for _, item := range items {
		key := strings.ToLower(item.Alias)
		if aliases[key] {
			return nil, errors.NewValidation(query.ParamSelect, "duplicate output alias "+item.Alias)
		}
		aliases[key] = true

		expr, err := c.itemExpr(item, p)
		if err != nil {
			return nil, err
		}
		p.exprs = append(p.exprs, expr+" AS "+c.opts.Dialect.Quote(item.Alias))

		col := Column{Alias: item.Alias, Kind: item.Kind.String()}
		if item.Arg != nil {
			col.Field = item.Arg.Field.Name
		}
		p.columns = append(p.columns, col)

		switch item.Kind {
		case query.KindColumn, query.KindDistinct:
			bare = append(bare, expr)
			p.projected[expr] = true
			if item.Kind == query.KindDistinct {
				p.distinct = true
			}
		case query.KindAggregate:
			p.grouped = true
		case query.KindWindow:
			p.hasWindow = true
		}
	}

	for _, ref := range q.GroupBy {
		p.grouped = true
		p.fields = append(p.fields, ref.Field)
		p.addGroup(ref.Field.Qualified())
	}
	if p.grouped {
		// Every bare column must be grouped; windows never are.
		for _, expr := range bare {
			p.addGroup(expr)
		}
	}
	return p, nil
}

func (p *projection) addGroup(expr string) {
	if p.groupSet[expr] {
		return
	}
	p.groupSet[expr] = true
	p.groupBy = append(p.groupBy, expr)
}

func (c *Compiler) itemExpr(item query.Item, p *projection) (string, error) {
	if item.Arg != nil {
		p.fields = append(p.fields, item.Arg.Field)
	}

	switch item.Kind {
	case query.KindColumn, query.KindDistinct:
		return item.Arg.Field.Qualified(), nil
	case query.KindAggregate:
		return c.aggregateExpr(item)
	case query.KindWindow:
		return c.windowExpr(item, p)
	}
	return "", errors.NewValidation(query.ParamSelect, "unsupported select item")
}

func (c *Compiler) aggregateExpr(item query.Item) (string, error) {
	if item.Arg == nil {
		return item.Func + "(*)", nil
	}
	f := item.Arg.Field
	if (item.Func == "SUM" || item.Func == "AVG") && !f.Type.Numeric() {
		return "", errors.NewTypeMismatch(item.Arg.Key, f.Name, string(f.Type), item.Func+" requires a numeric field")
	}
	if item.Distinct {
		return "COUNT(DISTINCT " + f.Qualified() + ")", nil
	}
	return item.Func + "(" + f.Qualified() + ")", nil
}

func (c *Compiler) windowExpr(item query.Item, p *projection) (string, error) {
	fn, err := c.aggregateExpr(item)
	if err != nil {
		return "", err
	}
	if item.Arg == nil && item.Func != "COUNT" {
		fn = item.Func + "()"
	}

	var over []string
	if len(item.Partition) > 0 {
		cols := make([]string, len(item.Partition))
		for i, ref := range item.Partition {
			p.fields = append(p.fields, ref.Field)
			cols[i] = ref.Field.Qualified()
		}
		over = append(over, "PARTITION BY "+strings.Join(cols, ", "))
	}
	if len(item.WindowOrder) > 0 {
		cols := make([]string, len(item.WindowOrder))
		for i, term := range item.WindowOrder {
			p.fields = append(p.fields, term.Field)
			cols[i] = term.Field.Qualified() + direction(term.Desc)
		}
		over = append(over, "ORDER BY "+strings.Join(cols, ", "))
	}
	return fn + " OVER (" + strings.Join(over, " ") + ")", nil
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}

// compileOrder renders ORDER BY terms. Without explicit terms, ungrouped
// row queries are ordered by the base key so pages are stable.
func (c *Compiler) compileOrder(terms []query.OrderTerm, p *projection) ([]string, []*schema.Field, error) {
	if len(terms) == 0 {
		if p.grouped || p.distinct {
			return nil, nil, nil
		}
		base := c.reg.Base()
		return []string{base.Alias + "." + base.Key + " ASC"}, nil, nil
	}

	var out []string
	var fields []*schema.Field
	for _, t := range terms {
		if t.Alias != "" {
			out = append(out, c.opts.Dialect.Quote(t.Alias)+direction(t.Desc))
			continue
		}
		col := t.Field.Qualified()
		switch {
		case p.grouped && !p.groupSet[col]:
			return nil, nil, errors.NewValidation(t.Key, "orderBy field "+t.Name+" must be grouped when aggregating; add it to select or groupBy")
		case p.distinct && !p.grouped && !p.projected[col]:
			return nil, nil, errors.NewValidation(t.Key, "orderBy field "+t.Name+" must be selected when using DISTINCT")
		}
		fields = append(fields, t.Field)
		out = append(out, col+direction(t.Desc))
	}
	return out, fields, nil
}
