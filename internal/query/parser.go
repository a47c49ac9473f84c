package query

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/schema"
)

// structural maps case-folded spellings to the canonical structural parameter.
var structural = map[string]string{
	"select":     ParamSelect,
	"groupby":    ParamGroupBy,
	"group_by":   ParamGroupBy,
	"orderby":    ParamOrderBy,
	"order_by":   ParamOrderBy,
	"limit":      ParamLimit,
	"offset":     ParamOffset,
	"page":       ParamPage,
	"page_size":  ParamPageSize,
	"pagesize":   ParamPageSize,
	"count_only": ParamCountOnly,
	"countonly":  ParamCountOnly,
	"timeout":    ParamTimeout,
}

// Parser turns request parameters into a Query resolved against a registry.
// It holds no mutable state and is safe for concurrent use.
type Parser struct {
	reg *schema.Registry
}

// NewParser creates a parser bound to reg.
func NewParser(reg *schema.Registry) *Parser {
	return &Parser{reg: reg}
}

// Parse builds the Query AST. The first invalid parameter aborts parsing.
func (p *Parser) Parse(params Params) (*Query, error) {
	params, err := ExpandAnalysis(params)
	if err != nil {
		return nil, err
	}
	if d, ok, err := ParseDetail(params); err != nil {
		return nil, err
	} else if ok {
		return nil, errors.NewValidation(d.FlagKey, "a detail lookup runs several statements and has no single compiled form")
	}

	q := &Query{}
	// Filters are keyed on the column they resolve to, so case variants
	// and aliases of one field count as repeats.
	seen := make(map[string]string, len(params))
	structValues := make(map[string]Param)

	for _, kv := range params {
		if name, ok := structural[cases.Fold().String(kv.Key)]; ok {
			if prev, dup := structValues[name]; dup {
				return nil, errors.NewMalformedValue(kv.Key, kv.Value, "parameter already given as "+prev.Key)
			}
			structValues[name] = kv
			continue
		}

		filter, err := p.filter(kv)
		if err != nil {
			return nil, err
		}
		col := filter.Field.Qualified()
		if prev, dup := seen[col]; dup {
			reason := "parameter given more than once"
			if prev != kv.Key {
				reason = "field already filtered as " + prev
			}
			return nil, errors.NewMalformedValue(kv.Key, kv.Value, reason)
		}
		seen[col] = kv.Key
		q.Filters = append(q.Filters, filter)
	}

	if err := p.paging(q, structValues); err != nil {
		return nil, err
	}

	if kv, ok := structValues[ParamSelect]; ok {
		items, err := parseSelect(kv.Key, kv.Value, p.resolver())
		if err != nil {
			return nil, err
		}
		q.Select = items
	}
	if kv, ok := structValues[ParamGroupBy]; ok {
		refs, err := p.fieldList(kv)
		if err != nil {
			return nil, err
		}
		q.GroupBy = refs
	}
	if kv, ok := structValues[ParamOrderBy]; ok {
		terms, err := p.orderBy(kv, q.Select)
		if err != nil {
			return nil, err
		}
		q.OrderBy = terms
	}
	return q, nil
}

func (p *Parser) resolver() resolveFunc {
	return func(key, name string) (*schema.Field, error) {
		f, err := p.reg.Resolve(name, "")
		if err != nil {
			return nil, errors.WithKey(err, key)
		}
		return f, nil
	}
}

func (p *Parser) filter(kv Param) (Filter, error) {
	f, err := p.resolver()(kv.Key, kv.Key)
	if err != nil {
		return Filter{}, err
	}
	value, err := parseValue(kv.Key, kv.Value, f.Type)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Ref: Ref{Key: kv.Key, Name: kv.Key, Field: f}, Value: value}, nil
}

func (p *Parser) paging(q *Query, values map[string]Param) error {
	ints := []struct {
		name string
		dst  **int
	}{
		{ParamLimit, &q.Limit},
		{ParamOffset, &q.Offset},
		{ParamPage, &q.Page},
		{ParamPageSize, &q.PageSize},
	}
	for _, in := range ints {
		kv, ok := values[in.name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv.Value))
		if err != nil {
			return errors.NewMalformedValue(kv.Key, kv.Value, "expected an integer")
		}
		*in.dst = &n
	}

	if kv, ok := values[ParamCountOnly]; ok {
		v, err := parseFlag(kv)
		if err != nil {
			return err
		}
		q.CountOnly = v
	}
	return nil
}

func parseFlag(kv Param) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(kv.Value)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, errors.NewMalformedValue(kv.Key, kv.Value, "expected true, false, 1 or 0")
}

func (p *Parser) fieldList(kv Param) ([]Ref, error) {
	var refs []Ref
	for _, part := range strings.Split(kv.Value, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil, errors.NewMalformedValue(kv.Key, kv.Value, "empty element in field list")
		}
		f, err := p.resolver()(kv.Key, name)
		if err != nil {
			return nil, err
		}
		refs = append(refs, Ref{Key: kv.Key, Name: name, Field: f})
	}
	return refs, nil
}

// orderBy parses field[:asc|:desc] terms. A term may name a select alias.
func (p *Parser) orderBy(kv Param, items []Item) ([]OrderTerm, error) {
	aliases := make(map[string]string)
	for _, item := range items {
		if item.ExplicitAlias || (item.Kind != KindColumn && item.Kind != KindDistinct) {
			aliases[cases.Fold().String(item.Alias)] = item.Alias
		}
	}

	var terms []OrderTerm
	for _, part := range strings.Split(kv.Value, ",") {
		name, dir, _ := strings.Cut(strings.TrimSpace(part), ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.NewMalformedValue(kv.Key, kv.Value, "empty element in orderBy")
		}

		term := OrderTerm{Ref: Ref{Key: kv.Key, Name: name}}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			term.Desc = true
		default:
			return nil, errors.NewMalformedValue(kv.Key, kv.Value, "direction must be asc or desc, got "+dir)
		}

		if alias, ok := aliases[cases.Fold().String(name)]; ok {
			term.Alias = alias
		} else {
			f, err := p.resolver()(kv.Key, name)
			if err != nil {
				return nil, err
			}
			term.Field = f
		}
		terms = append(terms, term)
	}
	return terms, nil
}
