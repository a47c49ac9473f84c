// Package query parses request parameters into a Query AST.
//
// The parser resolves every referenced field against the schema registry,
// so a Query that parses without error names only known fields. Operator
// whitelists and operand types are checked later by the compiler.
package query

import (
	"github.com/canonica-labs/dealquery/internal/schema"
)

// Structural parameter names. Every other key is a filter field.
const (
	ParamSelect    = "select"
	ParamGroupBy   = "groupBy"
	ParamOrderBy   = "orderBy"
	ParamLimit     = "limit"
	ParamOffset    = "offset"
	ParamPage      = "page"
	ParamPageSize  = "page_size"
	ParamCountOnly = "count_only"
	ParamTimeout   = "timeout"
)

// Query is the parsed form of one request.
type Query struct {
	Filters []Filter
	Select  []Item
	GroupBy []Ref
	OrderBy []OrderTerm

	Limit    *int
	Offset   *int
	Page     *int
	PageSize *int

	CountOnly bool
}

// Ref is a field reference and the parameter that named it.
type Ref struct {
	Key   string
	Name  string
	Field *schema.Field
}

// Filter is one clause: a field and its operand set.
type Filter struct {
	Ref
	Value Value
}

// Value is the closed set of filter operand shapes.
type Value interface {
	Operator() schema.Operator
	// Operands returns the literal operands in the order they are bound.
	Operands() []string
}

// Equals is a single equality or, with several values, a membership test.
type Equals struct {
	Values []string
}

func (v Equals) Operator() schema.Operator {
	if len(v.Values) > 1 {
		return schema.OpIn
	}
	return schema.OpEq
}

func (v Equals) Operands() []string { return v.Values }

// NotEquals excludes one or more values.
type NotEquals struct {
	Values []string
}

func (NotEquals) Operator() schema.Operator { return schema.OpNe }

func (v NotEquals) Operands() []string { return v.Values }

// Comparison is gt, gte, lt or lte against one value.
type Comparison struct {
	Op    schema.Operator
	Value string
}

func (v Comparison) Operator() schema.Operator { return v.Op }

func (v Comparison) Operands() []string { return []string{v.Value} }

// Range is an inclusive between.
type Range struct {
	Lo string
	Hi string
}

func (Range) Operator() schema.Operator { return schema.OpBetween }

func (v Range) Operands() []string { return []string{v.Lo, v.Hi} }

// Pattern is a like, starts, ends or contains text match.
type Pattern struct {
	Op    schema.Operator
	Value string
}

func (v Pattern) Operator() schema.Operator { return v.Op }

func (v Pattern) Operands() []string { return []string{v.Value} }

// NullTest is null or notnull. It carries no operands.
type NullTest struct {
	Not bool
}

func (v NullTest) Operator() schema.Operator {
	if v.Not {
		return schema.OpNotNull
	}
	return schema.OpNull
}

func (NullTest) Operands() []string { return nil }

// ItemKind discriminates projection items.
type ItemKind int

const (
	KindColumn ItemKind = iota
	KindAggregate
	KindWindow
	KindDistinct
)

func (k ItemKind) String() string {
	switch k {
	case KindColumn:
		return "column"
	case KindAggregate:
		return "aggregate"
	case KindWindow:
		return "window"
	case KindDistinct:
		return "distinct"
	}
	return "unknown"
}

// Item is one entry of the select list.
type Item struct {
	Kind ItemKind

	// Func is the upper-case function name for aggregate and window items.
	Func string

	// Arg is nil for COUNT(*) and ranking functions.
	Arg *Ref

	// Distinct marks COUNT(DISTINCT field).
	Distinct bool

	Partition   []Ref
	WindowOrder []OrderTerm

	Alias         string
	ExplicitAlias bool
}

// OrderTerm is one ORDER BY entry. Alias is set when the term names a select alias.
type OrderTerm struct {
	Ref
	Alias string
	Desc  bool
}
