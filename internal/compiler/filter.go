package compiler

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/internal/schema"
)

// binder accumulates the parameter vector in render order.
type binder struct {
	dialect Dialect
	args    []interface{}
}

func (b *binder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

func (b *binder) bindAll(values []interface{}) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = b.bind(v)
	}
	return strings.Join(ph, ", ")
}

// compileFilters renders each clause left to right; clauses AND together.
func (c *Compiler) compileFilters(filters []query.Filter, b *binder) ([]string, error) {
	preds := make([]string, 0, len(filters))
	for _, f := range filters {
		pred, err := c.compileFilter(f, b)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

func (c *Compiler) compileFilter(f query.Filter, b *binder) (string, error) {
	field := f.Field
	op := f.Value.Operator()
	if !field.Allows(op) {
		return "", errors.NewUnsupportedOperator(f.Key, field.Name, string(op))
	}

	values := make([]interface{}, 0, len(f.Value.Operands()))
	for _, raw := range f.Value.Operands() {
		v, err := c.operand(f.Ref, raw)
		if err != nil {
			return "", err
		}
		values = append(values, v)
	}

	col := field.Qualified()
	switch v := f.Value.(type) {
	case query.Equals:
		if len(values) == 1 {
			return col + " = " + b.bind(values[0]), nil
		}
		return col + " IN (" + b.bindAll(values) + ")", nil
	case query.NotEquals:
		if len(values) == 1 {
			return col + " <> " + b.bind(values[0]), nil
		}
		return col + " NOT IN (" + b.bindAll(values) + ")", nil
	case query.Comparison:
		return col + " " + comparisonSQL[v.Op] + " " + b.bind(values[0]), nil
	case query.Range:
		if err := checkRangeOrder(f, values[0], values[1]); err != nil {
			return "", err
		}
		return col + " BETWEEN " + b.bind(values[0]) + " AND " + b.bind(values[1]), nil
	case query.Pattern:
		return col + " LIKE " + b.bind(likePattern(v.Op, v.Value)), nil
	case query.NullTest:
		if v.Not {
			return col + " IS NOT NULL", nil
		}
		return col + " IS NULL", nil
	}
	return "", errors.NewUnsupportedOperator(f.Key, field.Name, string(op))
}

var comparisonSQL = map[schema.Operator]string{
	schema.OpGt:  ">",
	schema.OpGte: ">=",
	schema.OpLt:  "<",
	schema.OpLte: "<=",
}

func likePattern(op schema.Operator, v string) string {
	switch op {
	case schema.OpStarts:
		return v + "%"
	case schema.OpEnds:
		return "%" + v
	case schema.OpContains:
		return "%" + v + "%"
	}
	return v
}

// operand converts a literal to the bound Go value for the field's type.
func (c *Compiler) operand(ref query.Ref, raw string) (interface{}, error) {
	f := ref.Field
	switch f.Type {
	case schema.TypeInteger, schema.TypeDatePart:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.NewTypeMismatch(ref.Key, f.Name, string(f.Type), "expected an integer, got "+strconv.Quote(raw))
		}
		return n, nil
	case schema.TypeDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.NewTypeMismatch(ref.Key, f.Name, string(f.Type), "expected a decimal number, got "+strconv.Quote(raw))
		}
		return d, nil
	case schema.TypeEnum:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		enum, ok := c.reg.Enum(f.Enum)
		if !ok {
			return nil, errors.NewTypeMismatch(ref.Key, f.Name, string(f.Type), "no reference values registered")
		}
		id, ok := enum.Lookup(raw)
		if !ok {
			return nil, errors.NewTypeMismatch(ref.Key, f.Name, string(f.Type), "unknown "+f.Enum+" value "+strconv.Quote(raw))
		}
		return id, nil
	}
	return raw, nil
}

func checkRangeOrder(f query.Filter, lo, hi interface{}) error {
	var inverted bool
	switch l := lo.(type) {
	case int64:
		inverted = l > hi.(int64)
	case decimal.Decimal:
		inverted = l.GreaterThan(hi.(decimal.Decimal))
	}
	if inverted {
		return errors.NewMalformedValue(f.Key, strings.Join(f.Value.Operands(), ","), "between: lower bound exceeds upper bound")
	}
	return nil
}
