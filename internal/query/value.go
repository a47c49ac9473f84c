package query

import (
	"strings"

	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/schema"
)

// parseValue applies the operator-prefix grammar to one filter value.
//
//	v            equality
//	v1,v2        membership
//	eq:v         equality, commas kept literally
//	in:v1,v2     membership
//	ne:v[,v2]    exclusion
//	gt: gte: lt: lte: + one value
//	between:a,b  inclusive range
//	like: starts: ends: contains: + text, taken verbatim
//	null: notnull:  operand ignored
//
// On text fields a word before a colon that names no operator is data, so
// companyName=Re:Build is an equality test.
func parseValue(key, raw string, t schema.FieldType) (Value, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.NewMalformedValue(key, raw, "empty filter value")
	}

	prefix, operand, hasPrefix := strings.Cut(raw, ":")
	if !hasPrefix || !isPrefixWord(prefix) {
		return equalsList(key, raw)
	}

	switch op := schema.Operator(strings.ToLower(prefix)); op {
	case schema.OpEq:
		if operand == "" {
			return nil, errors.NewMalformedValue(key, raw, "eq: requires a value")
		}
		return Equals{Values: []string{operand}}, nil
	case schema.OpIn:
		return equalsList(key, operand)
	case schema.OpNe:
		values, err := splitList(key, operand)
		if err != nil {
			return nil, err
		}
		return NotEquals{Values: values}, nil
	case schema.OpGt, schema.OpGte, schema.OpLt, schema.OpLte:
		v := strings.TrimSpace(operand)
		if v == "" {
			return nil, errors.NewMalformedValue(key, raw, string(op)+": requires a value")
		}
		if strings.Contains(v, ",") {
			return nil, errors.NewMalformedValue(key, raw, string(op)+": accepts a single value")
		}
		return Comparison{Op: op, Value: v}, nil
	case schema.OpBetween:
		parts := strings.Split(operand, ",")
		if len(parts) != 2 {
			return nil, errors.NewMalformedValue(key, raw, "between: requires exactly two bounds, e.g. between:2018,2022")
		}
		lo, hi := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if lo == "" || hi == "" {
			return nil, errors.NewMalformedValue(key, raw, "between: bounds must not be empty")
		}
		return Range{Lo: lo, Hi: hi}, nil
	case schema.OpLike, schema.OpStarts, schema.OpEnds, schema.OpContains:
		if operand == "" {
			return nil, errors.NewMalformedValue(key, raw, string(op)+": requires a pattern")
		}
		return Pattern{Op: op, Value: operand}, nil
	case schema.OpNull:
		return NullTest{}, nil
	case schema.OpNotNull:
		return NullTest{Not: true}, nil
	default:
		if t == schema.TypeText {
			return equalsList(key, raw)
		}
		return nil, errors.NewMalformedValue(key, raw, "unknown operator prefix "+prefix+":")
	}
}

// isPrefixWord reports whether s looks like an operator name rather than data.
func isPrefixWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func equalsList(key, raw string) (Value, error) {
	values, err := splitList(key, raw)
	if err != nil {
		return nil, err
	}
	return Equals{Values: values}, nil
}

func splitList(key, raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			return nil, errors.NewMalformedValue(key, raw, "empty element in value list")
		}
		values = append(values, v)
	}
	return values, nil
}
