// Package schema holds the immutable field and join-edge catalog that every
// request is compiled against.
//
// A Registry is built once from a schema artifact and never mutated, so it
// may be shared by any number of goroutines without locking.
package schema

import (
	"slices"
)

// FieldType is the semantic type of a field.
type FieldType string

const (
	TypeInteger  FieldType = "integer"
	TypeText     FieldType = "text"
	TypeDatePart FieldType = "datepart"
	TypeDecimal  FieldType = "decimal"
	TypeEnum     FieldType = "enum"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeInteger, TypeText, TypeDatePart, TypeDecimal, TypeEnum:
		return true
	}
	return false
}

// Numeric reports whether operands of this type are numbers.
func (t FieldType) Numeric() bool {
	return t == TypeInteger || t == TypeDatePart || t == TypeDecimal
}

// Operator is a filter comparison selected by a value prefix.
type Operator string

const (
	OpEq       Operator = "eq"
	OpIn       Operator = "in"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpBetween  Operator = "between"
	OpLike     Operator = "like"
	OpStarts   Operator = "starts"
	OpEnds     Operator = "ends"
	OpContains Operator = "contains"
	OpNull     Operator = "null"
	OpNotNull  Operator = "notnull"
)

var allOperators = []Operator{
	OpEq, OpIn, OpNe, OpGt, OpGte, OpLt, OpLte, OpBetween,
	OpLike, OpStarts, OpEnds, OpContains, OpNull, OpNotNull,
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	return slices.Contains(allOperators, op)
}

// DefaultOperators returns the operator whitelist used when a descriptor
// does not declare one.
func DefaultOperators(t FieldType) []Operator {
	switch t {
	case TypeInteger, TypeDatePart, TypeDecimal:
		return []Operator{OpEq, OpIn, OpNe, OpGt, OpGte, OpLt, OpLte, OpBetween, OpNull, OpNotNull}
	case TypeText:
		return []Operator{OpEq, OpIn, OpNe, OpLike, OpStarts, OpEnds, OpContains, OpNull, OpNotNull}
	case TypeEnum:
		return []Operator{OpEq, OpIn, OpNe, OpNull, OpNotNull}
	}
	return nil
}

// Field is a resolved field descriptor.
type Field struct {
	// Name is the canonical external name, e.g. "buyerId" or "seller.companyname".
	Name string

	// Role owns the table alias the column is read from. The base role
	// requires no join.
	Role string

	// Table and Alias identify the physical table under Role.
	Table string
	Alias string

	Column    string
	Type      FieldType
	Operators []Operator

	// Enum names the reference-value set for enum fields.
	Enum string
}

// Allows reports whether op is in the field's whitelist.
func (f *Field) Allows(op Operator) bool {
	return slices.Contains(f.Operators, op)
}

// Qualified returns the alias-qualified column reference.
func (f *Field) Qualified() string {
	return f.Alias + "." + f.Column
}

// Match is a constant predicate attached to a join edge's ON clause.
type Match struct {
	Column string
	Value  int64
}

// JoinEdge joins a table under a role alias to its parent role.
type JoinEdge struct {
	Role         string
	Table        string
	Alias        string
	Parent       string
	ParentColumn string
	Column       string
	Match        *Match

	// Fanout marks edges that may yield several rows per base row.
	Fanout bool
}

// Base describes the root entity every statement selects from.
type Base struct {
	Role  string
	Table string
	Alias string
	Key   string
}

// EnumValue is one reference value of an enum.
type EnumValue struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Enum maps reference names to numeric codes.
type Enum struct {
	Name   string
	Values []EnumValue

	byName map[string]int64
}

// Lookup returns the code for a reference name or alias, case-insensitively.
func (e *Enum) Lookup(name string) (int64, bool) {
	id, ok := e.byName[fold(name)]
	return id, ok
}

// Label returns the display name for a code.
func (e *Enum) Label(id int64) (string, bool) {
	for _, v := range e.Values {
		if v.ID == id {
			return v.Name, true
		}
	}
	return "", false
}
