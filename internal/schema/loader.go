package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/dealquery/internal/errors"
)

//go:embed default_schema.yaml
var defaultArtifact []byte

// Artifact is the on-disk shape of the schema catalog.
type Artifact struct {
	Version int                        `yaml:"version"`
	Base    BaseSpec                   `yaml:"base"`
	Tables  map[string][]ColumnSpec    `yaml:"tables"`
	Roles   []RoleSpec                 `yaml:"roles"`
	Fields  []FieldSpec                `yaml:"fields"`
	Enums   map[string][]EnumValueSpec `yaml:"enums"`
}

// BaseSpec describes the root entity.
type BaseSpec struct {
	Role  string `yaml:"role"`
	Table string `yaml:"table"`
	Alias string `yaml:"alias"`
	Key   string `yaml:"key"`
}

// ColumnSpec is a per-table column template, addressable as role.name.
type ColumnSpec struct {
	Name      string   `yaml:"name"`
	Column    string   `yaml:"column,omitempty"`
	Type      string   `yaml:"type"`
	Operators []string `yaml:"operators,omitempty"`
	Enum      string   `yaml:"enum,omitempty"`
}

// RoleSpec is a join edge declaration.
type RoleSpec struct {
	Role         string     `yaml:"role"`
	Table        string     `yaml:"table"`
	Alias        string     `yaml:"alias"`
	Parent       string     `yaml:"parent"`
	ParentColumn string     `yaml:"parent_column"`
	Column       string     `yaml:"column"`
	Match        *MatchSpec `yaml:"match,omitempty"`
	Fanout       bool       `yaml:"fanout,omitempty"`
}

// MatchSpec is a constant ON predicate.
type MatchSpec struct {
	Column string `yaml:"column"`
	Value  int64  `yaml:"value"`
}

// FieldSpec is a public field descriptor.
type FieldSpec struct {
	Name      string   `yaml:"name"`
	Aliases   []string `yaml:"aliases,omitempty"`
	Role      string   `yaml:"role"`
	Column    string   `yaml:"column"`
	Type      string   `yaml:"type"`
	Operators []string `yaml:"operators,omitempty"`
	Enum      string   `yaml:"enum,omitempty"`
}

// EnumValueSpec is one reference value.
type EnumValueSpec struct {
	ID      int64    `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// fold case-normalizes a lookup key. A Caser is stateful, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Default returns the registry built from the embedded artifact.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultArtifact))
}

// MustDefault is Default for tests and static initialization.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile reads an artifact from path. An empty path selects the embedded artifact.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema artifact: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates an artifact.
func Load(r io.Reader) (*Registry, error) {
	var a Artifact
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&a); err != nil {
		return nil, errors.NewInvalidSchema("artifact", err.Error())
	}
	return Build(&a)
}

// Build validates a decoded artifact and produces a Registry.
func Build(a *Artifact) (*Registry, error) {
	if a.Base.Role == "" || a.Base.Table == "" || a.Base.Alias == "" || a.Base.Key == "" {
		return nil, errors.NewInvalidSchema("base", "role, table, alias and key are required")
	}

	r := &Registry{
		base:      Base(a.Base),
		roles:     make(map[string]*JoinEdge),
		fields:    make(map[string]*Field),
		qualified: make(map[string]*Field),
		templates: make(map[string][]*Field),
		enums:     make(map[string]*Enum),
	}

	if err := r.buildEnums(a.Enums); err != nil {
		return nil, err
	}
	if err := r.buildRoles(a); err != nil {
		return nil, err
	}
	if err := r.buildTemplates(a.Tables); err != nil {
		return nil, err
	}
	if err := r.buildFields(a.Fields); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) buildEnums(specs map[string][]EnumValueSpec) error {
	for name, values := range specs {
		e := &Enum{Name: name, byName: make(map[string]int64)}
		seen := make(map[int64]bool)
		for _, v := range values {
			if seen[v.ID] {
				return errors.NewInvalidSchema("enum "+name, fmt.Sprintf("duplicate id %d", v.ID))
			}
			seen[v.ID] = true
			e.Values = append(e.Values, EnumValue{ID: v.ID, Name: v.Name, Aliases: v.Aliases})
			for _, key := range append([]string{v.Name}, v.Aliases...) {
				k := fold(key)
				if prev, ok := e.byName[k]; ok && prev != v.ID {
					return errors.NewInvalidSchema("enum "+name, fmt.Sprintf("name %q maps to both %d and %d", key, prev, v.ID))
				}
				e.byName[k] = v.ID
			}
		}
		r.enums[fold(name)] = e
	}
	return nil
}

func (r *Registry) buildRoles(a *Artifact) error {
	aliases := map[string]bool{a.Base.Alias: true}
	r.roles[fold(a.Base.Role)] = nil

	for _, spec := range a.Roles {
		elem := "role " + spec.Role
		if spec.Role == "" || spec.Table == "" || spec.Alias == "" {
			return errors.NewInvalidSchema(elem, "role, table and alias are required")
		}
		key := fold(spec.Role)
		if _, dup := r.roles[key]; dup {
			return errors.NewInvalidSchema(elem, "duplicate role")
		}
		if aliases[spec.Alias] {
			return errors.NewInvalidSchema(elem, fmt.Sprintf("alias %q already in use", spec.Alias))
		}
		if _, ok := a.Tables[spec.Table]; !ok {
			return errors.NewInvalidSchema(elem, fmt.Sprintf("table %q has no column templates", spec.Table))
		}
		// Parents must be declared first so edge order is a valid join order.
		if _, ok := r.roles[fold(spec.Parent)]; !ok {
			return errors.NewInvalidSchema(elem, fmt.Sprintf("parent %q is not declared before this role", spec.Parent))
		}
		if spec.ParentColumn == "" || spec.Column == "" {
			return errors.NewInvalidSchema(elem, "parent_column and column are required")
		}

		edge := &JoinEdge{
			Role:         spec.Role,
			Table:        spec.Table,
			Alias:        spec.Alias,
			Parent:       r.canonicalRole(spec.Parent),
			ParentColumn: spec.ParentColumn,
			Column:       spec.Column,
			Fanout:       spec.Fanout,
		}
		if spec.Match != nil {
			if spec.Match.Column == "" {
				return errors.NewInvalidSchema(elem, "match requires a column")
			}
			edge.Match = &Match{Column: spec.Match.Column, Value: spec.Match.Value}
		}

		aliases[spec.Alias] = true
		r.roles[key] = edge
		r.edges = append(r.edges, edge)
	}
	return nil
}

// canonicalRole returns the declared spelling of a role name.
func (r *Registry) canonicalRole(name string) string {
	if fold(name) == fold(r.base.Role) {
		return r.base.Role
	}
	if e := r.roles[fold(name)]; e != nil {
		return e.Role
	}
	return name
}

func (r *Registry) buildTemplates(tables map[string][]ColumnSpec) error {
	type scope struct{ role, table, alias string }
	scopes := []scope{{r.base.Role, r.base.Table, r.base.Alias}}
	for _, e := range r.edges {
		scopes = append(scopes, scope{e.Role, e.Table, e.Alias})
	}

	for _, s := range scopes {
		for _, col := range tables[s.table] {
			column := col.Column
			if column == "" {
				column = col.Name
			}
			f, err := r.newField(s.role+"."+col.Name, s.role, column, col.Type, col.Operators, col.Enum)
			if err != nil {
				return err
			}
			r.qualified[fold(f.Name)] = f
			short := fold(col.Name)
			r.templates[short] = append(r.templates[short], f)
		}
	}
	return nil
}

func (r *Registry) buildFields(specs []FieldSpec) error {
	for _, spec := range specs {
		f, err := r.newField(spec.Name, spec.Role, spec.Column, spec.Type, spec.Operators, spec.Enum)
		if err != nil {
			return err
		}
		for _, name := range append([]string{spec.Name}, spec.Aliases...) {
			k := fold(name)
			if _, dup := r.fields[k]; dup {
				return errors.NewInvalidSchema("field "+spec.Name, fmt.Sprintf("name %q is already registered", name))
			}
			r.fields[k] = f
		}
		r.ordered = append(r.ordered, PublicField{Field: f, Aliases: spec.Aliases})
	}
	return nil
}

func (r *Registry) newField(name, role, column, typ string, ops []string, enum string) (*Field, error) {
	elem := "field " + name
	ft := FieldType(typ)
	if !ft.Valid() {
		return nil, errors.NewInvalidSchema(elem, fmt.Sprintf("unknown type %q", typ))
	}
	if column == "" {
		return nil, errors.NewInvalidSchema(elem, "column is required")
	}

	table, alias := r.base.Table, r.base.Alias
	if fold(role) != fold(r.base.Role) {
		edge, ok := r.roles[fold(role)]
		if !ok || edge == nil {
			return nil, errors.NewInvalidSchema(elem, fmt.Sprintf("unknown role %q", role))
		}
		table, alias, role = edge.Table, edge.Alias, edge.Role
	} else {
		role = r.base.Role
	}

	operators := DefaultOperators(ft)
	if len(ops) > 0 {
		operators = make([]Operator, 0, len(ops))
		for _, o := range ops {
			op := Operator(o)
			if !op.Valid() {
				return nil, errors.NewInvalidSchema(elem, fmt.Sprintf("unknown operator %q", o))
			}
			operators = append(operators, op)
		}
	}
	if ft == TypeEnum {
		if _, ok := r.enums[fold(enum)]; !ok {
			return nil, errors.NewInvalidSchema(elem, fmt.Sprintf("unknown enum %q", enum))
		}
	}
	// An IN list is a disjunction of equalities.
	if slices.Contains(operators, OpEq) && !slices.Contains(operators, OpIn) {
		operators = append(operators, OpIn)
	}

	return &Field{
		Name:      name,
		Role:      role,
		Table:     table,
		Alias:     alias,
		Column:    column,
		Type:      ft,
		Operators: operators,
		Enum:      enum,
	}, nil
}
