package schema

import (
	"sort"
	"strings"

	"github.com/canonica-labs/dealquery/internal/errors"
)

// PublicField is a registered field with its accepted aliases.
type PublicField struct {
	*Field
	Aliases []string
}

// Registry maps field names to descriptors and roles to join edges.
type Registry struct {
	base  Base
	edges []*JoinEdge

	// roles has a nil entry for the base role.
	roles map[string]*JoinEdge

	fields    map[string]*Field
	ordered   []PublicField
	qualified map[string]*Field
	templates map[string][]*Field
	enums     map[string]*Enum
}

// Base returns the root entity.
func (r *Registry) Base() Base {
	return r.base
}

// Resolve looks up a field by name, optionally scoped to a role.
// A name of the form "role.column" carries its own role.
func (r *Registry) Resolve(name, role string) (*Field, error) {
	if role == "" {
		if i := strings.IndexByte(name, '.'); i > 0 {
			role, name = name[:i], name[i+1:]
		}
	}
	if name == "" {
		return nil, errors.NewUnknownField("", name)
	}
	if role != "" {
		return r.resolveInRole(name, role)
	}

	key := fold(name)
	if f, ok := r.fields[key]; ok {
		return f, nil
	}
	switch matches := r.templates[key]; len(matches) {
	case 0:
		return nil, errors.NewUnknownField("", name)
	case 1:
		return matches[0], nil
	default:
		roles := make([]string, len(matches))
		for i, m := range matches {
			roles[i] = m.Role
		}
		return nil, errors.NewAmbiguousJoinRole("", name, roles)
	}
}

func (r *Registry) resolveInRole(name, role string) (*Field, error) {
	if _, ok := r.roles[fold(role)]; !ok {
		return nil, errors.NewUnknownRole("", role)
	}
	role = r.canonicalRole(role)
	if f, ok := r.qualified[fold(role+"."+name)]; ok {
		return f, nil
	}
	if f, ok := r.fields[fold(name)]; ok && f.Role == role {
		return f, nil
	}
	return nil, errors.NewUnknownField("", role+"."+name)
}

// JoinEdge returns the edge for role. The base role has no edge and yields nil.
func (r *Registry) JoinEdge(role string) (*JoinEdge, error) {
	edge, ok := r.roles[fold(role)]
	if !ok {
		return nil, errors.NewUnknownRole("", role)
	}
	return edge, nil
}

// IsBase reports whether role names the root entity.
func (r *Registry) IsBase(role string) bool {
	return fold(role) == fold(r.base.Role)
}

// Path returns the edges needed to reach role, root first.
func (r *Registry) Path(role string) ([]*JoinEdge, error) {
	edge, err := r.JoinEdge(role)
	if err != nil {
		return nil, err
	}
	var path []*JoinEdge
	for edge != nil {
		path = append(path, edge)
		edge = r.roles[fold(edge.Parent)]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Edges returns all join edges in declaration order.
func (r *Registry) Edges() []*JoinEdge {
	out := make([]*JoinEdge, len(r.edges))
	copy(out, r.edges)
	return out
}

// Roles returns every role name, base first, in declaration order.
func (r *Registry) Roles() []string {
	out := make([]string, 0, len(r.edges)+1)
	out = append(out, r.base.Role)
	for _, e := range r.edges {
		out = append(out, e.Role)
	}
	return out
}

// Fields returns the public fields in artifact order.
func (r *Registry) Fields() []PublicField {
	out := make([]PublicField, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Enum returns a reference-value set by name.
func (r *Registry) Enum(name string) (*Enum, bool) {
	e, ok := r.enums[fold(name)]
	return e, ok
}

// ReferenceValues returns every enum's values keyed by enum name.
func (r *Registry) ReferenceValues() map[string][]EnumValue {
	out := make(map[string][]EnumValue, len(r.enums))
	for _, e := range r.enums {
		values := make([]EnumValue, len(e.Values))
		copy(values, e.Values)
		sort.Slice(values, func(i, j int) bool { return values[i].ID < values[j].ID })
		out[e.Name] = values
	}
	return out
}
