package compiler

import (
	"fmt"
	"strings"

	"github.com/canonica-labs/dealquery/internal/schema"
)

// resolveJoins returns the edges needed to reach every referenced field's
// role, each once, in registry declaration order. Declaration order puts
// parents first, so the plan is both valid and stable for a given field set.
func (c *Compiler) resolveJoins(fields []*schema.Field) ([]*schema.JoinEdge, error) {
	needed := make(map[string]bool)
	for _, f := range fields {
		if c.reg.IsBase(f.Role) {
			continue
		}
		path, err := c.reg.Path(f.Role)
		if err != nil {
			return nil, err
		}
		for _, e := range path {
			needed[e.Role] = true
		}
	}

	var plan []*schema.JoinEdge
	for _, e := range c.reg.Edges() {
		if needed[e.Role] {
			plan = append(plan, e)
		}
	}
	return plan, nil
}

func (c *Compiler) renderJoin(e *schema.JoinEdge) string {
	parentAlias := c.reg.Base().Alias
	if !c.reg.IsBase(e.Parent) {
		parent, _ := c.reg.JoinEdge(e.Parent)
		parentAlias = parent.Alias
	}

	var b strings.Builder
	fmt.Fprintf(&b, "LEFT JOIN %s %s ON %s.%s = %s.%s", e.Table, e.Alias, parentAlias, e.ParentColumn, e.Alias, e.Column)
	if e.Match != nil {
		// Schema constant, not user input.
		fmt.Fprintf(&b, " AND %s.%s = %d", e.Alias, e.Match.Column, e.Match.Value)
	}
	return b.String()
}

func joinsOf(plan []*schema.JoinEdge) []Join {
	out := make([]Join, len(plan))
	for i, e := range plan {
		out[i] = Join{Role: e.Role, Table: e.Table, Alias: e.Alias, Fanout: e.Fanout}
	}
	return out
}

func hasFanout(plan []*schema.JoinEdge) bool {
	for _, e := range plan {
		if e.Fanout {
			return true
		}
	}
	return false
}
