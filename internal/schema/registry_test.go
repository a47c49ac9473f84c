package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/dealquery/internal/errors"
)

func TestDefaultArtifactLoads(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "tr", r.Base().Alias)
	assert.Equal(t, "transaction", r.Roles()[0])
	assert.NotEmpty(t, r.Fields())
}

func TestResolvePublicFieldCaseInsensitive(t *testing.T) {
	r := MustDefault()

	for _, name := range []string{"buyerId", "BUYERID", "acquirerId"} {
		f, err := r.Resolve(name, "")
		require.NoError(t, err, name)
		assert.Equal(t, "buyerRel", f.Role)
		assert.Equal(t, "cr_buyer.companyid", f.Qualified())
	}
}

func TestResolveAliasResolvesToSameDescriptor(t *testing.T) {
	r := MustDefault()

	year, err := r.Resolve("year", "")
	require.NoError(t, err)
	announced, err := r.Resolve("announcedYear", "")
	require.NoError(t, err)
	assert.Same(t, year, announced)
}

func TestResolveUppercaseDescriptionField(t *testing.T) {
	r := MustDefault()

	f, err := r.Resolve("SIMPLEINDUSTRYDESCRIPTION", "")
	require.NoError(t, err)
	assert.Equal(t, "si.simpleindustrydescription", f.Qualified())
}

func TestResolveRoleQualifiedTemplate(t *testing.T) {
	r := MustDefault()

	f, err := r.Resolve("seller.companyname", "")
	require.NoError(t, err)
	assert.Equal(t, "seller", f.Role)
	assert.Equal(t, "c_seller", f.Alias)

	g, err := r.Resolve("yearFounded", "buyer")
	require.NoError(t, err)
	assert.Equal(t, "c_buyer.yearfounded", g.Qualified())
}

func TestResolveUnknownField(t *testing.T) {
	r := MustDefault()

	_, err := r.Resolve("bogusField", "")
	var unknown *errors.ErrUnknownField
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogusField", unknown.Field)
}

func TestResolveUnknownRole(t *testing.T) {
	r := MustDefault()

	_, err := r.Resolve("landlord.companyname", "")
	var unknown *errors.ErrUnknownRole
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "landlord", unknown.Role)
}

func TestResolveAmbiguousTemplate(t *testing.T) {
	r := MustDefault()

	_, err := r.Resolve("yearfounded", "")
	var ambiguous *errors.ErrAmbiguousJoinRole
	require.ErrorAs(t, err, &ambiguous)
	assert.Contains(t, ambiguous.Roles, "buyer")
	assert.Contains(t, ambiguous.Roles, "seller")
	assert.Contains(t, ambiguous.Suggestion, ".yearfounded")
}

func TestPathIsRootFirst(t *testing.T) {
	r := MustDefault()

	path, err := r.Path("buyerCountry")
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, "buyerRel", path[0].Role)
	assert.Equal(t, "buyer", path[1].Role)
	assert.Equal(t, "buyerCountry", path[2].Role)

	base, err := r.Path("transaction")
	require.NoError(t, err)
	assert.Empty(t, base)
}

func TestRelationshipRolesShareTableWithDistinctAliases(t *testing.T) {
	r := MustDefault()

	aliases := map[string]bool{}
	for _, e := range r.Edges() {
		if e.Table != "ciqTransactionToCompanyRel" {
			continue
		}
		assert.False(t, aliases[e.Alias], "alias %s reused", e.Alias)
		aliases[e.Alias] = true
		assert.True(t, e.Fanout)
	}
	assert.Len(t, aliases, 3)
}

func TestEnumLookup(t *testing.T) {
	r := MustDefault()

	types, ok := r.Enum("transactionTypes")
	require.True(t, ok)
	id, ok := types.Lookup("buyback")
	require.True(t, ok)
	assert.Equal(t, int64(14), id)

	id, ok = types.Lookup("Share Repurchase")
	require.True(t, ok)
	assert.Equal(t, int64(14), id)

	label, ok := types.Label(7)
	require.True(t, ok)
	assert.Equal(t, "Spin-off", label)
}

func TestReferenceValuesSortedByID(t *testing.T) {
	refs := MustDefault().ReferenceValues()

	statuses := refs["statuses"]
	require.Len(t, statuses, 3)
	assert.Equal(t, int64(1), statuses[0].ID)
	assert.Equal(t, "Pending", statuses[0].Name)
}

func TestDefaultOperatorWhitelists(t *testing.T) {
	r := MustDefault()

	size, err := r.Resolve("size", "")
	require.NoError(t, err)
	assert.True(t, size.Allows(OpBetween))
	assert.False(t, size.Allows(OpLike))

	lead, err := r.Resolve("leadInvestor", "")
	require.NoError(t, err)
	assert.True(t, lead.Allows(OpIn), "eq implies in")
	assert.False(t, lead.Allows(OpGte))
}

func TestLoadRejectsInvalidArtifacts(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		element string
	}{
		{
			name:    "missing base",
			yaml:    "version: 1\n",
			element: "base",
		},
		{
			name: "parent declared after child",
			yaml: `
base: {role: t, table: T, alias: t, key: id}
tables:
  T: [{name: id, type: integer}]
  C: [{name: id, type: integer}]
roles:
  - {role: b, table: C, alias: b, parent: a, parent_column: id, column: id}
  - {role: a, table: C, alias: a, parent: t, parent_column: id, column: id}
`,
			element: "role b",
		},
		{
			name: "unknown type",
			yaml: `
base: {role: t, table: T, alias: t, key: id}
tables:
  T: [{name: id, type: timestamp}]
`,
			element: "field t.id",
		},
		{
			name: "duplicate field name folds",
			yaml: `
base: {role: t, table: T, alias: t, key: id}
tables:
  T: [{name: id, type: integer}]
fields:
  - {name: dealId, role: t, column: id, type: integer}
  - {name: DEALID, role: t, column: id, type: integer}
`,
			element: "field DEALID",
		},
		{
			name: "missing enum",
			yaml: `
base: {role: t, table: T, alias: t, key: id}
tables:
  T: [{name: kind, type: enum, enum: kinds}]
`,
			element: "field t.kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			var invalid *errors.ErrInvalidSchema
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.element, invalid.Element)
		})
	}
}
