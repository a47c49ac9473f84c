package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/internal/query"
	"github.com/canonica-labs/dealquery/internal/schema"
)

func openDemo(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, SeedDemo(context.Background(), db))
	return db
}

func compile(t *testing.T, db *DB, raw string) *compiler.Statement {
	t.Helper()
	c := compiler.New(schema.MustDefault(), compiler.Options{Dialect: db.Dialect()})
	params, err := query.ParseRawQuery(raw)
	require.NoError(t, err)
	stmt, err := c.CompileParams(params)
	require.NoError(t, err)
	return stmt
}

func run(t *testing.T, db *DB, raw string) *Result {
	t.Helper()
	res, err := db.Query(context.Background(), compile(t, db, raw))
	require.NoError(t, err)
	return res
}

func count(t *testing.T, db *DB, raw string) int64 {
	t.Helper()
	n, err := run(t, db, raw).Count()
	require.NoError(t, err)
	return n
}

func column(res *Result, key string) []interface{} {
	out := make([]interface{}, 0, len(res.Rows))
	for _, row := range res.Rows {
		v, _ := row.Get(key)
		out = append(out, v)
	}
	return out
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.True(t, d.Numbered)

	d, err = DialectFor("SQLite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name)

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestStructuredDSNValidation(t *testing.T) {
	_, err := Open(Config{Driver: "snowflake", Snowflake: SnowflakeConfig{Account: "acct"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Snowflake adapter")

	_, err = Open(Config{Driver: "trino"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_uri")

	_, err = Open(Config{Driver: "postgres"})
	require.Error(t, err)
}

func TestCountOnlyScenario(t *testing.T) {
	db := openDemo(t)
	assert.Equal(t, int64(2), count(t, db, "type=14&year=2022&country=37&count_only=true"))
	assert.Equal(t, int64(5), count(t, db, "count_only=true"))
}

func TestRoleBindingAgainstData(t *testing.T) {
	db := openDemo(t)

	res := run(t, db, "buyerId=1&select=transactionId,companyName&orderBy=transactionId")
	assert.Equal(t, []string{"transactionId", "companyName"}, res.Columns)
	assert.Equal(t, []interface{}{int64(102), int64(103)}, column(res, "transactionId"))
	assert.Equal(t, []interface{}{"Initech", "Globex"}, column(res, "companyName"))

	// Acme only ever buys; a seller filter must not match its buyer rows.
	assert.Equal(t, int64(0), count(t, db, "sellerId=1&count_only=true"))
	assert.Equal(t, int64(2), count(t, db, "buyerId=1&sellerId=4&count_only=true"))
	assert.Equal(t, int64(1), count(t, db, "buyerId=3&sellerId=4&count_only=true"))
}

func TestFanoutCountIsDistinct(t *testing.T) {
	db := openDemo(t)
	// Transaction 103 has two buyer rows.
	assert.Equal(t, int64(3), count(t, db, "buyerCompanyName=like:%25&count_only=true"))
	assert.Equal(t, int64(2), count(t, db, "involvedCompanyId=4&count_only=true"))
}

func TestImplicitGroupByAgainstData(t *testing.T) {
	db := openDemo(t)
	res := run(t, db, "select=year,COUNT(*) AS n&orderBy=year")
	assert.Equal(t, []interface{}{int64(2021), int64(2022), int64(2023)}, column(res, "year"))
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(2)}, column(res, "n"))
}

func TestPageTotal(t *testing.T) {
	db := openDemo(t)
	stmt := compile(t, db, "page=2&page_size=2&select=transactionId")
	res, err := db.Query(context.Background(), stmt)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(102), int64(103)}, column(res, "transactionId"))

	total, err := stmt.CountStatement()
	require.NoError(t, err)
	totalRes, err := db.Query(context.Background(), total)
	require.NoError(t, err)
	n, err := totalRes.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestEnumNamesAndDistinct(t *testing.T) {
	db := openDemo(t)
	res := run(t, db, "advisorType=Financial&select=DISTINCT(transactionId)")
	assert.ElementsMatch(t, []interface{}{int64(102), int64(103)}, column(res, "transactionId"))

	assert.Equal(t, int64(2), count(t, db, "type=Buyback&count_only=true"))
}

func TestHostileValuesStayBound(t *testing.T) {
	db := openDemo(t)
	assert.Equal(t, int64(0), count(t, db, "companyName=x'%20OR%20'1'='1&count_only=true"))
	assert.Equal(t, int64(5), count(t, db, "count_only=true"))
}

func TestRowMarshalPreservesOrder(t *testing.T) {
	db := openDemo(t)
	res := run(t, db, "transactionId=102&select=companyName,transactionId,year")
	require.Len(t, res.Rows, 1)
	b, err := json.Marshal(res.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"companyName":"Initech","transactionId":102,"year":2023}`, string(b))
}

func TestQueryErrorsAreExecutionErrors(t *testing.T) {
	db := openDemo(t)

	_, err := db.Query(context.Background(), &compiler.Statement{SQL: "SELECT nope FROM missing_table WHERE x = ?", Args: []interface{}{"secret-value"}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeEngine, errors.CodeOf(err))
	assert.NotContains(t, err.Error(), "missing_table")
	assert.NotContains(t, err.Error(), "secret-value")

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = db.Query(ctx, compile(t, db, "count_only=true"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.CodeOf(err))
}

func TestClosedAdapter(t *testing.T) {
	db := openDemo(t)
	stmt := compile(t, db, "count_only=true")
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Query(context.Background(), stmt)
	require.Error(t, err)
	assert.Error(t, db.Ping(context.Background()))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.IsEmpty())

	db := openDemo(t)
	reg.Register(db)
	a, ok := reg.Get("sqlite")
	require.True(t, ok)
	assert.Equal(t, "sqlite", a.Name())
	assert.Equal(t, []string{"sqlite"}, reg.Available())

	health := reg.CheckAll(context.Background())
	assert.NoError(t, health["sqlite"])
	assert.NoError(t, reg.CloseAll())
}
