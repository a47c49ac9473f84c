package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb" // registers "duckdb"
	"github.com/snowflakedb/gosnowflake"
	"github.com/trinodb/trino-go-client/trino"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/canonica-labs/dealquery/internal/compiler"
)

// engine binds a driver to its dialect and DSN construction.
type engine struct {
	name    string
	label   string
	driver  string
	dialect compiler.Dialect
	dsn     func(Config) (string, error)

	// singleConn reports DSNs whose state lives in one connection.
	singleConn func(dsn string) bool
}

var engines = map[string]engine{
	"snowflake": {name: "snowflake", label: "Snowflake", driver: "snowflake", dialect: compiler.Snowflake, dsn: snowflakeDSN},
	"postgres":  {name: "postgres", label: "PostgreSQL", driver: "postgres", dialect: compiler.Postgres, dsn: postgresDSN},
	"duckdb":    {name: "duckdb", label: "DuckDB", driver: "duckdb", dialect: compiler.DuckDB, dsn: duckdbDSN, singleConn: inMemory},
	"sqlite":    {name: "sqlite", label: "SQLite", driver: "sqlite", dialect: compiler.SQLite, dsn: sqliteDSN, singleConn: inMemory},
	"trino":     {name: "trino", label: "Trino", driver: "trino", dialect: compiler.Trino, dsn: trinoDSN},
}

const bigQueryDriver = "bigquery"

// Drivers returns the supported driver names, sorted.
func Drivers() []string {
	names := make([]string, 0, len(engines)+1)
	for name := range engines {
		names = append(names, name)
	}
	names = append(names, bigQueryDriver)
	sort.Strings(names)
	return names
}

// DialectFor returns the dialect statements for driver must use.
func DialectFor(driver string) (compiler.Dialect, error) {
	if strings.EqualFold(driver, bigQueryDriver) {
		return compiler.BigQuery, nil
	}
	eng, ok := engines[strings.ToLower(driver)]
	if !ok {
		return compiler.Dialect{}, fmt.Errorf("executor: unknown driver %q", driver)
	}
	return eng.dialect, nil
}

// Connect opens the adapter for cfg.Driver: BigQuery through its client,
// every other engine through database/sql.
func Connect(ctx context.Context, cfg Config) (Adapter, error) {
	if strings.EqualFold(cfg.Driver, bigQueryDriver) {
		return OpenBigQuery(ctx, cfg)
	}
	return Open(cfg)
}

// SnowflakeConfig builds a gosnowflake DSN when Config.DSN is empty.
type SnowflakeConfig struct {
	Account      string
	User         string
	Password     string
	Database     string
	Schema       string
	Warehouse    string
	Role         string
	LoginTimeout time.Duration
}

// Validate checks the required settings.
func (c SnowflakeConfig) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("account is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	if c.Warehouse == "" {
		return fmt.Errorf("warehouse is required")
	}
	return nil
}

func snowflakeDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	sf := cfg.Snowflake
	if err := sf.Validate(); err != nil {
		return "", err
	}
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:      sf.Account,
		User:         sf.User,
		Password:     sf.Password,
		Database:     sf.Database,
		Schema:       sf.Schema,
		Warehouse:    sf.Warehouse,
		Role:         sf.Role,
		LoginTimeout: sf.LoginTimeout,
	})
}

// postgresDSN accepts key=value strings and postgres:// URLs.
func postgresDSN(cfg Config) (string, error) {
	if cfg.DSN == "" {
		return "", fmt.Errorf("dsn is required")
	}
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		return pq.ParseURL(cfg.DSN)
	}
	return cfg.DSN, nil
}

// duckdbDSN is a database file path; empty opens an in-memory database.
func duckdbDSN(cfg Config) (string, error) {
	return cfg.DSN, nil
}

func sqliteDSN(cfg Config) (string, error) {
	if cfg.DSN == "" {
		return ":memory:", nil
	}
	return cfg.DSN, nil
}

// TrinoConfig builds a Trino DSN when Config.DSN is empty.
type TrinoConfig struct {
	// ServerURI is the coordinator, e.g. http://user@localhost:8080.
	ServerURI string
	Catalog   string
	Schema    string
	Source    string
}

func trinoDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	t := cfg.Trino
	if t.ServerURI == "" {
		return "", fmt.Errorf("server_uri is required")
	}
	source := t.Source
	if source == "" {
		source = "dealquery"
	}
	c := &trino.Config{
		ServerURI: t.ServerURI,
		Source:    source,
		Catalog:   t.Catalog,
		Schema:    t.Schema,
	}
	return c.FormatDSN()
}

func inMemory(dsn string) bool {
	return dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
