// Package config provides configuration loading for the dealq CLI and gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/canonica-labs/dealquery/internal/cache"
	"github.com/canonica-labs/dealquery/internal/executor"
)

// Config holds the application configuration.
type Config struct {
	// Server configuration (for gateway)
	Server ServerConfig `mapstructure:"server"`

	// Database selects the data store statements run against.
	Database DatabaseConfig `mapstructure:"database"`

	// Engine bounds compilation and execution.
	Engine EngineConfig `mapstructure:"engine"`

	// Cache configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// Auth configuration
	Auth AuthConfig `mapstructure:"auth"`

	// Audit selects where query audit entries go.
	Audit AuditConfig `mapstructure:"audit"`

	// Client points CLI commands at a running gateway.
	Client ClientConfig `mapstructure:"client"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr               string        `mapstructure:"addr"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig holds the executor connection settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Demo seeds the miniature demo data set after connecting.
	Demo bool `mapstructure:"demo"`

	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	Trino     TrinoConfig     `mapstructure:"trino"`
	BigQuery  BigQueryConfig  `mapstructure:"bigquery"`
}

// SnowflakeConfig holds structured Snowflake settings, used when dsn is empty.
type SnowflakeConfig struct {
	Account      string        `mapstructure:"account"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Database     string        `mapstructure:"database"`
	Schema       string        `mapstructure:"schema"`
	Warehouse    string        `mapstructure:"warehouse"`
	Role         string        `mapstructure:"role"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
}

// TrinoConfig holds structured Trino settings, used when dsn is empty.
type TrinoConfig struct {
	ServerURI string `mapstructure:"server_uri"`
	Catalog   string `mapstructure:"catalog"`
	Schema    string `mapstructure:"schema"`
	Source    string `mapstructure:"source"`
}

// BigQueryConfig holds BigQuery client settings, used with driver bigquery.
type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Location        string `mapstructure:"location"`
	Dataset         string `mapstructure:"dataset"`
}

// EngineConfig holds compilation and execution limits.
type EngineConfig struct {
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`

	// SchemaPath is a schema artifact on disk; empty uses the embedded one.
	SchemaPath string `mapstructure:"schema_path"`

	// Dialect overrides the driver's dialect for compile-only commands.
	Dialect string `mapstructure:"dialect"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Size    int           `mapstructure:"size"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the shared cache server settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds authentication and table grants. No tokens disables
// authentication; no grants disables table authorization.
type AuthConfig struct {
	Tokens []TokenConfig        `mapstructure:"tokens"`
	Grants map[string][]string `mapstructure:"grants"`
}

// TokenConfig maps one static API token to a user.
type TokenConfig struct {
	Token string   `mapstructure:"token"`
	User  string   `mapstructure:"user"`
	Roles []string `mapstructure:"roles"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	// Backend is none, log or database.
	Backend string `mapstructure:"backend"`

	// Driver and DSN locate the audit database (postgres or sqlite).
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ClientConfig holds the gateway the CLI talks to. An empty endpoint makes
// CLI commands compile and run locally.
type ClientConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       60 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			RateLimitPerMinute: 600,
			RateLimitBurst:     50,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             ":memory:",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			DefaultPageSize: 100,
			MaxPageSize:     1000,
			QueryTimeout:    30 * time.Second,
			RetryAttempts:   3,
		},
		Cache: CacheConfig{
			Backend: "none",
			TTL:     5 * time.Minute,
			Size:    1024,
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Backend: "log",
		},
		Client: ClientConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load loads configuration from file and environment. Environment
// variables use the DEALQ prefix with "_" for nesting, e.g. DEALQ_SERVER_ADDR.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".dealq"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("dealq")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("DEALQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)
	v.SetDefault("server.rate_limit_burst", d.Server.RateLimitBurst)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.demo", false)
	v.SetDefault("database.snowflake.account", "")
	v.SetDefault("database.snowflake.user", "")
	v.SetDefault("database.snowflake.password", "")
	v.SetDefault("database.snowflake.database", "")
	v.SetDefault("database.snowflake.schema", "")
	v.SetDefault("database.snowflake.warehouse", "")
	v.SetDefault("database.snowflake.role", "")
	v.SetDefault("database.trino.server_uri", "")
	v.SetDefault("database.trino.catalog", "")
	v.SetDefault("database.trino.schema", "")
	v.SetDefault("database.bigquery.project_id", "")
	v.SetDefault("database.bigquery.credentials_file", "")
	v.SetDefault("database.bigquery.location", "US")
	v.SetDefault("database.bigquery.dataset", "")
	v.SetDefault("engine.default_page_size", d.Engine.DefaultPageSize)
	v.SetDefault("engine.max_page_size", d.Engine.MaxPageSize)
	v.SetDefault("engine.query_timeout", d.Engine.QueryTimeout)
	v.SetDefault("engine.retry_attempts", d.Engine.RetryAttempts)
	v.SetDefault("engine.schema_path", "")
	v.SetDefault("engine.dialect", "")
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("audit.backend", d.Audit.Backend)
	v.SetDefault("audit.driver", "")
	v.SetDefault("audit.dsn", "")
	v.SetDefault("client.endpoint", "")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", d.Client.Timeout)
}

// Validate checks values a running gateway cannot recover from.
func (c *Config) Validate() error {
	if c.Engine.DefaultPageSize < 1 || c.Engine.MaxPageSize < 1 {
		return fmt.Errorf("config: engine page sizes must be positive")
	}
	if c.Engine.DefaultPageSize > c.Engine.MaxPageSize {
		return fmt.Errorf("config: engine.default_page_size %d exceeds engine.max_page_size %d",
			c.Engine.DefaultPageSize, c.Engine.MaxPageSize)
	}
	if c.Engine.QueryTimeout < 0 {
		return fmt.Errorf("config: engine.query_timeout cannot be negative")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache.backend %q", c.Cache.Backend)
	}
	switch strings.ToLower(c.Audit.Backend) {
	case "", "none", "log":
	case "database":
		if c.Audit.Driver == "" || c.Audit.DSN == "" {
			return fmt.Errorf("config: audit.backend database requires audit.driver and audit.dsn")
		}
	default:
		return fmt.Errorf("config: unknown audit.backend %q", c.Audit.Backend)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.User == "" {
			return fmt.Errorf("config: auth.tokens[%d] needs token and user", i)
		}
	}
	return nil
}

// Executor returns the executor settings.
func (c *Config) Executor() executor.Config {
	retry := executor.DefaultRetryConfig()
	if c.Engine.RetryAttempts > 0 {
		retry.MaxAttempts = c.Engine.RetryAttempts
	}
	db := c.Database
	return executor.Config{
		Driver:          db.Driver,
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		QueryTimeout:    c.Engine.QueryTimeout,
		Retry:           retry,
		Snowflake: executor.SnowflakeConfig{
			Account:      db.Snowflake.Account,
			User:         db.Snowflake.User,
			Password:     db.Snowflake.Password,
			Database:     db.Snowflake.Database,
			Schema:       db.Snowflake.Schema,
			Warehouse:    db.Snowflake.Warehouse,
			Role:         db.Snowflake.Role,
			LoginTimeout: db.Snowflake.LoginTimeout,
		},
		Trino: executor.TrinoConfig{
			ServerURI: db.Trino.ServerURI,
			Catalog:   db.Trino.Catalog,
			Schema:    db.Trino.Schema,
			Source:    db.Trino.Source,
		},
		BigQuery: executor.BigQueryConfig{
			ProjectID:       db.BigQuery.ProjectID,
			CredentialsFile: db.BigQuery.CredentialsFile,
			Location:        db.BigQuery.Location,
			Dataset:         db.BigQuery.Dataset,
		},
	}
}

// ResultCache returns the cache settings.
func (c *Config) ResultCache() cache.Config {
	return cache.Config{
		Backend: c.Cache.Backend,
		TTL:     c.Cache.TTL,
		Size:    c.Cache.Size,
		Redis: cache.RedisConfig{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
		},
	}
}
