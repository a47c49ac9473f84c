// Package app wires configuration into a running gateway: schema registry,
// executor, result cache, audit trail, authentication and HTTP server.
package app

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/canonica-labs/dealquery/internal/auth"
	"github.com/canonica-labs/dealquery/internal/cache"
	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/config"
	"github.com/canonica-labs/dealquery/internal/executor"
	"github.com/canonica-labs/dealquery/internal/gateway"
	"github.com/canonica-labs/dealquery/internal/observability"
	"github.com/canonica-labs/dealquery/internal/schema"
	"github.com/canonica-labs/dealquery/internal/service"
	"github.com/canonica-labs/dealquery/internal/storage"
)

const startupTimeout = 10 * time.Second

// App is a fully wired gateway.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Adapters *executor.Registry
	Service  *service.TransactionService
	Gateway  *gateway.Gateway

	closers []io.Closer
}

// Options tune Build.
type Options struct {
	Version string

	// AuditWriter receives JSON audit lines; nil means stdout.
	AuditWriter io.Writer
}

// LoadRegistry loads the configured schema artifact, or the embedded one.
func LoadRegistry(cfg *config.Config) (*schema.Registry, error) {
	if cfg.Engine.SchemaPath != "" {
		return schema.LoadFile(cfg.Engine.SchemaPath)
	}
	return schema.Default()
}

// NewCompiler builds a compiler from the engine settings. The dialect
// follows engine.dialect, then database.driver.
func NewCompiler(cfg *config.Config, reg *schema.Registry) (*compiler.Compiler, error) {
	name := cfg.Engine.Dialect
	if name == "" {
		name = cfg.Database.Driver
	}
	d, err := compiler.DialectByName(name)
	if err != nil {
		return nil, err
	}
	return compiler.New(reg, compiler.Options{
		Dialect:         d,
		DefaultPageSize: cfg.Engine.DefaultPageSize,
		MaxPageSize:     cfg.Engine.MaxPageSize,
	}), nil
}

// Build wires every component. Startup fails if the data store is
// unreachable or the audit migrations cannot be applied.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &App{Config: cfg, Logger: log, Metrics: observability.NewMetrics(), Adapters: executor.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	reg, err := LoadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	comp, err := NewCompiler(cfg, reg)
	if err != nil {
		return nil, err
	}

	db, err := executor.Connect(ctx, cfg.Executor())
	if err != nil {
		return nil, err
	}
	a.Adapters.Register(db)
	if cfg.Database.Demo {
		if err := SeedDemo(ctx, db); err != nil {
			return nil, err
		}
		log.Info("seeded demo data", "engine", db.Name())
	}
	for name, perr := range a.Adapters.CheckAll(ctx) {
		if perr != nil {
			return nil, fmt.Errorf("engine %s unavailable: %w", name, perr)
		}
	}
	log.Info("connected to data store", "engine", db.Name(), "available", a.Adapters.Available())

	exec, err := a.resultCache(ctx, db)
	if err != nil {
		return nil, err
	}

	audit, err := a.auditLogger(ctx, opts.AuditWriter)
	if err != nil {
		return nil, err
	}

	authn, authz := Authentication(cfg.Auth)
	if !authn.Enabled() {
		log.Warn("authentication disabled: no auth.tokens configured")
	}

	a.Service, err = service.New(comp, exec, service.Options{
		Logger:     log,
		Audit:      audit,
		Metrics:    a.Metrics,
		Authorizer: authz,
	})
	if err != nil {
		return nil, err
	}

	a.Gateway, err = gateway.NewGateway(a.Service, authn, a.Metrics, log, gateway.Config{
		Version:            opts.Version,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) resultCache(ctx context.Context, db executor.Adapter) (executor.Adapter, error) {
	c, err := cache.New(a.Config.ResultCache())
	if err != nil {
		return nil, err
	}
	if r, ok := c.(*cache.Redis); ok {
		a.closers = append(a.closers, r)
		if err := r.Ping(ctx); err != nil {
			a.Logger.Warn("result cache unreachable; requests go to the data store", "error", err)
		}
	}

	g := cache.NewGroup(db, c, a.Config.Cache.TTL)
	g.OnLookup = a.Metrics.ObserveCacheLookup
	g.OnError = func(err error) {
		a.Logger.Warn("result cache error", "error", err)
	}
	return g, nil
}

func (a *App) auditLogger(ctx context.Context, w io.Writer) (observability.QueryLogger, error) {
	if w == nil {
		w = os.Stdout
	}
	cfg := a.Config.Audit
	switch strings.ToLower(cfg.Backend) {
	case "none":
		return observability.NewNoopLogger(), nil
	case "", "log":
		return observability.NewJSONLogger(w), nil
	}

	dialect, err := executor.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.Name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	a.closers = append(a.closers, db)
	if strings.Contains(cfg.DSN, ":memory:") {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("audit store connectivity check failed: %w", err)
	}

	applied, err := storage.NewMigrationRunner(db, dialect).Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		a.Logger.Info("applied audit migrations", "migrations", applied)
	}
	return observability.NewPersistentLogger(db, dialect, nil)
}

// SeedDemo loads the demo data set into a database/sql engine.
func SeedDemo(ctx context.Context, a executor.Adapter) error {
	db, ok := a.(*executor.DB)
	if !ok {
		return fmt.Errorf("demo data needs a database/sql engine, not %s", a.Name())
	}
	return executor.SeedDemo(ctx, db)
}

// Authentication builds the token authenticator and table authorizer.
func Authentication(cfg config.AuthConfig) (*auth.StaticTokenAuthenticator, *auth.TableAuthorizer) {
	authn := auth.NewStaticTokenAuthenticator()
	for _, t := range cfg.Tokens {
		authn.RegisterToken(t.Token, &auth.User{ID: t.User, Name: t.User, Roles: t.Roles})
	}
	authz := auth.NewTableAuthorizer()
	for role, tables := range cfg.Grants {
		authz.Grant(role, tables...)
	}
	return authn, authz
}

// Server returns the HTTP server for the gateway.
func (a *App) Server() *http.Server {
	s := a.Config.Server
	return &http.Server{
		Addr:         s.Addr,
		Handler:      a.Gateway,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	server := a.Server()
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("gateway starting", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.Logger.Info("gateway stopped")
	return nil
}

// Close releases the data store, cache and audit connections.
func (a *App) Close() error {
	var errs []error
	if err := a.Adapters.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}
