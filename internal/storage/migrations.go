// Package storage prepares the audit store: it applies the embedded schema
// migrations the persistent query logger depends on.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/errors"
	"github.com/canonica-labs/dealquery/migrations"
)

// MigrationRunner applies pending migrations in version order.
type MigrationRunner struct {
	db      *sql.DB
	dialect compiler.Dialect
	source  fs.FS
}

// NewMigrationRunner creates a runner over the embedded migrations.
// Placeholders in bookkeeping statements are rendered for dialect.
func NewMigrationRunner(db *sql.DB, dialect compiler.Dialect) *MigrationRunner {
	return &MigrationRunner{db: db, dialect: dialect, source: migrations.FS}
}

// WithSource returns a runner reading migrations from source.
func (r *MigrationRunner) WithSource(source fs.FS) *MigrationRunner {
	cp := *r
	cp.source = source
	return &cp
}

// Run applies every migration not yet recorded in schema_migrations and
// returns the names it applied. The gateway refuses to start on failure.
func (r *MigrationRunner) Run(ctx context.Context) ([]string, error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending, err := r.migrationFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}

	var done []string
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return done, errors.NewMigrationFailed(m.name, err)
		}
		done = append(done, m.name)
	}
	return done, nil
}

type migration struct {
	version string
	name    string
	content string
}

func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`)
	return err
}

func (r *MigrationRunner) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// migrationFiles lists NNNNNN_name.up.sql files sorted by version.
func (r *MigrationRunner) migrationFiles() ([]migration, error) {
	entries, err := fs.ReadDir(r.source, ".")
	if err != nil {
		return nil, err
	}

	var list []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		content, err := fs.ReadFile(r.source, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		list = append(list, migration{
			version: version,
			name:    strings.TrimSuffix(name, ".up.sql"),
			content: string(content),
		})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].version < list[j].version })
	return list, nil
}

func (r *MigrationRunner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(m.content, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	insert := fmt.Sprintf(`INSERT INTO schema_migrations (version, applied_at) VALUES (%s, %s)`,
		r.dialect.Placeholder(1), r.dialect.Placeholder(2))
	if _, err := tx.ExecContext(ctx, insert, m.version, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
