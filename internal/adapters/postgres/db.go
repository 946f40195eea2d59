// Package postgres stores secure links and the document registry in
// PostgreSQL for multi-instance deployments.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationTable records which embedded schema files this database has run.
const migrationTable = "gateway_schema_migrations"

// Connect opens the pool backing the secure_links and registered_documents
// tables. maxConns caps open connections and half of it stays idle.
func Connect(ctx context.Context, databaseURL string, maxConns int32, logger *slog.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open link store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("link store pool: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(int(maxConns))
		sqlDB.SetMaxIdleConns(max(1, int(maxConns)/2))
	}
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping link store: %w", err)
	}
	logger.InfoContext(ctx, "link store connected",
		"module", "postgres",
		"layer", "adapter",
		"operation", "connect",
		"outcome", "success",
		"max_conns", maxConns,
	)
	return db, nil
}

// RunMigrations brings the schema for secure links and registered documents
// up to date. Each embedded file runs once, in its own transaction, and is
// recorded in gateway_schema_migrations. Both tables must exist afterwards.
func RunMigrations(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db = db.WithContext(ctx)
	if err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name       VARCHAR(128) PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL
)`).Error; err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	var done []string
	if err := db.Table(migrationTable).Pluck("name", &done).Error; err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}
	applied := make(map[string]bool, len(done))
	for _, name := range done {
		applied[name] = true
	}
	pending, err := pendingMigrations(migrationFS, applied)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("link store pool: %w", err)
	}
	for _, name := range pending {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := applyMigration(ctx, sqlDB, name, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		logger.InfoContext(ctx, "migration applied",
			"module", "postgres",
			"layer", "adapter",
			"operation", "apply_migration",
			"outcome", "success",
			"migration", name,
		)
	}

	for _, table := range []string{linkModel{}.TableName(), documentModel{}.TableName()} {
		if !db.Migrator().HasTable(table) {
			return fmt.Errorf("link store schema incomplete: table %s missing after migrations", table)
		}
	}
	return nil
}

// applyMigration runs one file on the raw pool, outside gorm's prepared
// statements, since a file holds several statements.
func applyMigration(ctx context.Context, sqlDB *sql.DB, name, body string) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrationTable+` (name, applied_at) VALUES ($1, $2)`, name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// pendingMigrations lists embedded .sql files not yet in applied, in lexical order.
func pendingMigrations(fsys fs.FS, applied map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") || applied[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks the pool with the caller's deadline.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
