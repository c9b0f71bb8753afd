package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/mtgjson/mtgjson-go/migrations"
)

// MigrationsTable records which sink migrations have run. The name is
// prefixed so it cannot collide with a user's own tables in the sink.
const MigrationsTable = "mtgjson_schema_migrations"

// MigrationStatus is one embedded migration and whether the sink has it.
type MigrationStatus struct {
	ID        string
	Checksum  string
	Applied   bool
	AppliedAt time.Time
	Duration  time.Duration
}

type migration struct {
	id       string
	checksum string
	body     string
}

type appliedMigration struct {
	checksum  string
	appliedAt time.Time
	duration  time.Duration
}

// MigrateUp applies the sink's pending migrations in filename order, each in
// its own transaction. An applied migration whose file has since changed
// stops the run before anything is applied.
func MigrateUp(ctx context.Context, db *sqlx.DB) error {
	migrations, applied, err := loadMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if _, ok := applied[m.id]; ok {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

// MigrateStatus lists every embedded migration for the sink's dialect.
func MigrateStatus(ctx context.Context, db *sqlx.DB) ([]MigrationStatus, error) {
	migrations, applied, err := loadMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		s := MigrationStatus{ID: m.id, Checksum: m.checksum}
		if a, ok := applied[m.id]; ok {
			s.Applied = true
			s.AppliedAt = a.appliedAt
			s.Duration = a.duration
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// loadMigrations reads the embedded files and the applied rows, and checks
// the two agree.
func loadMigrations(ctx context.Context, db *sqlx.DB) ([]migration, map[string]appliedMigration, error) {
	fsys, err := migrationFS(db.DriverName())
	if err != nil {
		return nil, nil, err
	}
	migrations, err := readMigrations(fsys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	if _, err := db.ExecContext(ctx, trackingTableSQL(db.DriverName())); err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", MigrationsTable, err)
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query %s: %w", MigrationsTable, err)
	}

	known := make(map[string]string, len(migrations))
	for _, m := range migrations {
		known[m.id] = m.checksum
	}
	for id, a := range applied {
		want, ok := known[id]
		if !ok {
			return nil, nil, fmt.Errorf("migration %s is recorded in the sink but not embedded in this binary", id)
		}
		if a.checksum != want {
			return nil, nil, fmt.Errorf("migration %s changed after it was applied (sink has %s, binary has %s)", id, a.checksum, want)
		}
	}
	return migrations, applied, nil
}

// migrationFS returns the embedded directory for a sink driver.
func migrationFS(driver string) (fs.FS, error) {
	var (
		root fs.FS
		dir  string
	)
	switch driver {
	case DriverSQLite:
		root, dir = embeddedmigrations.SqliteMigrations, "sqlite"
	case DriverPostgres:
		root, dir = embeddedmigrations.PostgresMigrations, "postgres"
	case DriverSQLServer:
		root, dir = embeddedmigrations.SqlserverMigrations, "sqlserver"
	default:
		return nil, fmt.Errorf("unsupported database driver for migrations: %s", driver)
	}
	return fs.Sub(root, dir)
}

func readMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		migrations = append(migrations, migration{
			id:       path.Base(name),
			checksum: hex.EncodeToString(sum[:]),
			body:     string(body),
		})
	}
	return migrations, nil
}

func trackingTableSQL(driver string) string {
	switch driver {
	case DriverSQLite:
		return `CREATE TABLE IF NOT EXISTS ` + MigrationsTable + ` (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL
		)`
	case DriverSQLServer:
		// SQL Server has no CREATE TABLE IF NOT EXISTS.
		return `IF OBJECT_ID(N'` + MigrationsTable + `', N'U') IS NULL
		CREATE TABLE ` + MigrationsTable + ` (
			migration_id NVARCHAR(255) PRIMARY KEY,
			checksum NVARCHAR(64) NOT NULL,
			applied_at DATETIME2 NOT NULL,
			execution_ms BIGINT NOT NULL
		)`
	default:
		return `CREATE TABLE IF NOT EXISTS ` + MigrationsTable + ` (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
			execution_ms BIGINT NOT NULL
		)`
	}
}

func appliedMigrations(ctx context.Context, db *sqlx.DB) (map[string]appliedMigration, error) {
	var rows []struct {
		ID          string `db:"migration_id"`
		Checksum    string `db:"checksum"`
		AppliedAt   string `db:"applied_at"`
		ExecutionMs int64  `db:"execution_ms"`
	}
	query := `SELECT migration_id, checksum, applied_at, execution_ms FROM ` + MigrationsTable
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	applied := make(map[string]appliedMigration, len(rows))
	for _, r := range rows {
		// sqlite stores RFC 3339 text; other drivers hand back a time that
		// database/sql formats as RFC 3339 with nanoseconds.
		at, _ := time.Parse(time.RFC3339Nano, r.AppliedAt)
		applied[r.ID] = appliedMigration{
			checksum:  r.Checksum,
			appliedAt: at,
			duration:  time.Duration(r.ExecutionMs) * time.Millisecond,
		}
	}
	return applied, nil
}

// applyMigration runs one file and records it in the same transaction.
func applyMigration(ctx context.Context, db *sqlx.DB, m migration) error {
	start := time.Now()
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: %w", m.id, err)
	}
	defer tx.Rollback()

	// lib/pq rejects several statements in one Exec.
	for i, stmt := range splitStatements(m.body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s statement %d: %w", m.id, i+1, err)
		}
	}

	var appliedAt any = start.UTC()
	if db.DriverName() == DriverSQLite {
		appliedAt = start.UTC().Format(time.RFC3339)
	}
	record := tx.Rebind(`INSERT INTO ` + MigrationsTable + ` (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, record, m.id, m.checksum, appliedAt, time.Since(start).Milliseconds()); err != nil {
		return fmt.Errorf("migration %s: record: %w", m.id, err)
	}
	return tx.Commit()
}

// splitStatements splits a migration body on semicolons, dropping "--"
// comment lines and empty fragments.
func splitStatements(body string) []string {
	var out []string
	for _, stmt := range strings.Split(body, ";") {
		lines := strings.Split(stmt, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			kept = append(kept, line)
		}
		if s := strings.TrimSpace(strings.Join(kept, "\n")); s != "" {
			out = append(out, s)
		}
	}
	return out
}
