// Package sqlbase holds the schema versioning shared by SQL backends.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
)

// VersionTable records which migrations were applied.
const VersionTable = "stepflow_schema_versions"

// migrationLockID keys the advisory lock that serializes concurrent starts.
const migrationLockID = 7_310_412

// Migration is one forward-only schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator sorts migrations by version. Versions must be unique and positive.
func NewMigrator(logger *slog.Logger, db *sql.DB, migrations []Migration) (*Migrator, error) {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })

	for i, migration := range sorted {
		if migration.Version <= 0 {
			return nil, fmt.Errorf("migration %q has invalid version %d", migration.Name, migration.Version)
		}

		if i > 0 && sorted[i-1].Version == migration.Version {
			return nil, fmt.Errorf("duplicate migration version %d", migration.Version)
		}
	}

	return &Migrator{
		db:         db,
		logger:     logger.With("module", "migrator"),
		migrations: sorted,
	}, nil
}

func (m *Migrator) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// Pending lists, in order, the migrations newer than applied.
func (m *Migrator) Pending(applied int) []Migration {
	i, _ := slices.BinarySearchFunc(m.migrations, applied+1, func(migration Migration, version int) int {
		return migration.Version - version
	})

	return m.migrations[i:]
}

// Up brings the schema to the latest version while holding an advisory lock,
// so several API replicas may start against the same database.
func (m *Migrator) Up(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to lock schema: %w", err)
	}

	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			m.logger.WarnContext(ctx, "Failed to release schema lock", "error", err)
		}
	}()

	_, err = conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+VersionTable+` (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", VersionTable, err)
	}

	applied, err := currentVersion(ctx, conn)
	if err != nil {
		return err
	}

	pending := m.Pending(applied)
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "Schema is up to date", "version", applied)

		return nil
	}

	for _, migration := range pending {
		if err := m.apply(ctx, conn, migration); err != nil {
			return err
		}
	}

	m.logger.InfoContext(ctx, "Schema migrated", "from", applied, "to", m.LatestVersion())

	return nil
}

// Version returns the highest applied schema version.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return currentVersion(ctx, conn)
}

func currentVersion(ctx context.Context, conn *sql.Conn) (int, error) {
	var version int

	err := conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM "+VersionTable).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	return version, nil
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, migration Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO "+VersionTable+" (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d (%s): record: %w", migration.Version, migration.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d (%s): commit: %w", migration.Version, migration.Name, err)
	}

	m.logger.InfoContext(ctx, "Applied migration", "version", migration.Version, "name", migration.Name)

	return nil
}
