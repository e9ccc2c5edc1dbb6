package store

import (
	"database/sql"
	"fmt"
	"slices"
)

// Migration is one schema step of the records database.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus reports the applied and available schema versions.
type MigrationStatus struct {
	CurrentVersion   int             `json:"current_version" yaml:"current_version"`
	AvailableVersion int             `json:"available_version" yaml:"available_version"`
	Pending          []MigrationInfo `json:"pending" yaml:"pending"`
}

// MigrationInfo describes a single migration.
type MigrationInfo struct {
	Version     int    `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

// Versions must be strictly increasing.
var migrations = []Migration{
	{
		Version:     1,
		Description: "records table keyed by record path",
		SQL: `
CREATE TABLE IF NOT EXISTS records (
  path TEXT PRIMARY KEY,
  collection TEXT NOT NULL,
  doc TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`,
	},
	{
		Version:     2,
		Description: "record update time index for verify scans",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_records_updated_at ON records(updated_at DESC);
`,
	},
}

const schemaMigrationsSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

func pendingAfter(version int) []Migration {
	idx := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version > version })
	if idx < 0 {
		return nil
	}
	return migrations[idx:]
}

func hasTable(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	return n > 0, err
}

// appliedVersion returns the highest recorded version. A database without
// schema_migrations is at version 0.
func appliedVersion(db *sql.DB) (int, error) {
	ok, err := hasTable(db, "schema_migrations")
	if err != nil || !ok {
		return 0, err
	}
	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// runMigrations brings the schema to the latest version, one transaction per step.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schemaMigrationsSQL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	current, err := appliedVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > latestVersion() {
		return fmt.Errorf("schema version %d is newer than this binary (%d)", current, latestVersion())
	}
	for _, m := range pendingAfter(current) {
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

// MigrationPlan reports pending migrations. It does not write to db.
func MigrationPlan(db *sql.DB) (*MigrationStatus, error) {
	current, err := appliedVersion(db)
	if err != nil {
		return nil, err
	}
	status := &MigrationStatus{CurrentVersion: current, AvailableVersion: latestVersion()}
	for _, m := range pendingAfter(current) {
		status.Pending = append(status.Pending, MigrationInfo{Version: m.Version, Description: m.Description})
	}
	return status, nil
}
