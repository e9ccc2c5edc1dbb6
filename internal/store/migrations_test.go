package store

import (
	"database/sql"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func testRawDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrationsFreshDB(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	version, err := appliedVersion(db)
	if err != nil {
		t.Fatalf("applied version: %v", err)
	}
	if version != latestVersion() {
		t.Fatalf("expected version %d, got %d", latestVersion(), version)
	}

	for _, name := range []string{"records", "schema_migrations"} {
		ok, err := hasTable(db, name)
		if err != nil || !ok {
			t.Fatalf("expected table %s, ok=%v err=%v", name, ok, err)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_records_updated_at'").Scan(&count); err != nil {
		t.Fatalf("check index: %v", err)
	}
	if count != 1 {
		t.Fatal("updated_at index not created")
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := testRawDB(t)

	for i := 0; i < 2; i++ {
		if err := runMigrations(db); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&rows); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if rows != len(migrations) {
		t.Fatalf("expected %d recorded versions, got %d", len(migrations), rows)
	}
}

func TestRunMigrationsRejectsNewerSchema(t *testing.T) {
	db := testRawDB(t)
	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", latestVersion()+1); err != nil {
		t.Fatalf("insert version: %v", err)
	}

	err := runMigrations(db)
	if err == nil || !strings.Contains(err.Error(), "newer than this binary") {
		t.Fatalf("expected newer schema error, got %v", err)
	}
}

func TestMigrationPlan(t *testing.T) {
	db := testRawDB(t)

	plan, err := MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CurrentVersion != 0 || plan.AvailableVersion != 2 || len(plan.Pending) != 2 {
		t.Fatalf("unexpected fresh plan: %+v", plan)
	}
	if ok, _ := hasTable(db, "schema_migrations"); ok {
		t.Fatal("plan must not create schema_migrations")
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	plan, err = MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan after run: %v", err)
	}
	if plan.CurrentVersion != 2 || len(plan.Pending) != 0 {
		t.Fatalf("expected nothing pending, got %+v", plan)
	}
}

func TestPendingAfter(t *testing.T) {
	tests := []struct {
		version int
		want    int
	}{
		{0, 2},
		{1, 1},
		{2, 0},
		{5, 0},
	}
	for _, tt := range tests {
		if got := len(pendingAfter(tt.version)); got != tt.want {
			t.Fatalf("pendingAfter(%d): expected %d, got %d", tt.version, tt.want, got)
		}
	}
}
