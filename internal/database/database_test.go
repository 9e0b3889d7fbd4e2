package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openMigrated создаёт временное хранилище с применёнными миграциями.
func openMigrated(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fabtrack.db")

	if err := Migrate(path, testLogger()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	db, err := Open(context.Background(), path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("COUNT(%s): %v", table, err)
	}
	return n
}

func TestDSN_ContainsPragmas(t *testing.T) {
	dsn := DSN("/tmp/fab.db")

	if !strings.HasPrefix(dsn, "file:/tmp/fab.db?") {
		t.Errorf("DSN = %q, ожидается префикс file:/tmp/fab.db?", dsn)
	}
	for _, want := range []string{"foreign_keys%281%29", "journal_mode%28WAL%29", "busy_timeout%285000%29", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN = %q, не содержит %q", dsn, want)
		}
	}
}

func TestMigrate_CreatesSchemaAndCatalog(t *testing.T) {
	db, _ := openMigrated(t)

	if err := VerifyCoreTables(context.Background(), db, "main"); err != nil {
		t.Fatalf("VerifyCoreTables: %v", err)
	}

	if n := countRows(t, db, "activity_types"); n != 7 {
		t.Errorf("activity_types = %d, ожидается 7", n)
	}
	if n := countRows(t, db, "machines"); n != 13 {
		t.Errorf("machines = %d, ожидается 13", n)
	}
	if n := countRows(t, db, "materials"); n == 0 {
		t.Error("каталог материалов пуст")
	}
	if n := countRows(t, db, "material_machines"); n == 0 {
		t.Error("связи материал-станок не созданы")
	}
	for _, table := range []string{"preparers", "classes", "referents", "consumptions"} {
		if n := countRows(t, db, table); n != 0 {
			t.Errorf("%s = %d, ожидается пустая таблица", table, n)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, path := openMigrated(t)

	if err := Migrate(path, testLogger()); err != nil {
		t.Fatalf("повторный Migrate: %v", err)
	}
	if n := countRows(t, db, "machines"); n != 13 {
		t.Errorf("machines после повторной миграции = %d, ожидается 13", n)
	}
}

func TestReset_RecreatesCatalogOnly(t *testing.T) {
	db, path := openMigrated(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "INSERT INTO classes (name) VALUES ('501')"); err != nil {
		t.Fatalf("insert class: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO consumptions (entry_at) VALUES ('2026-01-10')"); err != nil {
		t.Fatalf("insert consumption: %v", err)
	}

	if err := Reset(ctx, db, path, testLogger()); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if n := countRows(t, db, "classes"); n != 0 {
		t.Errorf("classes после сброса = %d, ожидается 0", n)
	}
	if n := countRows(t, db, "consumptions"); n != 0 {
		t.Errorf("consumptions после сброса = %d, ожидается 0", n)
	}
	if n := countRows(t, db, "machines"); n != 13 {
		t.Errorf("machines после сброса = %d, ожидается 13", n)
	}
}

func TestVerifyCoreTables_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := Open(context.Background(), path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE preparers (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create: %v", err)
	}

	err = VerifyCoreTables(context.Background(), db, "main")
	if !errors.Is(err, ErrMissingTables) {
		t.Fatalf("ожидается ErrMissingTables, получено %v", err)
	}
	if !strings.Contains(err.Error(), "consumptions") {
		t.Errorf("сообщение не называет отсутствующую таблицу: %v", err)
	}
}

func TestReadinessChecker(t *testing.T) {
	db, _ := openMigrated(t)

	status, _ := NewReadinessChecker(db).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady = %q, ожидается ok", status)
	}

	db.Close()
	status, _ = NewReadinessChecker(db).CheckReady()
	if status != "fail" {
		t.Errorf("CheckReady после Close = %q, ожидается fail", status)
	}
}
