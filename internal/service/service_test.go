package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/arturkryukov/fabtrack/internal/database"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
)

// testEnv — хранилище с применёнными миграциями и набор сервисов поверх него.
type testEnv struct {
	path   string
	db     *sql.DB
	tx     *repository.TxRunner
	logger *slog.Logger
	refs   *ReferenceService
	ledger *LedgerService
	deps   *DependencyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "fabtrack.db")

	if err := database.Migrate(path, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	db, err := database.Open(context.Background(), path, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tx := repository.NewTxRunner(db)
	ledger := NewLedgerService(tx, nil, logger)
	ledger.now = func() time.Time { return time.Date(2026, 3, 10, 14, 30, 0, 0, time.Local) }

	return &testEnv{
		path:   path,
		db:     db,
		tx:     tx,
		logger: logger,
		refs:   NewReferenceService(tx, nil, logger),
		ledger: ledger,
		deps:   NewDependencyService(tx, nil, logger),
	}
}

// mustAdd добавляет строку справочника и возвращает id.
func (e *testEnv) mustAdd(t *testing.T, ref model.Reference) int64 {
	t.Helper()
	id, err := e.refs.Add(context.Background(), ref)
	if err != nil {
		t.Fatalf("Add(%s %q): %v", ref.Kind(), ref.DisplayName(), err)
	}
	return id
}

// mustID возвращает id строки засеянного каталога по имени.
func (e *testEnv) mustID(t *testing.T, kind model.Kind, name string) int64 {
	t.Helper()
	id, err := repository.NewReferenceRepository(e.db).IDByName(context.Background(), kind, name)
	if err != nil {
		t.Fatalf("IDByName(%s, %q): %v", kind, name, err)
	}
	return id
}

// countConsumptions возвращает число записей журнала.
func (e *testEnv) countConsumptions(t *testing.T) int {
	t.Helper()
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM consumptions`).Scan(&n); err != nil {
		t.Fatalf("ошибка подсчёта записей: %v", err)
	}
	return n
}

// countingInvalidator считает вызовы Invalidate.
type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate() { c.calls++ }
