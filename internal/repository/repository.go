// Пакет repository — слой доступа к данным SQLite.
// Все запросы — чистый SQL через database/sql, без ORM.
// Имена таблиц и колонок в динамическом SQL берутся только из model.Kind.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// timestampLayout — формат серверных отметок created_at/updated_at.
const timestampLayout = "2006-01-02 15:04:05"

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *sql.DB, так и *sql.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	db *sql.DB
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

// DB возвращает пул соединений для операций вне транзакции.
func (r *TxRunner) DB() *sql.DB {
	return r.db
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности SQLite.
func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// now возвращает серверную отметку времени в формате хранилища.
func now() string {
	return time.Now().Format(timestampLayout)
}

// placeholders возвращает "?, ?, ?" для n параметров.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
