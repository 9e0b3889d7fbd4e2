// Пакет database — подключение к встроенному хранилищу SQLite (modernc.org/sqlite),
// применение версионных миграций (golang-migrate), полный сброс схемы
// и проверка готовности.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DriverName — имя драйвера database/sql, регистрируемого modernc.org/sqlite.
const DriverName = "sqlite"

// CoreTables — таблицы, без которых файл не считается хранилищем FabTrack.
var CoreTables = []string{
	"preparers",
	"activity_types",
	"machines",
	"materials",
	"classes",
	"referents",
	"consumptions",
}

// AppTables — все таблицы приложения в порядке зависимостей
// (родительские раньше дочерних).
var AppTables = []string{
	"preparers",
	"activity_types",
	"machines",
	"materials",
	"classes",
	"referents",
	"material_machines",
	"consumptions",
}

// ErrMissingTables — файл не содержит обязательных таблиц.
var ErrMissingTables = errors.New("отсутствуют обязательные таблицы")

// DSN формирует строку подключения modernc.org/sqlite с прагмами,
// которые применяются к каждому соединению пула.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open открывает файл хранилища (создавая директорию при необходимости)
// и проверяет соединение.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", dir, err)
		}
	}

	db, err := sql.Open(DriverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к SQLite %s: %w", path, err)
	}

	logger.Info("Хранилище SQLite открыто", slog.String("path", path))
	return db, nil
}

// Migrate применяет SQL-миграции из embedded FS к файлу хранилища.
// Использует golang-migrate с драйвером sqlite (modernc).
func Migrate(path string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("ошибка определения пути хранилища: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию хранилища: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+abs)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.String("path", abs),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// Reset удаляет все таблицы приложения вместе с таблицей версий миграций
// и заново применяет миграции. Каталог восстанавливается миграцией засева.
func Reset(ctx context.Context, db *sql.DB, path string, logger *slog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции сброса: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Дочерние таблицы удаляются раньше родительских
	for i := len(AppTables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+AppTables[i]); err != nil {
			return fmt.Errorf("ошибка удаления таблицы %s: %w", AppTables[i], err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS schema_migrations"); err != nil {
		return fmt.Errorf("ошибка удаления таблицы версий: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации сброса: %w", err)
	}

	logger.Warn("Таблицы хранилища удалены, повторное применение миграций")
	return Migrate(path, logger)
}

// VerifyCoreTables проверяет наличие обязательных таблиц в схеме.
// schema — имя схемы SQLite ("main" или имя присоединённой базы).
func VerifyCoreTables(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, schema string) error {
	rows, err := q.QueryContext(ctx,
		"SELECT name FROM "+schema+".sqlite_master WHERE type = 'table'")
	if err != nil {
		return fmt.Errorf("ошибка чтения схемы: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("ошибка чтения схемы: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ошибка чтения схемы: %w", err)
	}

	var missing []string
	for _, t := range CoreTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingTables, missing)
	}
	return nil
}

// ReadinessChecker — проверка готовности SQLite для health endpoint.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	db *sql.DB
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(db *sql.DB) *ReadinessChecker {
	return &ReadinessChecker{db: db}
}

// CheckReady проверяет подключение к SQLite через ping.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return "fail", fmt.Sprintf("SQLite недоступен: %v", err)
	}
	return "ok", "хранилище доступно"
}
