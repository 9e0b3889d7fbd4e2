// Точка входа FabTrack — учёт расхода материалов мастерской.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/arturkryukov/fabtrack/internal/api/handlers"
	"github.com/arturkryukov/fabtrack/internal/config"
	"github.com/arturkryukov/fabtrack/internal/database"
	"github.com/arturkryukov/fabtrack/internal/repository"
	"github.com/arturkryukov/fabtrack/internal/server"
	"github.com/arturkryukov/fabtrack/internal/service"
	"github.com/arturkryukov/fabtrack/internal/storage/filestore"
	"github.com/arturkryukov/fabtrack/internal/storage/offsite"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("FabTrack запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_path", cfg.DBPath),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка запуска", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("FabTrack остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация компонентов ---

	// 1. Миграции и хранилище
	if err := database.Migrate(cfg.DBPath, logger); err != nil {
		return err
	}
	db, err := database.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	txRunner := repository.NewTxRunner(db)

	// 2. Файловое хранилище изображений
	uploadStore, err := filestore.New(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища изображений: %w", err)
	}

	// 3. Внешнее зеркало копий (опционально)
	mirror, err := newOffsite(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 4. Сервисы. Статистика получает уведомления об изменениях от всех писателей.
	stats := service.NewStatsService(db, cfg.StatsCacheSize, cfg.StatsCacheTTL, logger)
	refs := service.NewReferenceService(txRunner, stats, logger)
	ledger := service.NewLedgerService(txRunner, stats, logger)
	deps := service.NewDependencyService(txRunner, stats, logger)
	transfer := service.NewTransferService(txRunner, refs, logger)
	uploads := service.NewUploadService(uploadStore, refs, cfg.UploadMaxBytes, cfg.ImageMaxSide, logger)
	backups := service.NewBackupService(db, service.BackupConfig{
		DBPath:        cfg.DBPath,
		Dir:           cfg.BackupDir,
		SettingsPath:  cfg.BackupSettingsPath,
		CheckInterval: cfg.BackupCheckInterval,
	}, mirror, stats, logger)
	demo := service.NewDemoService(txRunner, ledger, backups, cfg.DBPath, stats, nil, logger)

	// 5. Фоновые процессы
	backups.Start(ctx)
	defer backups.Stop()

	// 6. Handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(database.NewReadinessChecker(db)),
		handlers.NewReferenceHandler(refs, deps, logger),
		handlers.NewConsumptionHandler(ledger, logger),
		handlers.NewStatsHandler(stats, logger),
		handlers.NewTransferHandler(transfer, logger),
		handlers.NewUploadHandler(uploads, cfg.UploadMaxBytes, logger),
		handlers.NewMaintenanceHandler(demo, logger),
		handlers.NewBackupHandler(backups, logger),
	)

	// 7. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}

// newOffsite создаёт зеркало копий в S3, если задан бакет.
// Возвращает nil-интерфейс, когда зеркало отключено.
func newOffsite(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.OffsiteStore, error) {
	if !cfg.OffsiteEnabled() {
		return nil, nil
	}
	store, err := offsite.New(ctx, offsite.Config{
		Bucket:    cfg.BackupS3Bucket,
		Prefix:    cfg.BackupS3Prefix,
		Region:    cfg.BackupS3Region,
		Endpoint:  cfg.BackupS3Endpoint,
		PathStyle: cfg.BackupS3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации S3-зеркала: %w", err)
	}
	logger.Info("Зеркало резервных копий в S3 включено",
		slog.String("bucket", store.Bucket()),
	)
	return store, nil
}
