// fabtrackctl — утилита обслуживания хранилища FabTrack: миграции,
// сброс, демо-данные и резервные копии без запуска HTTP-сервера.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arturkryukov/fabtrack/internal/config"
	"github.com/arturkryukov/fabtrack/internal/database"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
	"github.com/arturkryukov/fabtrack/internal/service"
	"github.com/arturkryukov/fabtrack/internal/storage/offsite"
)

// env — общее окружение команд: конфигурация, логгер и открытое хранилище.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fabtrackctl",
		Short:        "Обслуживание хранилища FabTrack",
		Version:      config.Version,
		SilenceUsage: true,
	}

	root.AddCommand(
		newMigrateCmd(),
		newResetCmd(),
		newDemoCmd(),
		newBackupCmd(),
	)
	return root
}

// openEnv загружает конфигурацию, применяет миграции и открывает хранилище.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	logger := config.SetupLogger(cfg)

	if err := database.Migrate(cfg.DBPath, logger); err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}

func (e *env) close() {
	_ = e.db.Close()
}

// backups создаёт менеджер копий с зеркалом S3, если оно настроено.
func (e *env) backups(ctx context.Context) (*service.BackupService, error) {
	var mirror service.OffsiteStore
	if e.cfg.OffsiteEnabled() {
		store, err := newOffsite(ctx, e.cfg)
		if err != nil {
			return nil, err
		}
		mirror = store
	}
	return service.NewBackupService(e.db, service.BackupConfig{
		DBPath:        e.cfg.DBPath,
		Dir:           e.cfg.BackupDir,
		SettingsPath:  e.cfg.BackupSettingsPath,
		CheckInterval: e.cfg.BackupCheckInterval,
	}, mirror, nil, e.logger), nil
}

// demo создаёт сервис сброса и демо-данных.
func (e *env) demo(backups service.BackupCreator) *service.DemoService {
	tx := repository.NewTxRunner(e.db)
	ledger := service.NewLedgerService(tx, nil, e.logger)
	return service.NewDemoService(tx, ledger, backups, e.cfg.DBPath, nil, nil, e.logger)
}

func newOffsite(ctx context.Context, cfg *config.Config) (*offsite.Store, error) {
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
	return store, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			cmd.Printf("Схема хранилища %s актуальна\n", e.cfg.DBPath)
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var confirmation string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Удалить все данные (перед сбросом создаётся копия pre_reset)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			backups, err := e.backups(ctx)
			if err != nil {
				return err
			}
			if err := e.demo(backups).Reset(ctx, confirmation); err != nil {
				return err
			}
			cmd.Println("Хранилище сброшено")
			return nil
		},
	}
	cmd.Flags().StringVar(&confirmation, "confirm", "", fmt.Sprintf("фраза подтверждения (%s)", service.ResetConfirmation))
	return cmd
}

func newDemoCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Сгенерировать демонстрационные записи журнала",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			n, err := e.demo(nil).GenerateDemo(ctx, count)
			if err != nil {
				return err
			}
			cmd.Printf("Создано записей: %d\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", service.DefaultDemoCount, "число записей")
	return cmd
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Резервные копии хранилища",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Создать ручную копию",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			backups, err := e.backups(ctx)
			if err != nil {
				return err
			}
			info, err := backups.Create(ctx, model.BackupLabelManual)
			if err != nil {
				return err
			}
			cmd.Printf("Копия создана: %s (%d байт)\n", info.Name, info.SizeBytes)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Список локальных копий (новые первыми)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			backups, err := e.backups(ctx)
			if err != nil {
				return err
			}
			items, err := backups.List()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ИМЯ\tМЕТКА\tРАЗМЕР\tСОЗДАНА")
			for _, b := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.Name, b.Label, b.SizeBytes, b.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	remote := &cobra.Command{
		Use:   "remote",
		Short: "Список копий во внешнем S3-зеркале",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("ошибка конфигурации: %w", err)
			}
			if !cfg.OffsiteEnabled() {
				return fmt.Errorf("S3-зеркало не настроено (FT_BACKUP_S3_BUCKET)")
			}
			store, err := newOffsite(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			objects, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ИМЯ\tРАЗМЕР")
			for _, o := range objects {
				fmt.Fprintf(tw, "%s\t%d\n", o.Name, o.Size)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(create, list, remote)
	return cmd
}
