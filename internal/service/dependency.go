// dependency.go — зависимости журнала от справочников: счётчик использования,
// перенос ссылок с деактивацией и массовая деактивация.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
)

// DependencyService — сервис зависимостей записей журнала от справочников.
type DependencyService struct {
	tx      *repository.TxRunner
	usage   repository.UsageRepository
	refs    repository.ReferenceRepository
	changes Invalidator
	logger  *slog.Logger
}

// NewDependencyService создаёт сервис зависимостей.
// changes может быть nil.
func NewDependencyService(tx *repository.TxRunner, changes Invalidator, logger *slog.Logger) *DependencyService {
	return &DependencyService{
		tx:      tx,
		usage:   repository.NewUsageRepository(tx.DB()),
		refs:    repository.NewReferenceRepository(tx.DB()),
		changes: changes,
		logger:  logger.With(slog.String("component", "dependency_service")),
	}
}

// UsageCount возвращает число записей журнала, ссылающихся на строку справочника.
func (s *DependencyService) UsageCount(ctx context.Context, kind model.Kind, id int64) (int, error) {
	if _, err := s.refs.NameByID(ctx, kind, id); err != nil {
		return 0, mapRepoError(err, fmt.Sprintf("%s %d", kind, id))
	}
	return s.usage.Count(ctx, kind, id)
}

// ReplaceAndDeactivate в одной транзакции переносит ссылки журнала на replacement
// (или отвязывает их, если replacement == nil) и деактивирует строку id.
// Возвращает число затронутых записей журнала.
func (s *DependencyService) ReplaceAndDeactivate(ctx context.Context, kind model.Kind, id int64, replacement *int64) (int64, error) {
	if replacement != nil && *replacement == id {
		return 0, validationf("строка не может заменить саму себя")
	}

	var affected int64
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		refs := repository.NewReferenceRepository(tx)
		usage := repository.NewUsageRepository(tx)

		if _, err := refs.NameByID(ctx, kind, id); err != nil {
			return mapRepoError(err, fmt.Sprintf("%s %d", kind, id))
		}

		var err error
		if replacement != nil {
			name, nerr := refs.NameByID(ctx, kind, *replacement)
			if nerr != nil {
				return validationf("замена %s %d не найдена", kind, *replacement)
			}
			affected, err = usage.Reassign(ctx, kind, id, *replacement, name)
		} else {
			affected, err = usage.Detach(ctx, kind, id)
		}
		if err != nil {
			return err
		}

		return refs.Deactivate(ctx, kind, id)
	})
	if err != nil {
		return 0, err
	}

	notifyChange(s.changes)
	attrs := []any{
		slog.String("kind", string(kind)),
		slog.Int64("id", id),
		slog.Int64("affected", affected),
	}
	if replacement != nil {
		attrs = append(attrs, slog.Int64("replacement_id", *replacement))
	}
	s.logger.Info("Ссылки перенесены, строка деактивирована", attrs...)
	return affected, nil
}

// BulkDeactivate деактивирует набор строк в одной транзакции.
// Пустой набор — ошибка валидации без изменений.
func (s *DependencyService) BulkDeactivate(ctx context.Context, kind model.Kind, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, validationf("пустой список id")
	}

	var affected int64
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		affected, err = repository.NewReferenceRepository(tx).BulkDeactivate(ctx, kind, ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	notifyChange(s.changes)
	s.logger.Info("Массовая деактивация",
		slog.String("kind", string(kind)),
		slog.Int("requested", len(ids)),
		slog.Int64("affected", affected),
	)
	return affected, nil
}
