package repository

import (
	"context"
	"fmt"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
)

// UsageRepository — ссылки журнала расхода на строки справочников.
type UsageRepository interface {
	// Count возвращает число записей журнала, ссылающихся на строку справочника.
	Count(ctx context.Context, kind model.Kind, id int64) (int, error)
	// Reassign переносит ссылки с from на to и обновляет снимок имени.
	Reassign(ctx context.Context, kind model.Kind, from, to int64, toName string) (int64, error)
	// Detach обнуляет внешний ключ, оставляя снимок имени без изменений.
	Detach(ctx context.Context, kind model.Kind, id int64) (int64, error)
}

// usageRepo — реализация UsageRepository.
type usageRepo struct {
	db DBTX
}

// NewUsageRepository создаёт репозиторий ссылок журнала.
func NewUsageRepository(db DBTX) UsageRepository {
	return &usageRepo{db: db}
}

func (r *usageRepo) Count(ctx context.Context, kind model.Kind, id int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM consumptions WHERE %s = ?`, kind.FKColumn()), id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта использования %s: %w", kind, err)
	}
	return n, nil
}

func (r *usageRepo) Reassign(ctx context.Context, kind model.Kind, from, to int64, toName string) (int64, error) {
	query := fmt.Sprintf(`UPDATE consumptions SET %s = ?, %s = ?, updated_at = ? WHERE %s = ?`,
		kind.FKColumn(), kind.SnapshotColumn(), kind.FKColumn())

	res, err := r.db.ExecContext(ctx, query, to, toName, now(), from)
	if err != nil {
		return 0, fmt.Errorf("ошибка переноса ссылок %s: %w", kind, err)
	}
	return res.RowsAffected()
}

func (r *usageRepo) Detach(ctx context.Context, kind model.Kind, id int64) (int64, error) {
	query := fmt.Sprintf(`UPDATE consumptions SET %s = NULL, updated_at = ? WHERE %s = ?`,
		kind.FKColumn(), kind.FKColumn())

	res, err := r.db.ExecContext(ctx, query, now(), id)
	if err != nil {
		return 0, fmt.Errorf("ошибка отвязки ссылок %s: %w", kind, err)
	}
	return res.RowsAffected()
}
